// Package config loads the bridge configuration. Values start from
// defaults, are overlaid by an optional YAML file and finally by
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/tsappsrc/internal/appsrc"
	"github.com/zsiec/tsappsrc/internal/media"
)

// Environment variables read by Load.
const (
	EnvConfigPath  = "TSAPPSRC_CONFIG"
	EnvAPIAddr     = "API_ADDR"
	EnvAPITLS      = "API_TLS"
	EnvSRTAddr     = "SRT_ADDR"
	EnvWorkers     = "TSAPPSRC_WORKERS"
	EnvContext     = "APPSRC_CONTEXT"
	EnvContextWait = "APPSRC_CONTEXT_WAIT"
	EnvMaxBuffers  = "APPSRC_MAX_BUFFERS"
	EnvCaps        = "APPSRC_CAPS"
	EnvDoTimestamp = "APPSRC_DO_TIMESTAMP"
	EnvAcceptCaps  = "RELAY_ACCEPT_CAPS"
)

// FieldError reports a configuration value that could not be used.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Config is the complete process configuration.
type Config struct {
	APIAddr string        `yaml:"api_addr"`
	APITLS  bool          `yaml:"api_tls"`
	SRTAddr string        `yaml:"srt_addr"`
	Workers int           `yaml:"workers"`
	Element ElementConfig `yaml:"element"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Relay   RelayConfig   `yaml:"relay"`
}

// ElementConfig mirrors appsrc.Settings in a serialisable form.
type ElementConfig struct {
	Name        string        `yaml:"name"`
	Context     string        `yaml:"context"`
	ContextWait time.Duration `yaml:"context_wait"`
	Caps        string        `yaml:"caps"`
	MaxBuffers  int           `yaml:"max_buffers"`
	DoTimestamp bool          `yaml:"do_timestamp"`
}

// IngestConfig tunes how producers feed the element.
type IngestConfig struct {
	ChunkSize  int `yaml:"chunk_size"`
	MaxRetries int `yaml:"max_retries"`
}

// RelayConfig tunes downstream delivery.
type RelayConfig struct {
	ViewerBuffer int `yaml:"viewer_buffer"`
	// AcceptCaps restricts the formats the relay accepts. Empty accepts
	// anything.
	AcceptCaps string `yaml:"accept_caps"`
}

// Default returns the built-in configuration.
func Default() Config {
	s := appsrc.DefaultSettings()
	return Config{
		APIAddr: ":4444",
		SRTAddr: ":6000",
		Element: ElementConfig{
			Name:        "appsrc0",
			Context:     s.Context,
			ContextWait: s.ContextWait,
			MaxBuffers:  s.MaxBuffers,
			DoTimestamp: s.DoTimestamp,
		},
		Ingest: IngestConfig{
			ChunkSize:  7 * 188,
			MaxRetries: 50,
		},
		Relay: RelayConfig{
			ViewerBuffer: 256,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// TSAPPSRC_CONFIG (if set) and the environment.
func Load() (Config, error) {
	return LoadWith(os.Getenv(EnvConfigPath), os.LookupEnv)
}

// LoadWith is Load with an explicit file path and environment lookup. A
// missing file is not an error.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvAPIAddr, &c.APIAddr)
	str(EnvSRTAddr, &c.SRTAddr)
	str(EnvContext, &c.Element.Context)
	str(EnvCaps, &c.Element.Caps)
	str(EnvAcceptCaps, &c.Relay.AcceptCaps)

	if v, ok := lookup(EnvAPITLS); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &FieldError{Field: EnvAPITLS, Value: v, Err: err}
		}
		c.APITLS = b
	}
	if v, ok := lookup(EnvWorkers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &FieldError{Field: EnvWorkers, Value: v, Err: err}
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvContextWait); ok && v != "" {
		d, err := parseWait(v)
		if err != nil {
			return &FieldError{Field: EnvContextWait, Value: v, Err: err}
		}
		c.Element.ContextWait = d
	}
	if v, ok := lookup(EnvMaxBuffers); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &FieldError{Field: EnvMaxBuffers, Value: v, Err: err}
		}
		c.Element.MaxBuffers = n
	}
	if v, ok := lookup(EnvDoTimestamp); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &FieldError{Field: EnvDoTimestamp, Value: v, Err: err}
		}
		c.Element.DoTimestamp = b
	}
	return nil
}

// parseWait accepts a Go duration ("20ms") or a bare number of
// milliseconds ("20").
func parseWait(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// Validate checks values that would otherwise fail later at Prepare time.
func (c Config) Validate() error {
	if _, err := c.Settings(); err != nil {
		return err
	}
	if c.Ingest.ChunkSize < 1 {
		return &FieldError{Field: "ingest.chunk_size", Value: strconv.Itoa(c.Ingest.ChunkSize), Err: errors.New("must be positive")}
	}
	if c.Ingest.MaxRetries < 0 {
		return &FieldError{Field: "ingest.max_retries", Value: strconv.Itoa(c.Ingest.MaxRetries), Err: errors.New("must not be negative")}
	}
	if _, err := c.AcceptCaps(); err != nil {
		return err
	}
	if c.Relay.ViewerBuffer < 1 {
		return &FieldError{Field: "relay.viewer_buffer", Value: strconv.Itoa(c.Relay.ViewerBuffer), Err: errors.New("must be positive")}
	}
	return nil
}

// Settings converts the element section into appsrc settings.
func (c Config) Settings() (appsrc.Settings, error) {
	s := appsrc.Settings{
		Context:     c.Element.Context,
		ContextWait: c.Element.ContextWait,
		MaxBuffers:  c.Element.MaxBuffers,
		DoTimestamp: c.Element.DoTimestamp,
	}
	if c.Element.Caps != "" {
		caps, err := media.ParseCaps(c.Element.Caps)
		if err != nil {
			return appsrc.Settings{}, &FieldError{Field: "element.caps", Value: c.Element.Caps, Err: err}
		}
		s.Caps = caps
	}
	if err := s.Validate(); err != nil {
		return appsrc.Settings{}, &FieldError{Field: "element", Value: c.Element.Name, Err: err}
	}
	return s, nil
}

// AcceptCaps parses the relay's accepted formats. It returns nil when
// unrestricted.
func (c Config) AcceptCaps() (*media.Caps, error) {
	if c.Relay.AcceptCaps == "" {
		return nil, nil
	}
	caps, err := media.ParseCaps(c.Relay.AcceptCaps)
	if err != nil {
		return nil, &FieldError{Field: "relay.accept_caps", Value: c.Relay.AcceptCaps, Err: err}
	}
	return caps, nil
}
