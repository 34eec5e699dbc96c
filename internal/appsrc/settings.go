package appsrc

import (
	"fmt"
	"math"
	"time"

	"github.com/zsiec/tsappsrc/internal/media"
	"github.com/zsiec/tsappsrc/internal/sched"
)

// Default settings.
const (
	DefaultContext     = ""
	DefaultContextWait = time.Duration(0)
	DefaultMaxBuffers  = media.DefaultMaxBuffers
	DefaultDoTimestamp = false
)

// Settings configures an Element. Changes take effect on the next Prepare.
type Settings struct {
	// Context names the scheduling context to share with other elements.
	Context string
	// ContextWait throttles the streaming task to at most one activation
	// per interval. Must be within [0, 1s].
	ContextWait time.Duration
	// Caps, when set, is announced downstream before the first buffer.
	Caps *media.Caps
	// MaxBuffers bounds the number of queued items. Must be at least 1.
	MaxBuffers int
	// DoTimestamp stamps each buffer with the running time on arrival.
	DoTimestamp bool
}

// DefaultSettings returns the settings a new Element starts with.
func DefaultSettings() Settings {
	return Settings{
		Context:     DefaultContext,
		ContextWait: DefaultContextWait,
		MaxBuffers:  DefaultMaxBuffers,
		DoTimestamp: DefaultDoTimestamp,
	}
}

// Validate checks the values Prepare depends on.
func (s Settings) Validate() error {
	if s.MaxBuffers < 1 || s.MaxBuffers > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxBuffers, s.MaxBuffers)
	}
	if s.ContextWait < 0 || s.ContextWait > sched.MaxWait {
		return fmt.Errorf("%w: %v", ErrInvalidContextWait, s.ContextWait)
	}
	return nil
}

// Settings returns a copy of the current settings.
func (e *Element) Settings() Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.settings
}

// SetSettings replaces all settings at once.
func (e *Element) SetSettings(s Settings) {
	e.settingsMu.Lock()
	e.settings = s
	e.settingsMu.Unlock()
}

// SetContext sets the scheduling context name.
func (e *Element) SetContext(name string) {
	e.settingsMu.Lock()
	e.settings.Context = name
	e.settingsMu.Unlock()
}

// SetContextWait sets the poll throttle.
func (e *Element) SetContextWait(d time.Duration) {
	e.settingsMu.Lock()
	e.settings.ContextWait = d
	e.settingsMu.Unlock()
}

// SetCaps sets the format announced in the prelude. Nil announces nothing.
func (e *Element) SetCaps(c *media.Caps) {
	e.settingsMu.Lock()
	e.settings.Caps = c
	e.settingsMu.Unlock()
}

// SetMaxBuffers sets the queue capacity.
func (e *Element) SetMaxBuffers(n int) {
	e.settingsMu.Lock()
	e.settings.MaxBuffers = n
	e.settingsMu.Unlock()
}

// SetDoTimestamp enables or disables timestamping on arrival.
func (e *Element) SetDoTimestamp(v bool) {
	e.settingsMu.Lock()
	e.settings.DoTimestamp = v
	e.settingsMu.Unlock()
}
