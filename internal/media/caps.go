package media

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrInvalidCaps is returned by ParseCaps for malformed descriptions.
var ErrInvalidCaps = errors.New("media: invalid caps")

// Structure is one media type alternative with its fixed field values.
type Structure struct {
	Name   string
	Fields map[string]string
}

// Caps describes the set of formats a stream may carry. A Caps value is
// either ANY, EMPTY (no structures) or an ordered list of alternatives.
// Caps are treated as immutable once shared.
type Caps struct {
	any        bool
	structures []Structure
}

// IntersectMode selects the ordering of Intersect results.
type IntersectMode int

const (
	// IntersectZigZag interleaves alternatives from both sides.
	IntersectZigZag IntersectMode = iota
	// IntersectFirst keeps the receiver's preference order.
	IntersectFirst
)

// NewCaps returns caps holding the given alternatives in order.
func NewCaps(structures ...Structure) *Caps {
	c := &Caps{structures: make([]Structure, 0, len(structures))}
	for _, s := range structures {
		c.structures = append(c.structures, s.clone())
	}
	return c
}

// NewSimpleCaps returns caps with a single structure built from
// alternating key/value pairs.
func NewSimpleCaps(name string, kv ...string) *Caps {
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return &Caps{structures: []Structure{{Name: name, Fields: fields}}}
}

// AnyCaps returns caps compatible with every format.
func AnyCaps() *Caps {
	return &Caps{any: true}
}

// IsAny reports whether c accepts every format.
func (c *Caps) IsAny() bool {
	return c != nil && c.any
}

// IsEmpty reports whether c accepts no format at all.
func (c *Caps) IsEmpty() bool {
	return c == nil || (!c.any && len(c.structures) == 0)
}

// Structures returns a copy of the alternatives held by c.
func (c *Caps) Structures() []Structure {
	if c == nil {
		return nil
	}
	out := make([]Structure, len(c.structures))
	for i, s := range c.structures {
		out[i] = s.clone()
	}
	return out
}

// Copy returns a deep copy of c.
func (c *Caps) Copy() *Caps {
	if c == nil {
		return nil
	}
	if c.any {
		return AnyCaps()
	}
	return NewCaps(c.structures...)
}

// Equal reports whether c and other describe the same formats in the same order.
func (c *Caps) Equal(other *Caps) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.any != other.any || len(c.structures) != len(other.structures) {
		return false
	}
	for i := range c.structures {
		if !c.structures[i].equal(other.structures[i]) {
			return false
		}
	}
	return true
}

// Intersect returns the formats accepted by both c and other.
func (c *Caps) Intersect(other *Caps, mode IntersectMode) *Caps {
	switch {
	case c.IsEmpty() || other.IsEmpty():
		return NewCaps()
	case c.any:
		return other.Copy()
	case other.any:
		return c.Copy()
	}

	out := NewCaps()
	if mode == IntersectFirst {
		for _, a := range c.structures {
			for _, b := range other.structures {
				if s, ok := a.intersect(b); ok {
					out.appendUnique(s)
				}
			}
		}
		return out
	}

	// Walk anti-diagonals so both sides' preferences are honoured evenly.
	n, m := len(c.structures), len(other.structures)
	for d := 0; d < n+m-1; d++ {
		for i := min(d, n-1); i >= 0 && d-i < m; i-- {
			if s, ok := c.structures[i].intersect(other.structures[d-i]); ok {
				out.appendUnique(s)
			}
		}
	}
	return out
}

func (c *Caps) appendUnique(s Structure) {
	for _, existing := range c.structures {
		if existing.equal(s) {
			return
		}
	}
	c.structures = append(c.structures, s)
}

func (c *Caps) String() string {
	switch {
	case c == nil:
		return "NONE"
	case c.any:
		return "ANY"
	case len(c.structures) == 0:
		return "EMPTY"
	}
	parts := make([]string, len(c.structures))
	for i, s := range c.structures {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}

// ParseCaps parses the textual form produced by Caps.String:
// "ANY", "EMPTY", or structures separated by ';', each a media type name
// followed by comma-separated key=value fields.
func ParseCaps(s string) (*Caps, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "ANY":
		return AnyCaps(), nil
	case "EMPTY", "":
		return NewCaps(), nil
	}

	c := NewCaps()
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tokens := strings.Split(part, ",")
		name := strings.TrimSpace(tokens[0])
		if name == "" {
			return nil, fmt.Errorf("%w: missing media type in %q", ErrInvalidCaps, part)
		}
		st := Structure{Name: name, Fields: make(map[string]string)}
		for _, tok := range tokens[1:] {
			key, value, ok := strings.Cut(tok, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return nil, fmt.Errorf("%w: bad field %q", ErrInvalidCaps, tok)
			}
			st.Fields[key] = strings.TrimSpace(value)
		}
		c.structures = append(c.structures, st)
	}
	return c, nil
}

func (s Structure) clone() Structure {
	return Structure{Name: s.Name, Fields: maps.Clone(s.Fields)}
}

func (s Structure) equal(o Structure) bool {
	return s.Name == o.Name && maps.Equal(s.Fields, o.Fields)
}

// intersect merges two structures when they share a media type and agree
// on every common field.
func (s Structure) intersect(o Structure) (Structure, bool) {
	if s.Name != o.Name {
		return Structure{}, false
	}
	merged := make(map[string]string, len(s.Fields)+len(o.Fields))
	for k, v := range s.Fields {
		merged[k] = v
	}
	for k, v := range o.Fields {
		if existing, ok := merged[k]; ok && existing != v {
			return Structure{}, false
		}
		merged[k] = v
	}
	return Structure{Name: s.Name, Fields: merged}, true
}

func (s Structure) String() string {
	if len(s.Fields) == 0 {
		return s.Name
	}
	keys := slices.Sorted(maps.Keys(s.Fields))
	var b strings.Builder
	b.WriteString(s.Name)
	for _, k := range keys {
		b.WriteString(", ")
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Fields[k])
	}
	return b.String()
}
