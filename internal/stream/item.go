// Package stream implements the bounded channel that carries items from
// producers to the application source's streaming task.
package stream

import (
	"fmt"

	"github.com/zsiec/tsappsrc/internal/media"
)

// Item is one unit flowing through the channel: exactly one of Buffer or
// Event is set. Ownership passes from the producer to the channel and then
// to the consumer, which handles it exactly once.
type Item struct {
	Buffer *media.Buffer
	Event  media.Event
}

// BufferItem wraps a payload buffer.
func BufferItem(b *media.Buffer) Item {
	return Item{Buffer: b}
}

// EventItem wraps a control event.
func EventItem(e media.Event) Item {
	return Item{Event: e}
}

// IsBuffer reports whether the item carries a payload.
func (i Item) IsBuffer() bool {
	return i.Buffer != nil
}

// Kind returns "buffer" or "event", for logs and metric labels.
func (i Item) Kind() string {
	if i.IsBuffer() {
		return "buffer"
	}
	return "event"
}

func (i Item) String() string {
	switch {
	case i.Buffer != nil:
		return fmt.Sprintf("Buffer(%s)", i.Buffer)
	case i.Event != nil:
		return fmt.Sprintf("Event(%s)", i.Event.Type())
	default:
		return "Item(empty)"
	}
}
