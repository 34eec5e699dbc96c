package appsrc

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by lifecycle operations.
var (
	ErrContextUnavailable = errors.New("appsrc: failed to acquire context")
	ErrInvalidMaxBuffers  = errors.New("appsrc: invalid max-buffers")
	ErrInvalidContextWait = errors.New("appsrc: invalid context-wait")
	ErrAlreadyPrepared    = errors.New("appsrc: already prepared")
	ErrNotPrepared        = errors.New("appsrc: not prepared")
	ErrUnknownTransition  = errors.New("appsrc: unknown state transition")
	ErrUnknownLevel       = errors.New("appsrc: unknown level")
)

// StreamError is posted to the element's error handler when the streaming
// task stops because downstream failed with something other than EOS or
// flushing.
type StreamError struct {
	Element string
	Reason  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("appsrc %s: internal data stream error: streaming stopped, reason %v", e.Element, e.Reason)
}

func (e *StreamError) Unwrap() error {
	return e.Reason
}
