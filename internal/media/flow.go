package media

import "errors"

// Flow errors returned by downstream peers when a buffer is pushed. ErrEOS
// and ErrFlushing are expected terminal conditions; anything else is a
// streaming failure.
var (
	ErrEOS           = errors.New("media: eos")
	ErrFlushing      = errors.New("media: flushing")
	ErrNotLinked     = errors.New("media: not linked")
	ErrNotNegotiated = errors.New("media: not negotiated")
	ErrFlowError     = errors.New("media: flow error")
)

// FlowReason returns a short label for a flow result, suitable for logs
// and metric labels.
func FlowReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEOS):
		return "eos"
	case errors.Is(err, ErrFlushing):
		return "flushing"
	case errors.Is(err, ErrNotLinked):
		return "not-linked"
	case errors.Is(err, ErrNotNegotiated):
		return "not-negotiated"
	default:
		return "error"
	}
}
