// Package appsrc implements a thread-sharing application source: a bridge
// that lets arbitrary producer goroutines hand buffers and events to a
// single streaming task scheduled on a shared sched.Context.
//
// Producers call PushBuffer and EndOfStream. Both are synchronous and never
// block: when the element is not accepting data, when no clock is available
// for timestamping, or when the bounded queue is full, the item is dropped
// and false is returned. Retrying is left to the producer.
//
// The streaming task drains the queue in submission order. Before the first
// item of a session it pushes the stream prelude (stream-start, the
// configured caps if any, and a TIME segment); after a flush only the
// segment is repeated.
//
// Lifecycle:
//
//	Prepare -> Start <-> Pause -> Stop -> Unprepare
//	              FlushStart -> FlushStop
//
// ChangeState maps the usual element state transitions onto these calls.
package appsrc
