// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel so producers never block: when the buffer
// is full the oldest element is discarded to make room.
//
// Readers use C() like a normal channel:
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.ForceSend(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
//
// A single producer is assumed; concurrent ForceSend calls may transiently exceed
// the drop-oldest guarantee but never block.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
	closed  atomic.Bool
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// ForceSend inserts v, discarding the oldest buffered element if needed.
// It reports whether an element was dropped. Sends after Close are ignored.
func (rc *RingChannel[T]) ForceSend(v T) bool {
	if rc.closed.Load() {
		return false
	}

	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.metrics.Written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.metrics.Overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	if rc.closed.Load() {
		return false
	}
	select {
	case rc.ch <- v:
		rc.metrics.Written.Add(1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. It is safe to call more than once.
// The caller must ensure no ForceSend is in flight.
func (rc *RingChannel[T]) Close() {
	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

// GetMetrics returns a snapshot of the counters.
func (rc *RingChannel[T]) GetMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		Written:     rc.metrics.Written.Load(),
		Overwritten: rc.metrics.Overwritten.Load(),
	}
}

// Metrics are lock-free counters.
type Metrics struct {
	Written     atomic.Int64
	Overwritten atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Written     int64
	Overwritten int64
}
