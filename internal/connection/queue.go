// Package connection implements the per-connection I/O pump: a pair of
// cooperating reader/writer loops over an established encrypted transport,
// joined to upper layers by a pair of bounded frame queues and to the rest
// of the process by the shutdown signal.
package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/bardlex/gojds/internal/sv2"
)

// ErrQueueClosed is returned by queue operations after Close.
var ErrQueueClosed = errors.New("frame queue closed")

// Queue is a bounded FIFO frame queue with an explicit close capability
// usable from either endpoint. It is modeled as two channel objects: the
// data channel and a close-notification channel, so a holder of a
// close-only handle can wake the counterpart loop without owning the data
// flow. Close is idempotent; Recv drains frames buffered before Close and
// then reports ErrQueueClosed.
type Queue struct {
	frames    chan sv2.Frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity frames.
func NewQueue(capacity int) *Queue {
	return &Queue{
		frames: make(chan sv2.Frame, capacity),
		done:   make(chan struct{}),
	}
}

// Send enqueues a frame, blocking while the queue is full. It fails with
// ErrQueueClosed once the queue is closed and with the context error once
// ctx is done.
func (q *Queue) Send(ctx context.Context, frame sv2.Frame) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.frames <- frame:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv dequeues the next frame in FIFO order. After Close it keeps yielding
// frames that were already buffered, then returns ErrQueueClosed.
func (q *Queue) Recv(ctx context.Context) (sv2.Frame, error) {
	select {
	case frame := <-q.frames:
		return frame, nil
	case <-q.done:
		// Drain what was enqueued before the close.
		select {
		case frame := <-q.frames:
			return frame, nil
		default:
			return sv2.Frame{}, ErrQueueClosed
		}
	case <-ctx.Done():
		return sv2.Frame{}, ctx.Err()
	}
}

// TryRecv dequeues the next buffered frame without blocking.
func (q *Queue) TryRecv() (sv2.Frame, bool) {
	select {
	case frame := <-q.frames:
		return frame, true
	default:
		return sv2.Frame{}, false
	}
}

// Frames exposes the data channel for use inside a select. Pair it with
// Done: a receive on Done means the queue was closed and any remaining
// buffered frames should be drained via TryRecv.
func (q *Queue) Frames() <-chan sv2.Frame {
	return q.frames
}

// Done is closed when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close closes the queue. Safe to call from either endpoint, any number of
// times; this is the sole synchronization primitive between a pump loop and
// its counterpart.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// IsClosed reports whether the queue has been closed.
func (q *Queue) IsClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Len returns the number of buffered frames.
func (q *Queue) Len() int {
	return len(q.frames)
}
