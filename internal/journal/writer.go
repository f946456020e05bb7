package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// recordTimeout bounds a single insert.
const recordTimeout = 5 * time.Second

// Writer records entries asynchronously so that event producers never wait
// on SQLite. When the queue is full, or the writer is closed, new entries
// are dropped and counted.
type Writer struct {
	repo  Repository
	queue chan Entry

	dropped atomic.Uint64
	failed  atomic.Uint64

	onError func(err error)

	mu     sync.RWMutex // guards closed and the close of queue
	closed bool
	done   chan struct{}
}

// NewWriter starts a Writer with the given queue depth. onError, if not
// nil, is called from the writer goroutine for every failed insert.
func NewWriter(repo Repository, depth int, onError func(error)) *Writer {
	if depth < 1 {
		depth = 1
	}
	w := &Writer{
		repo:    repo,
		queue:   make(chan Entry, depth),
		onError: onError,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue queues e without blocking and reports whether it was accepted.
// Entries offered after Close are dropped.
func (w *Writer) Enqueue(e Entry) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return false
	}
	select {
	case w.queue <- e:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of entries discarded because the queue was
// full or the writer was closed.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Failed returns the number of entries whose insert failed.
func (w *Writer) Failed() uint64 { return w.failed.Load() }

// Close drains the queue and stops the writer, waiting at most until ctx ends.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := w.repo.Record(ctx, &e)
		cancel()
		if err != nil {
			w.failed.Add(1)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}
