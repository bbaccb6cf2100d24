package event

import (
	"sync"

	"github.com/eapache/queue"
)

// Inbox lets goroutines other than the reactor's hand work to the reactor
// thread. Post queues a closure and signals a wake fd; the inbox handler
// drains the queue on the reactor thread, so posted closures may touch state
// owned by the loop.
type Inbox[C any] struct {
	mu      sync.Mutex
	pending *queue.Queue
	closed  bool

	wake    *wakeFD
	handler *Handler[C]
}

// NewInbox creates an inbox and its wake fd. Register Handler() with the
// reactor before posting.
func NewInbox[C any]() (*Inbox[C], error) {
	wake, err := newWakeFD()
	if err != nil {
		return nil, err
	}

	b := &Inbox[C]{
		pending: queue.New(),
		wake:    wake,
	}
	b.handler = NewHandler[C](wake.readFD(), EventRead, b.drain)
	return b, nil
}

// Handler returns the reactor handler draining this inbox.
func (b *Inbox[C]) Handler() *Handler[C] {
	return b.handler
}

// Post queues fn to run on the reactor thread. Safe for concurrent use.
func (b *Inbox[C]) Post(fn func(ctx C)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.pending.Add(fn)
	// signal under the lock so Close cannot release the fd in between
	return b.wake.signal()
}

// Len returns the number of queued closures.
func (b *Inbox[C]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Length()
}

// Close drops queued work and releases the wake fd. The caller must have
// unregistered the handler first.
func (b *Inbox[C]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.pending = queue.New()
	return b.wake.close()
}

// drain runs every closure queued before the wake fd was reset. Closures
// posted while draining wake the next iteration.
func (b *Inbox[C]) drain(ctx C) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wake.reset()
	batch := make([]func(C), 0, b.pending.Length())
	for b.pending.Length() > 0 {
		batch = append(batch, b.pending.Remove().(func(C)))
	}
	b.mu.Unlock()

	for _, fn := range batch {
		fn(ctx)
	}
}
