package device

import (
	"context"
	"sync"

	"github.com/srg/blecast/internal/groutine"
)

// DefaultPumpBuffer is the event queue length backends use unless configured.
const DefaultPumpBuffer = 32

// Pump owns a backend's event stream and the goroutines that feed it.
//
// Emit may be called from any goroutine, including platform callbacks. Close
// cancels the pump context, waits for goroutines started with Go and then closes
// the stream, so consumers observe every event emitted before Close.
type Pump struct {
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPump creates a pump with the given queue length.
func NewPump(buffer int) *Pump {
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pump{
		events: make(chan Event, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events is the stream handed out by Adapter.Events.
func (p *Pump) Events() <-chan Event {
	return p.events
}

// Context is cancelled when the pump closes.
func (p *Pump) Context() context.Context {
	return p.ctx
}

// Emit queues ev, blocking while the queue is full. It returns false if the pump
// closed before the event was queued.
func (p *Pump) Emit(ev Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.events <- ev:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// Go runs fn in a named goroutine bound to the pump context.
func (p *Pump) Go(name string, fn func(ctx context.Context)) {
	p.wg.Add(1)
	groutine.Go(p.ctx, name, func(ctx context.Context) {
		defer p.wg.Done()
		fn(ctx)
	})
}

// Close stops the pump goroutines and closes the event stream. Safe to call more
// than once.
func (p *Pump) Close() {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}
