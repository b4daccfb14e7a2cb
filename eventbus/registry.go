package eventbus

import (
	"context"
	"sync"

	"github.com/luxfi/log"
)

// TaskFunc is one task-graph node's run loop: it must return promptly once
// ctx is cancelled. events is the task's private inbox from Bus.Subscribe.
type TaskFunc func(ctx context.Context, events <-chan Event)

// Registry starts and cooperatively cancels the set of tasks subscribed to
// a Bus, mirroring NotificationForwarder's started/cancel/WaitGroup
// lifecycle but for an arbitrary number of named tasks instead of one.
type Registry struct {
	bus    *Bus
	logger log.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRegistry returns a Registry driving tasks off bus.
func NewRegistry(bus *Bus, logger log.Logger) *Registry {
	return &Registry{bus: bus, logger: logger}
}

// Spawn subscribes a new inbox and starts fn in its own goroutine right
// away; there is no separate start step. It is not valid to Spawn after
// Stop.
func (r *Registry) Spawn(name string, fn TaskFunc) {
	events, unsubscribe := r.bus.Subscribe()

	r.mu.Lock()
	ctx := r.ctxLocked()
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer unsubscribe()
		r.logger.Debug("eventbus: task starting", log.String("task", name))
		fn(ctx, events)
		r.logger.Debug("eventbus: task stopped", log.String("task", name))
	}()
}

// ctxLocked lazily creates the shared cancellation context. Caller must
// hold r.mu.
func (r *Registry) ctxLocked() context.Context {
	if r.cancel == nil {
		r.ctx, r.cancel = context.WithCancel(context.Background())
		r.started = true
	}
	return r.ctx
}

// Stop cancels every spawned task and waits for them all to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
}
