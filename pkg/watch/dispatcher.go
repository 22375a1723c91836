// Package watch wakes a node's local reclaim machinery whenever any peer
// mutates the shared grace object. It owns the watch registration and its
// re-establishment; callers only supply wake callbacks.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marmos91/gracecoord/pkg/objectstore"
)

// reconnectMinDelay and reconnectMaxDelay are the default bounds on how
// fast the dispatcher re-subscribes after a
// lost watch, so a store outage doesn't spin a hot retry loop.
const (
	reconnectMinDelay = 200 * time.Millisecond
	reconnectMaxDelay = 10 * time.Second
)

// Dispatcher owns a live Watch subscription against one object and fans
// notifications out to two callbacks: Wake, called to kick the reaper
// thread, and NotifyWaiters, called to release anything blocked on a
// grace-period transition. Both are invoked off the store's own delivery
// path -- neither callback may block for long, since a slow Wake delays
// the next notification's dispatch.
type Dispatcher struct {
	store  objectstore.Store
	object string
	log    *slog.Logger

	minDelay time.Duration
	maxDelay time.Duration

	Wake          func()
	NotifyWaiters func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBackoff overrides the default reconnect backoff bounds. Zero values
// leave the corresponding default in place.
func WithBackoff(min, max time.Duration) Option {
	return func(d *Dispatcher) {
		if min > 0 {
			d.minDelay = min
		}
		if max > 0 {
			d.maxDelay = max
		}
	}
}

// New constructs a Dispatcher for object. wake and notifyWaiters must be
// non-nil; they are invoked synchronously on each notification.
func New(store objectstore.Store, object string, log *slog.Logger, wake, notifyWaiters func(), opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		store:         store,
		object:        object,
		log:           log,
		Wake:          wake,
		NotifyWaiters: notifyWaiters,
		minDelay:      reconnectMinDelay,
		maxDelay:      reconnectMaxDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start registers the initial watch and begins dispatching notifications in
// a background goroutine. It returns once the first registration succeeds.
func (d *Dispatcher) Start(ctx context.Context) error {
	sub, err := d.store.Watch(ctx, d.object)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.stopped = make(chan struct{})
	d.mu.Unlock()

	go d.run(runCtx, sub)
	return nil
}

// Stop tears down the active subscription and waits for the dispatch
// goroutine to exit.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	cancel := d.cancel
	stopped := d.stopped
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-stopped:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) run(ctx context.Context, sub objectstore.Subscription) {
	defer close(d.stopped)
	delay := d.minDelay

	for {
		d.drain(ctx, sub)
		_ = sub.Close(ctx)

		if ctx.Err() != nil {
			return
		}

		d.log.Warn("grace object watch lost, re-registering", "object", d.object, "backoff", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		next, err := d.store.Watch(ctx, d.object)
		if err != nil {
			d.log.Warn("failed to re-register grace object watch", "object", d.object, "error", err)
			delay = d.nextDelay(delay)
			continue
		}
		sub = next
		delay = d.minDelay
	}
}

// drain consumes notifications from sub until its channel closes (watch
// lost) or ctx is cancelled (shutdown). Each notification is acked simply
// by having been received off the channel -- the store implementation
// already completed its ack before delivery -- so all that's left is to
// wake the reaper and any grace-transition waiters.
func (d *Dispatcher) drain(ctx context.Context, sub objectstore.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			d.Wake()
			d.NotifyWaiters()
		}
	}
}

func (disp *Dispatcher) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > disp.maxDelay {
		return disp.maxDelay
	}
	return d
}
