package event

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

const DefaultWorkers = 16

var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Handler processes a single inbound event.
type Handler func(ctx context.Context, ev moderation.Event)

// Dispatcher runs every submitted event on its own goroutine, with at most
// workers of them in flight. Submit blocks while all slots are taken.
type Dispatcher struct {
	handler Handler
	sem     *semaphore.Weighted
	workers int64
	logger  *log.Entry

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	inFlight atomic.Int64
	panics   atomic.Int64
}

func NewDispatcher(workers int, handler Handler) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		handler: handler,
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: int64(workers),
		logger:  log.WithField("object", "Dispatcher"),
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	// Handlers outlive the start context; Stop cancels them.
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.running = true
	d.logger.WithField("workers", d.workers).Debug("dispatcher started")
	return nil
}

// Stop refuses new events, cancels in-flight handlers and waits for them
// until ctx expires.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %d handlers: %w", d.inFlight.Load(), ctx.Err())
	}
}

// Submit hands ev to a worker. It returns once the event is scheduled, not
// when it has been handled.
func (d *Dispatcher) Submit(ctx context.Context, ev moderation.Event) error {
	d.mu.RLock()
	if !d.running {
		d.mu.RUnlock()
		return ErrDispatcherStopped
	}
	runCtx := d.ctx
	d.wg.Add(1)
	d.mu.RUnlock()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.wg.Done()
		return fmt.Errorf("acquire worker: %w", err)
	}
	d.inFlight.Add(1)
	go d.run(runCtx, ev)
	return nil
}

// Sink adapts Submit to the receivers' callback, logging refused events.
func (d *Dispatcher) Sink(ctx context.Context, ev moderation.Event) {
	if err := d.Submit(ctx, ev); err != nil {
		d.logger.WithFields(log.Fields{
			"error":      err.Error(),
			"guild_id":   ev.GuildID,
			"message_id": ev.MessageID,
		}).Warn("event dropped")
	}
}

func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

func (d *Dispatcher) Panics() int64 {
	return d.panics.Load()
}

func (d *Dispatcher) run(ctx context.Context, ev moderation.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.WithFields(log.Fields{
				"panic":      fmt.Sprint(r),
				"guild_id":   ev.GuildID,
				"message_id": ev.MessageID,
			}).Errorf("handler panic\n%s", debug.Stack())
		}
		d.inFlight.Add(-1)
		d.sem.Release(1)
		d.wg.Done()
	}()
	d.handler(ctx, ev)
}
