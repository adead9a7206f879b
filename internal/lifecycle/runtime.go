package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Hooks turns a pair of functions into a Component. Either may be nil.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (h Hooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h Hooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

type entry struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops them in reverse.
type Runtime struct {
	entries []entry
	logger  *log.Entry
}

func NewRuntime() *Runtime {
	return &Runtime{logger: log.WithField("object", "Runtime")}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.entries = append(r.entries, entry{name: name, component: component})
}

// Start stops whatever already started when a component fails.
func (r *Runtime) Start(ctx context.Context) error {
	started := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		begin := time.Now()
		if err := e.component.Start(ctx); err != nil {
			if stopErr := r.stop(ctx, started); stopErr != nil {
				r.logger.WithField("error", stopErr.Error()).Warn("rollback after failed start")
			}
			return fmt.Errorf("start %s: %w", e.name, err)
		}
		r.logger.WithFields(log.Fields{"component": e.name, "took": time.Since(begin).String()}).Debug("started")
		started = append(started, e)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return r.stop(ctx, r.entries)
}

func (r *Runtime) stop(ctx context.Context, entries []entry) error {
	var stopErr error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop %s: %w", e.name, err))
			continue
		}
		r.logger.WithField("component", e.name).Debug("stopped")
	}
	return stopErr
}
