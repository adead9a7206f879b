package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iamwavecut/ngmod/internal/moderation"
)

func startDispatcher(t *testing.T, workers int, handler Handler) *Dispatcher {
	t.Helper()
	d := NewDispatcher(workers, handler)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var (
		current, peak atomic.Int64
		wg            sync.WaitGroup
	)
	release := make(chan struct{})
	d := startDispatcher(t, 2, func(ctx context.Context, _ moderation.Event) {
		defer wg.Done()
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
	})

	wg.Add(5)
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for i := 0; i < 5; i++ {
			if err := d.Submit(context.Background(), moderation.Event{MessageID: "m"}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if got := d.InFlight(); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}
	close(release)
	<-submitted
	wg.Wait()
	if got := peak.Load(); got != 2 {
		t.Fatalf("expected peak concurrency 2, got %d", got)
	}
}

func TestDispatcherSubmitHonoursContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	d := startDispatcher(t, 1, func(ctx context.Context, _ moderation.Event) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	})
	defer close(block)

	if err := d.Submit(context.Background(), moderation.Event{}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Submit(ctx, moderation.Event{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDispatcherRecoversPanics(t *testing.T) {
	t.Parallel()

	handled := make(chan string, 2)
	d := startDispatcher(t, 1, func(_ context.Context, ev moderation.Event) {
		if ev.MessageID == "boom" {
			panic("boom")
		}
		handled <- ev.MessageID
	})

	if err := d.Submit(context.Background(), moderation.Event{MessageID: "boom"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := d.Submit(context.Background(), moderation.Event{MessageID: "ok"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case id := <-handled:
		if id != "ok" {
			t.Fatalf("unexpected event %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker slot not released after panic")
	}
	if d.Panics() != 1 {
		t.Fatalf("expected 1 panic, got %d", d.Panics())
	}
}

func TestDispatcherStopCancelsHandlers(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	d := NewDispatcher(1, func(ctx context.Context, _ moderation.Event) {
		close(started)
		<-ctx.Done()
	})
	if err := d.Submit(context.Background(), moderation.Event{}); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped before start, got %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Submit(context.Background(), moderation.Event{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := d.Submit(context.Background(), moderation.Event{}); !errors.Is(err, ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped after stop, got %v", err)
	}
}
