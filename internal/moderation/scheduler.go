package moderation

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskKey identifies a deferred task, e.g. the reversal of one restriction.
type TaskKey struct {
	User Key
	ID   string
}

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a timer calling f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type scheduledTask struct {
	timer Timer
	runAt time.Time
}

// Scheduler runs keyed one-shot tasks. Stop cancels everything still pending.
type Scheduler struct {
	afterFunc AfterFunc
	now       func() time.Time

	mu         sync.Mutex
	tasks      map[TaskKey]*scheduledTask
	runtimeCtx context.Context
	cancel     context.CancelFunc
	started    bool
	wg         sync.WaitGroup
}

func NewScheduler(afterFunc AfterFunc, now func() time.Time) *Scheduler {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		afterFunc: afterFunc,
		now:       now,
		tasks:     map[TaskKey]*scheduledTask{},
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.runtimeCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	for key, task := range s.tasks {
		if task.timer.Stop() {
			s.wg.Done()
		}
		delete(s.tasks, key)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Schedule runs task at runAt. A task already registered under key is replaced.
// It reports false, and schedules nothing, when the scheduler is not running.
func (s *Scheduler) Schedule(key TaskKey, runAt time.Time, task func(ctx context.Context)) bool {
	delay := runAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return false
	}

	if prev, ok := s.tasks[key]; ok {
		if prev.timer.Stop() {
			s.wg.Done()
		}
		delete(s.tasks, key)
	}

	entry := &scheduledTask{runAt: runAt}
	s.wg.Add(1)
	entry.timer = s.afterFunc(delay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		if current, ok := s.tasks[key]; !ok || current != entry {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		runCtx := s.runtimeContextLocked()
		s.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				log.WithField("object", "Scheduler").WithField("task", key).Errorf("scheduled task panicked: %v", r)
			}
		}()
		task(runCtx)
	})
	s.tasks[key] = entry
	return true
}

// Cancel drops a pending task and reports whether it was still pending.
func (s *Scheduler) Cancel(key TaskKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	if task.timer.Stop() {
		s.wg.Done()
	}
	return true
}

// Pending returns the run time of every task that has not fired yet.
func (s *Scheduler) Pending() map[TaskKey]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[TaskKey]time.Time, len(s.tasks))
	for key, task := range s.tasks {
		pending[key] = task.runAt
	}
	return pending
}

func (s *Scheduler) runtimeContextLocked() context.Context {
	if s.runtimeCtx != nil {
		return s.runtimeCtx
	}
	return context.Background()
}
