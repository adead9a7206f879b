package infra

import (
	"context"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const checkExecInterval = 5 * time.Second

// ExecutableMonitor calls onChange once when the running binary is replaced
// on disk, so a deploy can trigger a graceful restart.
type ExecutableMonitor struct {
	onChange func()
	interval time.Duration
	path     string
	logger   *log.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewExecutableMonitor(onChange func()) *ExecutableMonitor {
	return &ExecutableMonitor{
		onChange: onChange,
		interval: checkExecInterval,
		logger:   log.WithField("object", "ExecutableMonitor"),
	}
}

func (m *ExecutableMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	path := m.path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			m.logger.WithField("error", err.Error()).Warn("cant resolve executable path for monitor")
			return nil
		}
		path = exe
	}
	stat, err := os.Stat(path)
	if err != nil {
		m.logger.WithField("error", err.Error()).Warn("cant stat executable for monitor")
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go func() {
		defer close(done)
		m.watch(ctx, path, stat.ModTime())
	}()
	return nil
}

func (m *ExecutableMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *ExecutableMonitor) watch(ctx context.Context, path string, original time.Time) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat, err := os.Stat(path)
			if err != nil {
				m.logger.WithField("error", err.Error()).Warn("cant stat executable for monitor tick")
				continue
			}
			if !original.Equal(stat.ModTime()) {
				m.logger.WithField("path", path).Info("executable changed")
				m.onChange()
				return
			}
		}
	}
}
