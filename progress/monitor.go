// Package progress contains the host side of the operations framework: a context backed
// progress monitor, a console sink and adapters turning version-control client notifications
// into console output, progress and cancellation.
package progress

import (
	"context"
	"sync"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

// Monitor is the host side ProgressMonitor. Cancellation follows the context it was created
// with, and progress is logged each time it crosses a multiple of the configured step.
type Monitor struct {
	ctx  context.Context
	lggr logger.Logger
	step float64

	mu       sync.Mutex
	done     float64
	task     string
	nextStep float64
}

var _ operations.ProgressMonitor = (*Monitor)(nil)

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogStep sets the progress interval, in percent, at which the monitor logs. Defaults to 10.
// Zero or negative values disable progress logging.
func WithLogStep(percent int) MonitorOption {
	return func(m *Monitor) {
		m.step = float64(percent) / 100
	}
}

// NewMonitor creates a monitor that reports cancellation once ctx is done.
func NewMonitor(ctx context.Context, lggr logger.Logger, opts ...MonitorOption) *Monitor {
	if lggr == nil {
		lggr = logger.Nop()
	}
	m := &Monitor{
		ctx:  ctx,
		lggr: lggr,
		step: 0.1,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.nextStep = m.step

	return m
}

// Context returns the context the monitor follows.
func (m *Monitor) Context() context.Context { return m.ctx }

// IsCancelled reports whether the context of the monitor is done.
func (m *Monitor) IsCancelled() bool {
	return m.ctx.Err() != nil
}

// SubTask records the label of the work in progress.
func (m *Monitor) SubTask(label string) {
	m.mu.Lock()
	m.task = label
	m.mu.Unlock()

	m.lggr.Debugw("Sub task", "task", label)
}

// Worked adds fraction to the completed work, capped at 1.
func (m *Monitor) Worked(fraction float64) {
	if fraction <= 0 {
		return
	}

	m.mu.Lock()
	m.done = min(1, m.done+fraction)
	done, task := m.done, m.task
	crossed := m.step > 0 && done >= m.nextStep
	for m.step > 0 && m.nextStep <= done {
		m.nextStep += m.step
	}
	m.mu.Unlock()

	if crossed {
		m.lggr.Infow("Progress", "percent", int(done*100+0.5), "task", task)
	}
}

// Done returns the completed fraction of the work.
func (m *Monitor) Done() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.done
}

// Task returns the last sub task label.
func (m *Monitor) Task() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.task
}
