// Package optest provides utilities for operations testing.
package optest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

// NewBundle creates a new operations bundle for testing with a test logger and a memory log sink,
// which is returned alongside so tests can inspect logged entries.
func NewBundle(t *testing.T, opts ...operations.BundleOption) (operations.Bundle, *operations.MemoryLogSink) {
	t.Helper()

	sink := operations.NewMemoryLogSink()
	opts = append([]operations.BundleOption{operations.WithLogSink(sink)}, opts...)

	return operations.NewBundle(logger.Test(t), opts...), sink
}

// Line is a single event recorded by a RecordingSink.
type Line struct {
	Severity operations.Severity
	Text     string
}

// String renders the line as "<SEVERITY> <text>".
func (l Line) String() string {
	return fmt.Sprintf("%s %s", l.Severity, l.Text)
}

// RecordingSink is a ProgressSink that records every event. Markers are recorded as CMD lines
// with the texts "start <label>", "end" and "cancelled".
type RecordingSink struct {
	mu    sync.Mutex
	lines []Line
}

var _ operations.ProgressSink = (*RecordingSink)(nil)

func (s *RecordingSink) record(severity operations.Severity, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = append(s.lines, Line{Severity: severity, Text: text})
}

func (s *RecordingSink) MarkStart(label string) { s.record(operations.SeverityCmd, "start "+label) }
func (s *RecordingSink) MarkEnd()               { s.record(operations.SeverityCmd, "end") }
func (s *RecordingSink) MarkCancelled()         { s.record(operations.SeverityCmd, "cancelled") }

func (s *RecordingSink) Write(severity operations.Severity, text string) {
	s.record(severity, text)
}

func (s *RecordingSink) DoComplexWrite(render func(write operations.WriteFunc)) {
	render(s.record)
}

// Lines returns a copy of the recorded lines.
func (s *RecordingSink) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Line, len(s.lines))
	copy(out, s.lines)

	return out
}

// Count returns the number of recorded lines with the given severity and text.
func (s *RecordingSink) Count(severity operations.Severity, text string) int {
	n := 0
	for _, l := range s.Lines() {
		if l.Severity == severity && l.Text == text {
			n++
		}
	}

	return n
}

// Monitor is a ProgressMonitor for tests. It records the total work reported and the sub task
// labels, and reports cancellation once CancelAfter polls were made (never when negative).
type Monitor struct {
	mu          sync.Mutex
	CancelAfter int
	polls       int
	cancelled   bool
	worked      []float64
	subTasks    []string
}

var _ operations.ProgressMonitor = (*Monitor)(nil)

// NewMonitor returns a Monitor that is never cancelled.
func NewMonitor() *Monitor {
	return &Monitor{CancelAfter: -1}
}

// NewCancelledMonitor returns a Monitor that is cancelled from the start.
func NewCancelledMonitor() *Monitor {
	return &Monitor{CancelAfter: 0}
}

// Cancel cancels the monitor.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelled = true
}

func (m *Monitor) IsCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CancelAfter >= 0 && m.polls >= m.CancelAfter {
		m.cancelled = true
	}
	m.polls++

	return m.cancelled
}

func (m *Monitor) SubTask(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subTasks = append(m.subTasks, label)
}

func (m *Monitor) Worked(fraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.worked = append(m.worked, fraction)
}

// Total returns the sum of all reported fractions.
func (m *Monitor) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0.0
	for _, w := range m.worked {
		total += w
	}

	return total
}

// SubTasks returns the recorded sub task labels.
func (m *Monitor) SubTasks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.subTasks))
	copy(out, m.subTasks)

	return out
}
