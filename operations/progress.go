package operations

import (
	"context"
	"sync"
)

// WriteFunc writes one severity tagged line to a ProgressSink.
type WriteFunc func(severity Severity, text string)

// ProgressSink receives the live console feed of an operation tree. It is implemented by the
// host (a console view, a terminal, a test recorder) and consumed by operations.
type ProgressSink interface {
	// MarkStart is called when an operation starts, with the operation label.
	MarkStart(label string)
	// Write writes a line of text with the given severity.
	Write(severity Severity, text string)
	// MarkEnd is called when the operation that last called MarkStart ends.
	MarkEnd()
	// MarkCancelled is written instead of an error line for cancellation failures.
	MarkCancelled()
	// DoComplexWrite lets render write several lines that must not be interleaved with
	// other writers.
	DoComplexWrite(render func(write WriteFunc))
}

// ProgressMonitor is the host progress monitor an operation runs against. Fractions passed to
// Worked are relative to the whole range of the monitor, i.e. an operation that calls
// Worked(0.5) twice has completed its work.
type ProgressMonitor interface {
	// IsCancelled reports whether the host requested cancellation. Polled cooperatively.
	IsCancelled() bool
	// SubTask updates the label of the current sub task.
	SubTask(label string)
	// Worked reports that fraction of the monitor range has been completed since the last call.
	Worked(fraction float64)
}

// contextMonitor is implemented by monitors that carry a context for blocking calls.
type contextMonitor interface {
	Context() context.Context
}

// MonitorContext returns the context carried by m, or context.Background when m has none.
// Operation bodies pass it to blocking calls of the version-control client.
func MonitorContext(m ProgressMonitor) context.Context {
	if cm, ok := m.(contextMonitor); ok {
		if ctx := cm.Context(); ctx != nil {
			return ctx
		}
	}

	return context.Background()
}

// NullMonitor is a ProgressMonitor that is never cancelled and discards progress.
type NullMonitor struct{}

var _ ProgressMonitor = NullMonitor{}

func (NullMonitor) IsCancelled() bool { return false }
func (NullMonitor) SubTask(string)    {}
func (NullMonitor) Worked(float64)    {}

// SliceMonitor exposes share of a parent monitor as a full range of its own. Whatever the
// operation running against the slice reports, the parent never receives more than share.
type SliceMonitor struct {
	parent   ProgressMonitor
	share    float64
	mu       sync.Mutex
	consumed float64
}

var _ ProgressMonitor = (*SliceMonitor)(nil)

// Slice returns a SliceMonitor covering share (between 0 and 1) of parent. A nil parent is
// treated as a NullMonitor.
func Slice(parent ProgressMonitor, share float64) *SliceMonitor {
	if parent == nil {
		parent = NullMonitor{}
	}

	return &SliceMonitor{parent: parent, share: min(max(share, 0), 1)}
}

// IsCancelled delegates to the parent monitor.
func (m *SliceMonitor) IsCancelled() bool { return m.parent.IsCancelled() }

// SubTask delegates to the parent monitor.
func (m *SliceMonitor) SubTask(label string) { m.parent.SubTask(label) }

// Context returns the context of the parent monitor.
func (m *SliceMonitor) Context() context.Context { return MonitorContext(m.parent) }

// Worked forwards fraction scaled by the slice share, clamped to the remaining range.
func (m *SliceMonitor) Worked(fraction float64) {
	m.mu.Lock()
	fraction = min(fraction, 1-m.consumed)
	if fraction <= 0 {
		m.mu.Unlock()
		return
	}
	m.consumed += fraction
	m.mu.Unlock()

	m.parent.Worked(fraction * m.share)
}

// Consumed returns the fraction of the slice that has been reported so far.
func (m *SliceMonitor) Consumed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.consumed
}

// Done reports whatever remains of the slice so the parent always receives exactly share.
func (m *SliceMonitor) Done() {
	m.Worked(1)
}

// Counter translates (total, current) progress pairs into Worked fractions on a monitor.
type Counter struct {
	monitor  ProgressMonitor
	reported float64
}

// NewCounter returns a Counter reporting to monitor.
func NewCounter(monitor ProgressMonitor) *Counter {
	if monitor == nil {
		monitor = NullMonitor{}
	}

	return &Counter{monitor: monitor}
}

// Progress reports that current out of total units are complete. Unknown totals (<= 0) and
// backwards moves are ignored.
func (c *Counter) Progress(total, current int64) {
	if total <= 0 {
		return
	}
	target := min(float64(max(current, 0))/float64(total), 1)
	if delta := target - c.reported; delta > 0 {
		c.reported = target
		c.monitor.Worked(delta)
	}
}
