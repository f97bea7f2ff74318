package operations_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/operations/optest"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

func Test_NewOperation(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	def := operations.Definition{ID: "checkout", Version: semver.MustParse("1.0.0"), Description: "Checking out trunk"}
	op := operations.NewOperation(b, def, nil, operations.WithWeight(5), operations.WithRule(operations.PathRule("/wc")))

	assert.Equal(t, "checkout", op.Name())
	assert.Equal(t, def, op.Def())
	assert.Equal(t, "1.0.0", op.Def().VersionString())
	assert.Equal(t, 5, op.Weight())
	assert.Equal(t, operations.PathRule("/wc"), op.Rule())
	assert.Regexp(t, `^op_[0-9A-Za-z]{27}$`, op.InstanceID())
	assert.Equal(t, operations.NotExecuted, op.ExecutionState())
	assert.True(t, op.Status().IsOK())
	assert.Equal(t, "Checking out trunk", op.Status().Message())
	assert.Nil(t, op.Sink())

	negative := operations.NewOperation(b, def, nil, operations.WithWeight(-3))
	assert.Equal(t, 0, negative.Weight())

	assert.NotEqual(t, op.InstanceID(), negative.InstanceID())
}

func Test_Operation_Run(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name          string
		handler       operations.Handler
		wantSeverity  operations.Severity
		wantState     operations.ExecutionState
		wantLines     []optest.Line
		wantCauseIs   error
		wantMessageRe string
	}{
		{
			name:         "success",
			handler:      func(*operations.Operation, operations.ProgressMonitor) error { return nil },
			wantSeverity: operations.SeverityOK,
			wantState:    operations.ExecutionOK,
			wantLines: []optest.Line{
				{Severity: operations.SeverityCmd, Text: "start Checking out"},
				{Severity: operations.SeverityCmd, Text: "end"},
			},
		},
		{
			name:          "returned error",
			handler:       func(*operations.Operation, operations.ProgressMonitor) error { return boom },
			wantSeverity:  operations.SeverityError,
			wantState:     operations.ExecutionError,
			wantCauseIs:   boom,
			wantMessageRe: `^Operation "checkout" failed\.$`,
			wantLines: []optest.Line{
				{Severity: operations.SeverityCmd, Text: "start Checking out"},
				{Severity: operations.SeverityError, Text: `*** Error: Operation "checkout" failed. boom`},
				{Severity: operations.SeverityCmd, Text: "end"},
			},
		},
		{
			name: "panic",
			handler: func(*operations.Operation, operations.ProgressMonitor) error {
				panic("nil working copy")
			},
			wantSeverity:  operations.SeverityError,
			wantState:     operations.ExecutionError,
			wantMessageRe: `^Operation "checkout" panicked: nil working copy$`,
			wantLines: []optest.Line{
				{Severity: operations.SeverityCmd, Text: "start Checking out"},
				{Severity: operations.SeverityError, Text: `*** Error: Operation "checkout" panicked: nil working copy panic: nil working copy`},
				{Severity: operations.SeverityCmd, Text: "end"},
			},
		},
		{
			name: "warning",
			handler: func(op *operations.Operation, _ operations.ProgressMonitor) error {
				op.ReportStatus(operations.SeverityWarning, "Obstructed path /wc/a", nil)
				return nil
			},
			wantSeverity:  operations.SeverityWarning,
			wantState:     operations.ExecutionOK,
			wantMessageRe: `^Obstructed path /wc/a$`,
			wantLines: []optest.Line{
				{Severity: operations.SeverityCmd, Text: "start Checking out"},
				{Severity: operations.SeverityWarning, Text: "*** Warning: Obstructed path /wc/a"},
				{Severity: operations.SeverityCmd, Text: "end"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, _ := optest.NewBundle(t)
			sink := &optest.RecordingSink{}
			op := operations.NewOperation(b, operations.Definition{ID: "checkout", Description: "Checking out"},
				tt.handler, operations.WithSink(sink))

			var got operations.Executable
			require.NotPanics(t, func() { got = op.Run(optest.NewMonitor()) })
			assert.Same(t, op, got)

			st := op.Status()
			assert.Equal(t, tt.wantSeverity, st.Severity())
			assert.Equal(t, tt.wantState, op.ExecutionState())
			assert.Equal(t, tt.wantLines, sink.Lines())

			if tt.wantMessageRe != "" {
				require.Len(t, st.Children(), 1)
				assert.Regexp(t, tt.wantMessageRe, st.Children()[0].Message())
			}
			if tt.wantCauseIs != nil {
				require.ErrorIs(t, st.Children()[0].Cause(), tt.wantCauseIs)
			}
		})
	}
}

func Test_Operation_Run_SynthesizesCancellation(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	sink := &optest.RecordingSink{}
	op := operations.NewOperation(b, operations.Definition{ID: "update"},
		func(*operations.Operation, operations.ProgressMonitor) error { return nil },
		operations.WithSink(sink))

	op.Run(optest.NewCancelledMonitor())

	st := op.Status()
	assert.Equal(t, operations.SeverityError, st.Severity())
	assert.Equal(t, 1, st.Count(operations.KindCancelled))
	require.Len(t, st.Children(), 1)
	assert.Equal(t, "Activity cancelled.", st.Children()[0].Message())
	require.ErrorIs(t, st.Children()[0].Cause(), operations.ErrActivityCancelled)
	assert.Equal(t, operations.ExecutionError, op.ExecutionState())

	assert.Equal(t, 1, sink.Count(operations.SeverityCmd, "cancelled"))
	assert.Zero(t, sink.Count(operations.SeverityError, "*** Error: Activity cancelled."))
}

func Test_Operation_Run_NoDuplicateCancellation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		giveErr error
	}{
		{name: "client cancel", giveErr: operations.ErrOperationCancelled},
		{name: "tagged cancel", giveErr: errors.Join(errors.New("svn update"), operations.NewCancelledError(errors.New("aborted")))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, _ := optest.NewBundle(t)
			sink := &optest.RecordingSink{}
			op := operations.NewOperation(b, operations.Definition{ID: "update"},
				func(*operations.Operation, operations.ProgressMonitor) error { return tt.giveErr },
				operations.WithSink(sink))

			op.Run(optest.NewCancelledMonitor())

			assert.Equal(t, 1, op.Status().Count(operations.KindCancelled))
			assert.Equal(t, 1, sink.Count(operations.SeverityCmd, "cancelled"))
		})
	}
}

func Test_Operation_Run_CancelledWarningStillSynthesizes(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	sink := &optest.RecordingSink{}
	op := operations.NewOperation(b, operations.Definition{ID: "update"},
		func(op *operations.Operation, _ operations.ProgressMonitor) error {
			op.ReportStatus(operations.SeverityWarning, "partial", context.Canceled)
			return nil
		},
		operations.WithSink(sink))

	op.Run(optest.NewCancelledMonitor())

	st := op.Status()
	assert.Equal(t, operations.SeverityError, st.Severity())
	assert.Equal(t, operations.ExecutionError, op.ExecutionState())
	assert.True(t, st.Cancelled())

	var cancelledErrors int
	st.Walk(func(_ int, node operations.Status) bool {
		if node.Severity() == operations.SeverityError && node.Kind() == operations.KindCancelled {
			cancelledErrors++
		}

		return true
	})
	assert.Equal(t, 1, cancelledErrors)
	assert.Equal(t, 1, sink.Count(operations.SeverityCmd, "cancelled"))
}

// panickingSink panics on the marker named in panicOn.
type panickingSink struct {
	optest.RecordingSink
	panicOn string
}

func (s *panickingSink) MarkStart(label string) {
	if s.panicOn == "start" {
		panic("sink broke")
	}
	s.RecordingSink.MarkStart(label)
}

func (s *panickingSink) MarkEnd() {
	if s.panicOn == "end" {
		panic("sink broke")
	}
	s.RecordingSink.MarkEnd()
}

// panickingMonitor panics when asked for cancellation.
type panickingMonitor struct {
	*optest.Monitor
}

func (panickingMonitor) IsCancelled() bool { panic("monitor broke") }

func Test_Operation_Run_RecoversHostPanics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		giveSink    operations.ProgressSink
		giveMonitor func() (operations.ProgressMonitor, *optest.Monitor)
		wantPanic   string
	}{
		{
			name:     "sink panics on start",
			giveSink: &panickingSink{panicOn: "start"},
			giveMonitor: func() (operations.ProgressMonitor, *optest.Monitor) {
				m := optest.NewMonitor()
				return m, m
			},
			wantPanic: "sink broke",
		},
		{
			name:     "sink panics on end",
			giveSink: &panickingSink{panicOn: "end"},
			giveMonitor: func() (operations.ProgressMonitor, *optest.Monitor) {
				m := optest.NewMonitor()
				return m, m
			},
			wantPanic: "sink broke",
		},
		{
			name:     "monitor panics",
			giveSink: &optest.RecordingSink{},
			giveMonitor: func() (operations.ProgressMonitor, *optest.Monitor) {
				m := optest.NewMonitor()
				return panickingMonitor{Monitor: m}, m
			},
			wantPanic: "monitor broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, _ := optest.NewBundle(t)
			op := operations.NewOperation(b, operations.Definition{ID: "update"},
				func(*operations.Operation, operations.ProgressMonitor) error { return nil },
				operations.WithSink(tt.giveSink))
			monitor, recorder := tt.giveMonitor()

			require.NotPanics(t, func() { op.Run(monitor) })

			st := op.Status()
			assert.Equal(t, operations.SeverityError, st.Severity())
			assert.Equal(t, operations.ExecutionError, op.ExecutionState())
			require.Len(t, st.Children(), 1)
			assert.Contains(t, st.Children()[0].Message(), tt.wantPanic)
			assert.InDelta(t, 1.0, recorder.Total(), 1e-9)
		})
	}
}

func Test_Operation_Run_CompletesProgress(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	monitor := optest.NewMonitor()
	op := operations.NewOperation(b, operations.Definition{ID: "export"},
		func(_ *operations.Operation, m operations.ProgressMonitor) error {
			m.Worked(0.25)
			return errors.New("disk full")
		})

	op.Run(monitor)

	assert.InDelta(t, 1.0, monitor.Total(), 1e-9)
}

func Test_Operation_Run_NilMonitorAndSink(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	op := operations.NewOperation(b, operations.Definition{ID: "noop"}, nil)

	require.NotPanics(t, func() { op.Run(nil) })
	assert.Equal(t, operations.ExecutionOK, op.ExecutionState())
}

func Test_Operation_Run_Logs(t *testing.T) {
	t.Parallel()

	lggr, observed := logger.TestObserved(t, zapcore.InfoLevel)
	b := operations.NewBundle(lggr)
	def := operations.Definition{ID: "commit", Version: semver.MustParse("2.0.0"), Description: "Committing"}
	op := operations.NewOperation(b, def, nil)

	op.Run(optest.NewMonitor())

	entries := observed.FilterMessage("Executing operation").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "commit", fields["id"])
	assert.Equal(t, "2.0.0", fields["version"])
	assert.Equal(t, "Committing", fields["description"])
	assert.Equal(t, op.InstanceID(), fields["instance"])
}

func Test_Operation_ProtectStep(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	sink := &optest.RecordingSink{}
	monitor := optest.NewMonitor()
	var ran []string

	op := operations.NewOperation(b, operations.Definition{ID: "switch"},
		func(op *operations.Operation, m operations.ProgressMonitor) error {
			op.ProtectStep(func(m operations.ProgressMonitor) error {
				ran = append(ran, "relocate")
				m.Worked(0.5)
				return errors.New("relocate failed")
			}, m, 4, 1)
			op.ProtectStep(func(operations.ProgressMonitor) error {
				ran = append(ran, "update")
				panic("update exploded")
			}, m, 4, 3)

			return nil
		}, operations.WithSink(sink))

	op.Run(monitor)

	assert.Equal(t, []string{"relocate", "update"}, ran)
	assert.Len(t, op.Status().Children(), 2)
	assert.Equal(t, operations.ExecutionError, op.ExecutionState())
	assert.InDelta(t, 1.0, monitor.Total(), 1e-9)
	assert.Equal(t, 1, sink.Count(operations.SeverityError, `*** Error: Operation "switch" failed. relocate failed`))
}

func Test_Operation_ProtectStep_ProgressShare(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	op := operations.NewOperation(b, operations.Definition{ID: "step"}, nil)
	monitor := optest.NewMonitor()

	op.ProtectStep(func(operations.ProgressMonitor) error { return nil }, monitor, 4, 1)
	assert.InDelta(t, 0.25, monitor.Total(), 1e-9)

	op.ProtectStep(func(operations.ProgressMonitor) error { return nil }, monitor, 0, 0)
	assert.InDelta(t, 1.25, monitor.Total(), 1e-9)
}

func Test_Operation_WriteToConsole(t *testing.T) {
	t.Parallel()

	b, _ := optest.NewBundle(t)
	sink := &optest.RecordingSink{}
	op := operations.NewOperation(b, operations.Definition{ID: "log"}, nil)

	op.WriteToConsole(operations.SeverityOK, "dropped")
	op.SetSink(sink)
	op.WriteToConsole(operations.SeverityOK, "A    /wc/a")

	assert.Equal(t, []optest.Line{{Severity: operations.SeverityOK, Text: "A    /wc/a"}}, sink.Lines())
	assert.True(t, op.Status().IsOK())
}
