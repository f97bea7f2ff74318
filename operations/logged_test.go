package operations_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/operations/optest"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
)

type mockLogSink struct {
	mock.Mock
}

func (m *mockLogSink) AddEntry(entry operations.LogEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

func Test_LoggedOperation_FiltersCancellations(t *testing.T) {
	t.Parallel()

	b, logSink := optest.NewBundle(t, operations.WithPluginID("svn.core"))
	op := operations.NewOperation(b, operations.Definition{ID: "checkout"},
		func(op *operations.Operation, _ operations.ProgressMonitor) error {
			op.ReportStatus(operations.SeverityError, "Network connection closed", errors.New("EOF"))
			op.ReportStatus(operations.SeverityError, "Activity cancelled.", operations.ErrOperationCancelled)

			return nil
		})

	logged := operations.NewLoggedOperation(b, op)
	got := logged.Run(optest.NewMonitor())
	assert.Same(t, logged, got)
	assert.Same(t, op, logged.Unwrap())

	entries, err := logSink.GetEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "svn.core", entry.PluginID)
	assert.Equal(t, operations.SeverityError, entry.Severity)
	leaves := entry.Leaves()
	require.Len(t, leaves, 1)
	assert.Equal(t, "Network connection closed", leaves[0].Message)
	require.NotNil(t, leaves[0].Err)
	assert.Equal(t, "EOF", leaves[0].Err.Message)

	// the status of the decorated operation is untouched
	assert.Equal(t, 1, op.Status().Count(operations.KindCancelled))
	assert.Len(t, op.Status().Children(), 2)
}

func Test_LoggedOperation_NothingToLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler operations.Handler
		monitor func() *optest.Monitor
	}{
		{
			name:    "success",
			handler: succeed,
			monitor: optest.NewMonitor,
		},
		{
			name: "only cancellations",
			handler: func(*operations.Operation, operations.ProgressMonitor) error {
				return operations.ErrOperationCancelled
			},
			monitor: optest.NewMonitor,
		},
		{
			name:    "host cancelled",
			handler: succeed,
			monitor: optest.NewCancelledMonitor,
		},
		{
			name: "hidden failure",
			handler: func(*operations.Operation, operations.ProgressMonitor) error {
				return operations.NewHiddenError(errors.New("credentials prompt dismissed"))
			},
			monitor: optest.NewMonitor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, logSink := optest.NewBundle(t)
			op := operations.NewOperation(b, operations.Definition{ID: "update"}, tt.handler)

			operations.NewLoggedOperation(b, op).Run(tt.monitor())

			entries, err := logSink.GetEntries()
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func Test_LoggedOperation_KeepsUnreportable(t *testing.T) {
	t.Parallel()

	b, logSink := optest.NewBundle(t)
	op := operations.NewOperation(b, operations.Definition{ID: "cleanup"},
		func(*operations.Operation, operations.ProgressMonitor) error {
			return operations.NewUnreportableError(errors.New("lock file busy"))
		})

	operations.NewLoggedOperation(b, op).Run(optest.NewMonitor())

	assert.False(t, op.Status().Alertable())
	entries, err := logSink.GetEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lock file busy", entries[0].Leaves()[0].Err.Message)
}

func Test_LoggedOperation_LogsAggregate(t *testing.T) {
	t.Parallel()

	lggr, observed := logger.TestObserved(t, zapcore.ErrorLevel)
	b := operations.NewBundle(lggr)
	composite := operations.NewCompositeOperation(b, operations.Definition{ID: "update"}).
		Add(leaf(b, "a", fail)).
		Add(leaf(b, "b", fail))

	operations.NewLoggedOperation(b, composite).Run(optest.NewMonitor())

	assert.Equal(t, 1, observed.FilterMessage(`2 problem(s) occurred while running "update".`).Len())
}

func Test_LoggedOperation_SinkFailure(t *testing.T) {
	t.Parallel()

	lggr, observed := logger.TestObserved(t, zapcore.WarnLevel)
	sink := &mockLogSink{}
	sink.On("AddEntry", mock.AnythingOfType("operations.LogEntry")).Return(errors.New("database is locked")).Once()

	b := operations.NewBundle(lggr, operations.WithLogSink(sink))
	op := operations.NewOperation(b, operations.Definition{ID: "commit"}, fail)

	require.NotPanics(t, func() { operations.NewLoggedOperation(b, op).Run(optest.NewMonitor()) })

	sink.AssertExpectations(t)
	warnings := observed.FilterMessage("Failed to persist log entry").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "database is locked", warnings[0].ContextMap()["error"])
}

func Test_ReportError(t *testing.T) {
	t.Parallel()

	b, logSink := optest.NewBundle(t)
	operations.ReportError(b, "pipeline loader", errors.New("yaml: line 3: did not find expected key"))

	entries, err := logSink.GetEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Unexpected failure in pipeline loader.", entries[0].Message)
	require.NotNil(t, entries[0].Err)
	assert.Equal(t, "yaml: line 3: did not find expected key", entries[0].Err.Message)

	operations.ReportError(b, "monitor", operations.ErrOperationCancelled)
	entries, err = logSink.GetEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 1, "cancellations reported from outside a run are not logged")
}
