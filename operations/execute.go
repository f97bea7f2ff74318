package operations

import (
	"fmt"
)

// ExecuteConfig is the configuration for the Execute function.
type ExecuteConfig struct {
	sink   ProgressSink
	logged bool
}

type ExecuteOption func(*ExecuteConfig)

// WithExecuteSink sets the ProgressSink of the root operation before it runs.
func WithExecuteSink(sink ProgressSink) ExecuteOption {
	return func(c *ExecuteConfig) {
		c.sink = sink
	}
}

// WithoutLogging disables forwarding failures to the bundle's log sink.
func WithoutLogging() ExecuteOption {
	return func(c *ExecuteConfig) {
		c.logged = false
	}
}

// Execute runs op as the root of an operation tree and returns its final status.
//
// By default the operation is wrapped in a LoggedOperation so its failures reach the bundle's
// log sink. The returned error is nil when the status is OK or WARNING and wraps the joined
// failures otherwise, which lets callers use the usual `if err != nil` flow while the full tree
// remains available in the returned Status.
func Execute(b Bundle, op Executable, monitor ProgressMonitor, opts ...ExecuteOption) (Status, error) {
	cfg := &ExecuteConfig{logged: true}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.sink != nil {
		op.SetSink(cfg.sink)
	}

	root := op
	if cfg.logged {
		root = NewLoggedOperation(b, op)
	}
	root.Run(monitor)

	st := op.Status()
	if st.Severity() >= SeverityError {
		return st, fmt.Errorf("operation %s: %w", op.Name(), st.Err())
	}

	return st, nil
}
