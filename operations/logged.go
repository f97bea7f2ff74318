package operations

// LoggedOperation decorates an operation, usually the root of a tree, and forwards its failures
// to the persistent log once it has run. Cancellations and hidden failures are filtered out
// first; when nothing else remains, nothing is logged.
type LoggedOperation struct {
	Executable

	bundle Bundle
}

// NewLoggedOperation wraps op so that its failures are forwarded to b.LogSink.
func NewLoggedOperation(b Bundle, op Executable) *LoggedOperation {
	return &LoggedOperation{Executable: op, bundle: b.withDefaults()}
}

// Unwrap returns the decorated operation.
func (l *LoggedOperation) Unwrap() Executable { return l.Executable }

// Run runs the decorated operation and logs its filtered failures. The status of the decorated
// operation is left untouched.
func (l *LoggedOperation) Run(monitor ProgressMonitor) Executable {
	l.Executable.Run(monitor)

	st := l.Status()
	if st.IsOK() {
		return l
	}
	logStatus(l.bundle, l.Name(), st)

	return l
}

// ReportError logs a failure that happened outside of any operation run, e.g. while building an
// operation tree. origin names the place the failure was caught.
func ReportError(b Bundle, origin string, cause error) {
	b = b.withDefaults()
	st := NewStatus(SeverityError, b.Messages.Resolve("log.external", origin), cause)
	logStatus(b, origin, st)
}

// logFilter keeps the nodes that belong in the persistent log.
func logFilter(node Status) bool {
	switch node.Kind() {
	case KindCancelled, KindHidden:
		return false
	case KindNone, KindReportable, KindUnreportable:
		return true
	default:
		return true
	}
}

// logStatus filters st and forwards what remains to the log sink as a single entry.
func logStatus(b Bundle, origin string, st Status) {
	filtered, ok := st.Filter(logFilter)
	if !ok || filtered.IsOK() {
		b.Logger.Debugw("Only cancellations to report, nothing logged", "origin", origin)
		return
	}

	entry := NewLogEntry(b.PluginID, filtered)
	problems := len(entry.Leaves())
	b.Logger.Errorw(b.Messages.Resolve("log.aggregated", problems, origin),
		"origin", origin, "entry", entry.ID, "severity", filtered.Severity().String())

	if b.LogSink == nil {
		return
	}
	if err := b.LogSink.AddEntry(entry); err != nil {
		b.Logger.Warnw("Failed to persist log entry", "entry", entry.ID, "error", err)
	}
}
