package operations

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/segmentio/ksuid"

	"github.com/smartcontractkit/vcs-operations-framework/pkg/logger"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/messages"
)

// DefaultPluginID identifies log entries produced by the framework when no plugin id is set.
const DefaultPluginID = "vcs-operations-framework"

// Bundle contains the dependencies shared by every operation of a tree: the logger, the message
// resolver, the persistent log sink and the host's rule combiner.
// Use NewBundle to create a new Bundle.
type Bundle struct {
	Logger       logger.Logger
	Messages     messages.Resolver
	LogSink      LogSink
	PluginID     string
	RuleCombiner RuleCombiner
	Registry     *HandlerRegistry
}

// BundleOption is a functional option for configuring a Bundle
type BundleOption func(*Bundle)

// WithMessages sets the message resolver used to build status and console messages.
func WithMessages(resolver messages.Resolver) BundleOption {
	return func(b *Bundle) {
		b.Messages = resolver
	}
}

// WithLogSink sets the persistent log sink LoggedOperation forwards failures to.
func WithLogSink(sink LogSink) BundleOption {
	return func(b *Bundle) {
		b.LogSink = sink
	}
}

// WithPluginID sets the source id attached to every log entry.
func WithPluginID(id string) BundleOption {
	return func(b *Bundle) {
		b.PluginID = id
	}
}

// WithRuleCombiner sets the host defined function used to merge locking rules.
func WithRuleCombiner(combine RuleCombiner) BundleOption {
	return func(b *Bundle) {
		b.RuleCombiner = combine
	}
}

// WithHandlerRegistry sets a custom HandlerRegistry for the Bundle
func WithHandlerRegistry(registry *HandlerRegistry) BundleOption {
	return func(b *Bundle) {
		b.Registry = registry
	}
}

// NewBundle creates and returns a new Bundle. Unset dependencies fall back to the embedded
// message catalog, an in-memory log sink and CombineRules.
func NewBundle(lggr logger.Logger, opts ...BundleOption) Bundle {
	if lggr == nil {
		lggr = logger.Nop()
	}
	b := Bundle{
		Logger:       lggr,
		Messages:     messages.Default(),
		LogSink:      NewMemoryLogSink(),
		PluginID:     DefaultPluginID,
		RuleCombiner: CombineRules,
		Registry:     NewHandlerRegistry(),
	}

	for _, opt := range opts {
		opt(&b)
	}

	return b
}

// withDefaults fills the zero fields of a Bundle that was not built with NewBundle.
func (b Bundle) withDefaults() Bundle {
	if b.Logger == nil {
		b.Logger = logger.Nop()
	}
	if b.Messages == nil {
		b.Messages = messages.Default()
	}
	if b.PluginID == "" {
		b.PluginID = DefaultPluginID
	}
	if b.RuleCombiner == nil {
		b.RuleCombiner = CombineRules
	}

	return b
}

// Definition is the metadata for an operation: its ID, version and description.
type Definition struct {
	ID          string          `json:"id"`
	Version     *semver.Version `json:"version,omitempty"`
	Description string          `json:"description"`
}

// VersionString returns the version of the definition, or an empty string when unset.
func (d Definition) VersionString() string {
	if d.Version == nil {
		return ""
	}

	return d.Version.String()
}

// Label returns the text shown when the operation starts: the description when set, the ID otherwise.
func (d Definition) Label() string {
	if d.Description != "" {
		return d.Description
	}

	return d.ID
}

// ExecutionState is the execution outcome of an operation.
type ExecutionState int

const (
	NotExecuted ExecutionState = iota
	ExecutionOK
	ExecutionError
)

// String implements fmt.Stringer.
func (s ExecutionState) String() string {
	switch s {
	case NotExecuted:
		return "NOT_EXECUTED"
	case ExecutionOK:
		return "OK"
	case ExecutionError:
		return "ERROR"
	default:
		return fmt.Sprintf("ExecutionState(%d)", int(s))
	}
}

// Executable is implemented by every runnable node of an operation tree.
type Executable interface {
	// Run executes the operation against monitor and returns the operation itself. Run never
	// panics and never returns an error: every failure is recorded in Status.
	Run(monitor ProgressMonitor) Executable
	Name() string
	Def() Definition
	InstanceID() string
	Weight() int
	Status() Status
	ExecutionState() ExecutionState
	Sink() ProgressSink
	SetSink(sink ProgressSink)
	Rule() LockingRule
}

// Handler is the body of an operation. It reports intermediate outcomes through
// op.ReportStatus and may return an error, which is converted into an ERROR status.
type Handler func(op *Operation, monitor ProgressMonitor) error

// Step is a phase of an operation body run through Operation.ProtectStep.
type Step func(monitor ProgressMonitor) error

// Option configures an Operation or a CompositeOperation.
type Option func(*options)

type options struct {
	weight        int
	rule          LockingRule
	sink          ProgressSink
	checkWarnings bool
}

// WithWeight sets the relative weight of the operation within its parent. Defaults to 1.
func WithWeight(weight int) Option {
	return func(o *options) {
		o.weight = weight
	}
}

// WithRule sets the locking requirement of the operation.
func WithRule(rule LockingRule) Option {
	return func(o *options) {
		o.rule = rule
	}
}

// WithSink sets the ProgressSink the operation writes to.
func WithSink(sink ProgressSink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithCheckWarnings makes a CompositeOperation skip dependents of operations that finished with
// warnings, in addition to those that failed. It has no effect on leaf operations.
func WithCheckWarnings() Option {
	return func(o *options) {
		o.checkWarnings = true
	}
}

func newOptions(opts []Option) options {
	o := options{weight: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.weight < 0 {
		o.weight = 0
	}

	return o
}

// Operation is the base executable unit. It owns its Status, a relative weight and a reference
// to the ProgressSink it writes to.
// Use NewOperation to create a new operation.
type Operation struct {
	def     Definition
	handler Handler
	bundle  Bundle
	lggr    logger.Logger
	id      string
	weight  int
	rule    LockingRule

	mu       sync.Mutex
	sink     ProgressSink
	executed bool
	status   Status
}

var _ Executable = (*Operation)(nil)

// NewOperation creates a new operation running handler.
func NewOperation(b Bundle, def Definition, handler Handler, opts ...Option) *Operation {
	o := newOptions(opts)
	b = b.withDefaults()
	id := "op_" + ksuid.New().String()

	return &Operation{
		def:     def,
		handler: handler,
		bundle:  b,
		lggr:    b.Logger.With("operation", def.ID, "instance", id),
		id:      id,
		weight:  o.weight,
		rule:    o.rule,
		sink:    o.sink,
		status:  OKStatus(def.Label()),
	}
}

// Name returns the operation ID.
func (o *Operation) Name() string { return o.def.ID }

// Def returns the operation definition.
func (o *Operation) Def() Definition { return o.def }

// InstanceID returns the unique id of this operation instance.
func (o *Operation) InstanceID() string { return o.id }

// Weight returns the relative weight of the operation.
func (o *Operation) Weight() int { return o.weight }

// Rule returns the locking requirement of the operation, nil when it has none.
func (o *Operation) Rule() LockingRule { return o.rule }

// Bundle returns the dependencies the operation was built with.
func (o *Operation) Bundle() Bundle { return o.bundle }

// Logger returns the operation scoped logger.
func (o *Operation) Logger() logger.Logger { return o.lggr }

// Sink returns the ProgressSink of the operation, nil when it has none.
func (o *Operation) Sink() ProgressSink {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.sink
}

// SetSink sets the ProgressSink of the operation. A nil sink disables console output.
func (o *Operation) SetSink(sink ProgressSink) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sink = sink
}

// Status returns the status of the operation.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.status
}

// ExecutionState returns NotExecuted until Run was called, then ExecutionError when the status
// is ERROR and ExecutionOK otherwise.
func (o *Operation) ExecutionState() ExecutionState {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case !o.executed:
		return NotExecuted
	case o.status.Severity() >= SeverityError:
		return ExecutionError
	default:
		return ExecutionOK
	}
}

// Run executes the operation body against monitor. It marks the start and end of the operation
// on the sink, converts errors and panics of the body into ERROR statuses and, when the host
// cancelled the run, makes sure the status tree holds exactly one cancellation.
func (o *Operation) Run(monitor ProgressMonitor) Executable {
	o.run(monitor)
	return o
}

func (o *Operation) run(monitor ProgressMonitor) {
	if monitor == nil {
		monitor = NullMonitor{}
	}
	slice := Slice(monitor, 1)

	o.mu.Lock()
	o.executed = true
	o.mu.Unlock()

	// Host sinks and monitors run outside the body's recover. Their panics are recorded
	// without touching the sink again.
	defer func() {
		if r := recover(); r != nil {
			o.lggr.Errorw("Operation panicked outside its body", "id", o.def.ID, "panic", r)
			o.mergeStatus(NewStatus(SeverityError, o.msg("operation.panicked", o.def.ID, r), &panicError{value: r}))
			func() {
				defer func() { _ = recover() }()
				slice.Done()
			}()
		}
	}()

	o.lggr.Infow("Executing operation",
		"id", o.def.ID, "version", o.def.VersionString(), "description", o.def.Description)

	sink := o.Sink()
	if sink != nil {
		sink.MarkStart(o.def.Label())
	}

	if o.handler != nil {
		o.invoke(func() error { return o.handler(o, slice) })
	}

	if monitor.IsCancelled() && !o.Status().Cancelled() {
		o.ReportStatus(SeverityError, o.msg("operation.cancelled"), ErrActivityCancelled)
	}
	slice.Done()

	if sink != nil {
		sink.MarkEnd()
	}

	st := o.Status()
	o.lggr.Debugw("Operation finished", "severity", st.Severity().String(), "state", o.ExecutionState().String())
}

// ProtectStep runs step under the same error handling as Run, reporting its failures into the
// operation status. The step receives a slice of monitor worth stepWeight/totalWeight, which is
// completed when the step returns.
func (o *Operation) ProtectStep(step Step, monitor ProgressMonitor, totalWeight, stepWeight int) {
	share := 1.0
	if totalWeight > 0 {
		share = float64(stepWeight) / float64(totalWeight)
	}
	sub := Slice(monitor, share)
	o.invoke(func() error { return step(sub) })
	sub.Done()
}

// invoke runs fn and converts a returned error or a panic into an ERROR status.
func (o *Operation) invoke(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			o.lggr.Errorw("Operation panicked", "panic", r)
			o.ReportStatus(SeverityError, o.msg("operation.panicked", o.def.ID, r), &panicError{value: r})
		}
	}()

	if err := fn(); err != nil {
		o.reportError(err)
	}
}

func (o *Operation) reportError(err error) {
	if IsCancellation(err) {
		o.ReportStatus(SeverityError, o.msg("operation.cancelled"), err)
		return
	}
	o.ReportStatus(SeverityError, o.msg("operation.failed", o.def.ID), err)
}

// ReportStatus appends a node to the operation status and writes it to the sink: cancellations
// as a cancelled marker, other errors and warnings as formatted lines. OK nodes are not written.
func (o *Operation) ReportStatus(severity Severity, message string, cause error) {
	st := NewStatus(severity, message, cause)

	o.mu.Lock()
	o.status = o.status.Add(st)
	sink := o.sink
	o.mu.Unlock()

	if st.Severity() > SeverityOK {
		o.lggr.Debugw("Status reported",
			"severity", st.Severity().String(), "kind", st.Kind().String(), "message", message)
	}
	if sink == nil {
		return
	}

	switch {
	case st.Severity() == SeverityError && st.Kind() == KindCancelled:
		sink.MarkCancelled()
	case st.Severity() == SeverityError:
		sink.Write(SeverityError, o.msg("console.error", describe(message, cause)))
	case st.Severity() == SeverityWarning:
		sink.Write(SeverityWarning, o.msg("console.warning", describe(message, cause)))
	}
}

// mergeStatus appends a completed child status without writing it to the sink again.
func (o *Operation) mergeStatus(child Status) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.status = o.status.Add(child)
}

// WriteToConsole writes a line to the sink, if any, without touching the status.
func (o *Operation) WriteToConsole(severity Severity, text string) {
	if sink := o.Sink(); sink != nil {
		sink.Write(severity, text)
	}
}

func (o *Operation) msg(key string, args ...any) string {
	return o.bundle.Messages.Resolve(key, args...)
}

func describe(message string, cause error) string {
	if cause == nil {
		return message
	}

	return message + " " + cause.Error()
}
