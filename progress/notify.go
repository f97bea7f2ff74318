package progress

import (
	"fmt"
	"sync"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/messages"
)

// Action is the kind of event a version-control client reports for an item.
type Action int

const (
	ActionAdd Action = iota
	ActionDelete
	ActionRestore
	ActionRevert
	ActionFailedRevert
	ActionResolved
	ActionSkip
	ActionUpdateAdd
	ActionUpdateDelete
	ActionUpdateUpdate
	ActionUpdateExternal
	ActionUpdateCompleted
	ActionUpdateExists
	ActionTreeConflict
	ActionStatusCompleted
	ActionCommitAdded
	ActionCommitDeleted
	ActionCommitModified
	ActionCommitReplaced
	ActionCommitPostfixTxdelta
	ActionLocked
	ActionUnlocked
)

var actionNames = map[Action]string{
	ActionAdd:                  "add",
	ActionDelete:               "delete",
	ActionRestore:              "restore",
	ActionRevert:               "revert",
	ActionFailedRevert:         "failed_revert",
	ActionResolved:             "resolved",
	ActionSkip:                 "skip",
	ActionUpdateAdd:            "update_add",
	ActionUpdateDelete:         "update_delete",
	ActionUpdateUpdate:         "update_update",
	ActionUpdateExternal:       "update_external",
	ActionUpdateCompleted:      "update_completed",
	ActionUpdateExists:         "update_exists",
	ActionTreeConflict:         "tree_conflict",
	ActionStatusCompleted:      "status_completed",
	ActionCommitAdded:          "commit_added",
	ActionCommitDeleted:        "commit_deleted",
	ActionCommitModified:       "commit_modified",
	ActionCommitReplaced:       "commit_replaced",
	ActionCommitPostfixTxdelta: "commit_postfix_txdelta",
	ActionLocked:               "locked",
	ActionUnlocked:             "unlocked",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}

	return fmt.Sprintf("Action(%d)", int(a))
}

// State is the content or property state of an item after an action.
type State int

const (
	StateInapplicable State = iota
	StateUnknown
	StateUnchanged
	StateMissing
	StateObstructed
	StateChanged
	StateMerged
	StateConflicted
)

// NodeKind is the type of the item a notification is about.
type NodeKind int

const (
	NodeNone NodeKind = iota
	NodeFile
	NodeDir
	NodeUnknown
)

// Notification is a single item level event reported by a version-control client.
type Notification struct {
	Path         string
	Action       Action
	Kind         NodeKind
	ContentState State
	PropState    State
	Revision     int64
}

// IsConflict reports whether the notification describes a text, property or tree conflict.
func (n Notification) IsConflict() bool {
	return n.Action == ActionTreeConflict ||
		n.ContentState == StateConflicted ||
		n.PropState == StateConflicted
}

// Notifier receives the notifications of a version-control client. A non-nil error asks the
// client to abort the call in progress.
type Notifier interface {
	Notify(n Notification) error
}

// line is the console rendering of a notification.
type line struct {
	key      string
	args     []any
	severity operations.Severity
}

func pathLine(key string, n Notification) line {
	return line{key: key, args: []any{n.Path}, severity: operations.SeverityOK}
}

func warningLine(key string, n Notification) line {
	return line{key: key, args: []any{n.Path}, severity: operations.SeverityWarning}
}

// describe maps a notification onto its console line. It returns false for notifications
// that print nothing, such as updates that left the item unchanged.
func describe(n Notification) (line, bool) {
	switch n.Action {
	case ActionAdd, ActionUpdateAdd:
		if n.ContentState == StateConflicted {
			return warningLine("notify.conflicted", n), true
		}
		if n.ContentState == StateObstructed {
			return warningLine("notify.obstructed", n), true
		}
		return pathLine("notify.added", n), true
	case ActionDelete, ActionUpdateDelete:
		return pathLine("notify.deleted", n), true
	case ActionUpdateUpdate:
		return describeUpdate(n)
	case ActionUpdateExists:
		return pathLine("notify.exists", n), true
	case ActionUpdateExternal:
		return pathLine("notify.external", n), true
	case ActionUpdateCompleted:
		return line{key: "notify.update_completed", args: []any{n.Revision}, severity: operations.SeverityOK}, true
	case ActionStatusCompleted:
		return line{key: "notify.status_completed", args: []any{n.Revision}, severity: operations.SeverityOK}, true
	case ActionTreeConflict:
		return warningLine("notify.tree_conflict", n), true
	case ActionRestore:
		return pathLine("notify.restored", n), true
	case ActionRevert:
		return pathLine("notify.reverted", n), true
	case ActionFailedRevert:
		return pathLine("notify.revert_failed", n), true
	case ActionResolved:
		return pathLine("notify.resolved", n), true
	case ActionSkip:
		if n.ContentState == StateObstructed {
			return warningLine("notify.skipped_obstruction", n), true
		}
		return pathLine("notify.skipped", n), true
	case ActionCommitAdded:
		return pathLine("notify.commit_added", n), true
	case ActionCommitDeleted:
		return pathLine("notify.commit_deleted", n), true
	case ActionCommitModified:
		return pathLine("notify.commit_modified", n), true
	case ActionCommitReplaced:
		return pathLine("notify.commit_replaced", n), true
	case ActionCommitPostfixTxdelta:
		return pathLine("notify.commit_postfix", n), true
	case ActionLocked:
		return pathLine("notify.locked", n), true
	case ActionUnlocked:
		return pathLine("notify.unlocked", n), true
	default:
		return pathLine("notify.unknown", n), true
	}
}

// describeUpdate renders an updated item. Content states win over property states.
func describeUpdate(n Notification) (line, bool) {
	switch {
	case n.ContentState == StateConflicted:
		return warningLine("notify.conflicted", n), true
	case n.ContentState == StateObstructed:
		return warningLine("notify.obstructed", n), true
	case n.PropState == StateConflicted:
		return warningLine("notify.prop_conflicted", n), true
	case n.ContentState == StateMerged:
		return pathLine("notify.merged", n), true
	case n.ContentState == StateChanged:
		return pathLine("notify.updated", n), true
	case n.PropState == StateMerged:
		return pathLine("notify.prop_merged", n), true
	case n.PropState == StateChanged:
		return pathLine("notify.prop_updated", n), true
	default:
		return line{}, false
	}
}

// ConsoleWriter is the part of an operation the adapters write to.
type ConsoleWriter interface {
	WriteToConsole(severity operations.Severity, text string)
}

// NotifyAdapter bridges a version-control client's notifications into an operation: it checks
// the host monitor for cancellation, prints each notification and updates the sub task label.
type NotifyAdapter struct {
	out      ConsoleWriter
	monitor  operations.ProgressMonitor
	messages messages.Resolver

	mu      sync.Mutex
	counter *operations.Counter
	total   int64
	current int64
}

var _ Notifier = (*NotifyAdapter)(nil)

// AdapterOption configures a NotifyAdapter.
type AdapterOption func(*NotifyAdapter)

// WithAdapterMessages sets the resolver used to render notifications.
func WithAdapterMessages(resolver messages.Resolver) AdapterOption {
	return func(a *NotifyAdapter) {
		a.messages = resolver
	}
}

// WithTotal sets the number of notifications expected, so that each one advances progress.
func WithTotal(total int64) AdapterOption {
	return func(a *NotifyAdapter) {
		a.total = total
	}
}

// NewNotifyAdapter creates an adapter writing to op and polling monitor. Messages are resolved
// with op's bundle unless WithAdapterMessages is given.
func NewNotifyAdapter(op *operations.Operation, monitor operations.ProgressMonitor, opts ...AdapterOption) *NotifyAdapter {
	return newNotifyAdapter(op, op.Bundle().Messages, monitor, opts...)
}

func newNotifyAdapter(
	out ConsoleWriter, resolver messages.Resolver, monitor operations.ProgressMonitor, opts ...AdapterOption,
) *NotifyAdapter {
	if monitor == nil {
		monitor = operations.NullMonitor{}
	}
	if resolver == nil {
		resolver = messages.Default()
	}
	a := &NotifyAdapter{
		out:      out,
		monitor:  monitor,
		messages: resolver,
		counter:  operations.NewCounter(monitor),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Notify handles one notification. It returns operations.ErrOperationCancelled, without
// printing anything, once the host monitor is cancelled.
func (a *NotifyAdapter) Notify(n Notification) error {
	if a.monitor.IsCancelled() {
		return operations.ErrOperationCancelled
	}

	if l, ok := describe(n); ok {
		a.out.WriteToConsole(l.severity, a.messages.Resolve(l.key, l.args...))
	}
	if n.Path != "" {
		a.monitor.SubTask(n.Path)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.total > 0 {
		a.current++
		a.counter.Progress(a.total, a.current)
	}

	return nil
}

// Progress forwards a (total, current) weight pair reported by the client to the host monitor.
func (a *NotifyAdapter) Progress(total, current int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counter.Progress(total, current)
}

// ConflictHandler is called with the first conflict notification of each path.
type ConflictHandler func(n Notification)

// ConflictAdapter is a NotifyAdapter that additionally hands conflicts to a handler, exactly
// once per conflicting path.
type ConflictAdapter struct {
	*NotifyAdapter

	handler   ConflictHandler
	mu        sync.Mutex
	seen      map[string]struct{}
	conflicts []string
}

var _ Notifier = (*ConflictAdapter)(nil)

// NewConflictAdapter creates a conflict detecting adapter writing to op.
func NewConflictAdapter(
	op *operations.Operation, monitor operations.ProgressMonitor, handler ConflictHandler, opts ...AdapterOption,
) *ConflictAdapter {
	return &ConflictAdapter{
		NotifyAdapter: NewNotifyAdapter(op, monitor, opts...),
		handler:       handler,
		seen:          make(map[string]struct{}),
	}
}

// Notify handles the notification like NotifyAdapter and then reports new conflicts.
func (a *ConflictAdapter) Notify(n Notification) error {
	if err := a.NotifyAdapter.Notify(n); err != nil {
		return err
	}
	if !n.IsConflict() {
		return nil
	}

	a.mu.Lock()
	if _, ok := a.seen[n.Path]; ok {
		a.mu.Unlock()
		return nil
	}
	a.seen[n.Path] = struct{}{}
	a.conflicts = append(a.conflicts, n.Path)
	a.mu.Unlock()

	if a.handler != nil {
		a.handler(n)
	}

	return nil
}

// Conflicts returns the conflicting paths in the order they were first reported.
func (a *ConflictAdapter) Conflicts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, len(a.conflicts))
	copy(out, a.conflicts)

	return out
}
