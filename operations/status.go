package operations

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Severity is the severity of a Status node or of a line written to a ProgressSink.
// The ordering is significant: a higher value dominates a lower one when statuses are merged.
type Severity int

const (
	// SeverityCmd tags console lines that echo the command being executed. It is never
	// used as the severity of a Status.
	SeverityCmd Severity = iota
	SeverityOK
	SeverityWarning
	SeverityError
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityCmd:
		return "CMD"
	case SeverityOK:
		return "OK"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// FailureKind tags a Status node with the flavor of its failure. It is derived once from the
// cause when the node is built so that filtering does not depend on inspecting error types.
type FailureKind int

const (
	// KindNone is carried by OK nodes and by failures without any special handling.
	KindNone FailureKind = iota
	// KindReportable is a genuine failure that is shown to the user and logged.
	KindReportable
	// KindUnreportable is logged but must not raise a user facing alert.
	KindUnreportable
	// KindHidden is neither alerted nor logged.
	KindHidden
	// KindCancelled marks user or host initiated cancellation.
	KindCancelled
)

// String implements fmt.Stringer.
func (k FailureKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindReportable:
		return "reportable"
	case KindUnreportable:
		return "unreportable"
	case KindHidden:
		return "hidden"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Status is an immutable outcome record. A Status with children is a multi-status whose
// severity is the maximum of its own severity and the severities of its children.
//
// The zero value is not meaningful; use OKStatus, NewStatus or NewMultiStatus.
type Status struct {
	own      Severity
	severity Severity
	kind     FailureKind
	message  string
	cause    error
	children []Status
	multi    bool
}

// OKStatus returns a leaf status with severity OK.
func OKStatus(message string) Status {
	return Status{own: SeverityOK, severity: SeverityOK, message: message}
}

// NewStatus returns a leaf status. The failure kind is derived from cause for non-OK severities.
func NewStatus(severity Severity, message string, cause error) Status {
	if severity < SeverityOK {
		severity = SeverityOK
	}
	kind := KindNone
	if severity > SeverityOK {
		kind = ClassifyFailure(cause)
	}

	return Status{
		own:      severity,
		severity: severity,
		kind:     kind,
		message:  message,
		cause:    cause,
	}
}

// NewMultiStatus returns an OK container status holding children. Its severity is raised to the
// maximum severity among children.
func NewMultiStatus(message string, children ...Status) Status {
	s := Status{own: SeverityOK, severity: SeverityOK, message: message, multi: true}
	for _, c := range children {
		s = s.Add(c)
	}

	return s
}

// Add returns a copy of s with child appended. The returned status is a multi-status and its
// severity is raised to the child's severity when the child dominates.
func (s Status) Add(child Status) Status {
	children := make([]Status, len(s.children), len(s.children)+1)
	copy(children, s.children)

	out := s
	out.children = append(children, child)
	out.multi = true
	out.severity = max(out.severity, child.severity)

	return out
}

// Severity returns the aggregated severity of the status tree rooted at s.
func (s Status) Severity() Severity { return s.severity }

// Kind returns the failure kind of this node only.
func (s Status) Kind() FailureKind { return s.kind }

// Message returns the message of this node.
func (s Status) Message() string { return s.message }

// Cause returns the error that caused this node, if any.
func (s Status) Cause() error { return s.cause }

// Children returns a copy of the children of this node.
func (s Status) Children() []Status { return slices.Clone(s.children) }

// IsOK reports whether the aggregated severity is OK.
func (s Status) IsOK() bool { return s.severity <= SeverityOK }

// IsMulti reports whether s is a container node.
func (s Status) IsMulti() bool { return s.multi }

// Walk visits s and its descendants depth first. Returning false from fn stops descending into
// the children of the visited node.
func (s Status) Walk(fn func(depth int, node Status) bool) {
	s.walk(0, fn)
}

func (s Status) walk(depth int, fn func(int, Status) bool) {
	if !fn(depth, s) {
		return
	}
	for _, c := range s.children {
		c.walk(depth+1, fn)
	}
}

// Count returns the number of nodes in the tree with the given failure kind.
func (s Status) Count(kind FailureKind) int {
	n := 0
	s.Walk(func(_ int, node Status) bool {
		if node.kind == kind {
			n++
		}

		return true
	})

	return n
}

// Contains reports whether any node in the tree has the given failure kind.
func (s Status) Contains(kind FailureKind) bool {
	return s.Count(kind) > 0
}

// Cancelled reports whether the tree holds an ERROR node carrying a cancellation. Warnings
// caused by a cancellation do not count.
func (s Status) Cancelled() bool {
	found := false
	s.Walk(func(_ int, node Status) bool {
		if node.own >= SeverityError && node.kind == KindCancelled {
			found = true
		}

		return !found
	})

	return found
}

// Alertable reports whether the tree contains a failure that should be surfaced to the user,
// i.e. a non-OK node that is neither unreportable, hidden nor a cancellation.
func (s Status) Alertable() bool {
	found := false
	s.Walk(func(_ int, node Status) bool {
		if node.own > SeverityOK && (node.kind == KindReportable || node.kind == KindNone) {
			found = true
		}

		return !found
	})

	return found
}

// Filter returns a copy of the tree without the nodes rejected by keep and without OK leaves.
// Severities are recomputed bottom-up. The boolean result is false when nothing remains.
func (s Status) Filter(keep func(node Status) bool) (Status, bool) {
	if !keep(s) {
		return Status{}, false
	}

	out := s
	out.children = nil
	out.severity = s.own
	for _, c := range s.children {
		if fc, ok := c.Filter(keep); ok {
			out.children = append(out.children, fc)
			out.severity = max(out.severity, fc.severity)
		}
	}

	if out.own <= SeverityOK && len(out.children) == 0 {
		return Status{}, false
	}

	return out, true
}

// Err converts a non-OK status into an error joining the messages of its failed leaves.
// It returns nil when the status is OK.
func (s Status) Err() error {
	if s.IsOK() {
		return nil
	}

	var errs []error
	s.Walk(func(_ int, node Status) bool {
		if node.own > SeverityOK {
			if node.cause != nil {
				errs = append(errs, fmt.Errorf("%s: %w", node.message, node.cause))
			} else {
				errs = append(errs, errors.New(node.message))
			}
		}

		return true
	})

	return errors.Join(errs...)
}

// String renders the tree, one node per line, indented by depth.
func (s Status) String() string {
	var sb strings.Builder
	s.Walk(func(depth int, node Status) bool {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString("[")
		sb.WriteString(node.severity.String())
		sb.WriteString("] ")
		sb.WriteString(node.message)
		if node.cause != nil {
			sb.WriteString(": ")
			sb.WriteString(node.cause.Error())
		}
		sb.WriteString("\n")

		return true
	})

	return sb.String()
}
