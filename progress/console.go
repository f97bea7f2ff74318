package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
	"github.com/smartcontractkit/vcs-operations-framework/pkg/messages"
)

// Console is a ProgressSink printing to an io.Writer. Every started operation indents the lines
// written until its end marker.
type Console struct {
	w           io.Writer
	messages    messages.Resolver
	indent      string
	minSeverity operations.Severity

	mu    sync.Mutex
	depth int
	err   error
}

var _ operations.ProgressSink = (*Console)(nil)

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithConsoleMessages sets the resolver used for start and cancel markers.
func WithConsoleMessages(resolver messages.Resolver) ConsoleOption {
	return func(c *Console) {
		c.messages = resolver
	}
}

// WithIndent sets the string repeated once per nesting level. Defaults to two spaces.
func WithIndent(indent string) ConsoleOption {
	return func(c *Console) {
		c.indent = indent
	}
}

// WithMinSeverity drops lines below severity. Markers are always printed.
func WithMinSeverity(severity operations.Severity) ConsoleOption {
	return func(c *Console) {
		c.minSeverity = severity
	}
}

// NewConsole creates a console writing to w.
func NewConsole(w io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		w:        w,
		messages: messages.Default(),
		indent:   "  ",
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Console) MarkStart(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeLine(c.messages.Resolve("console.started", label))
	c.depth++
}

func (c *Console) Write(severity operations.Severity, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.write(severity, text)
}

func (c *Console) MarkEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.depth = max(0, c.depth-1)
	if c.depth == 0 {
		c.writeLine(c.messages.Resolve("console.finished"))
	}
}

func (c *Console) MarkCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeLine(c.messages.Resolve("console.cancelled"))
}

// DoComplexWrite runs render while holding the console, so its lines are never interleaved
// with other writers. render must only write through the function it receives.
func (c *Console) DoComplexWrite(render func(write operations.WriteFunc)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	render(c.write)
}

// Err returns the first error returned by the underlying writer.
func (c *Console) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

func (c *Console) write(severity operations.Severity, text string) {
	if severity != operations.SeverityCmd && severity < c.minSeverity {
		return
	}
	for line := range strings.SplitSeq(strings.TrimRight(text, "\n"), "\n") {
		c.writeLine(line)
	}
}

func (c *Console) writeLine(text string) {
	if c.err != nil {
		return
	}
	if _, err := fmt.Fprintf(c.w, "%s%s\n", strings.Repeat(c.indent, c.depth), text); err != nil {
		c.err = err
	}
}
