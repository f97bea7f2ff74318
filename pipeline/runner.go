package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Stream identifies the output stream a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// String implements fmt.Stringer.
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}

	return "stdout"
}

// Command is an external command run by a pipeline step.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // KEY=VALUE pairs added to the environment of the current process
}

// OutputFunc receives every complete output line of a command. Calls are serialized.
type OutputFunc func(stream Stream, line string)

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command, out OutputFunc) error
}

// ExecRunner runs commands as child processes. The process is killed when ctx is done.
type ExecRunner struct {
	// WaitDelay bounds how long output is still read after the process was killed.
	// Defaults to 5 seconds.
	WaitDelay time.Duration
}

var _ Runner = ExecRunner{}

// Run starts cmd, streams its output line by line to out and waits for it to exit.
func (r ExecRunner) Run(ctx context.Context, cmd Command, out OutputFunc) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.WaitDelay = r.WaitDelay
	if c.WaitDelay <= 0 {
		c.WaitDelay = 5 * time.Second
	}

	var mu sync.Mutex
	stdout := &lineWriter{mu: &mu, stream: Stdout, out: out}
	stderr := &lineWriter{mu: &mu, stream: Stderr, out: out}
	c.Stdout = stdout
	c.Stderr = stderr

	err := c.Run()
	stdout.flush()
	stderr.flush()
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}

	return nil
}

// lineWriter splits written bytes into lines.
type lineWriter struct {
	mu     *sync.Mutex
	stream Stream
	out    OutputFunc
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

// flush emits the last line when the output did not end with a newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	if w.out != nil {
		w.out(w.stream, strings.TrimSuffix(string(line), "\r"))
	}
}
