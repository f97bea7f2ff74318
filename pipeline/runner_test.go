package pipeline

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outputLine struct {
	stream Stream
	text   string
}

func lookPathForTest(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s is not available: %v", name, err)
	}
}

func Test_ExecRunner_Run(t *testing.T) {
	t.Parallel()
	lookPathForTest(t, "sh")

	tests := []struct {
		name      string
		give      Command
		want      []outputLine
		unordered bool // stdout and stderr are copied concurrently
		wantErr   string
	}{
		{
			name: "streams stdout and stderr",
			give: Command{Name: "sh", Args: []string{"-c", "echo one; echo two >&2; printf three"}},
			want: []outputLine{
				{Stdout, "one"},
				{Stderr, "two"},
				{Stdout, "three"},
			},
			unordered: true,
		},
		{
			name: "environment and directory",
			give: Command{
				Name: "sh",
				Args: []string{"-c", `echo "$REVISION"; pwd`},
				Dir:  "/",
				Env:  []string{"REVISION=42"},
			},
			want: []outputLine{
				{Stdout, "42"},
				{Stdout, "/"},
			},
		},
		{
			name:    "non zero exit",
			give:    Command{Name: "sh", Args: []string{"-c", "echo failing; exit 3"}},
			want:    []outputLine{{Stdout, "failing"}},
			wantErr: "sh: exit status 3",
		},
		{
			name:    "missing binary",
			give:    Command{Name: "definitely-not-a-command"},
			wantErr: "definitely-not-a-command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got []outputLine
			err := ExecRunner{}.Run(t.Context(), tt.give, func(stream Stream, text string) {
				got = append(got, outputLine{stream, text})
			})

			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			if tt.unordered {
				assert.ElementsMatch(t, tt.want, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func Test_ExecRunner_Cancelled(t *testing.T) {
	t.Parallel()
	lookPathForTest(t, "sleep")

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ExecRunner{WaitDelay: time.Second}.Run(ctx, Command{Name: "sleep", Args: []string{"30"}}, nil)
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func Test_lineWriter(t *testing.T) {
	t.Parallel()

	var got []string
	w := &lineWriter{mu: &sync.Mutex{}, stream: Stdout, out: func(_ Stream, text string) {
		got = append(got, text)
	}}

	_, err := w.Write([]byte("At rev"))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = w.Write([]byte("ision 7.\r\nU    a\nU    b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"At revision 7.", "U    a"}, got)

	w.flush()
	assert.Equal(t, []string{"At revision 7.", "U    a", "U    b"}, got)

	w.flush()
	assert.Len(t, got, 3)
}
