package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load(t *testing.T) {
	t.Parallel()

	p, err := Load("testdata/nightly.yml")
	require.NoError(t, err)

	assert.Equal(t, "nightly", p.Name)
	assert.Equal(t, "Nightly update and build", p.Description)
	assert.Equal(t, "1.2.0", p.Version)
	assert.True(t, p.CheckWarnings)
	require.Len(t, p.Steps, 3)

	update := p.Steps[0]
	assert.Equal(t, "update", update.ID)
	assert.Equal(t, "svn update --non-interactive", update.CommandLine())
	require.NotNil(t, update.Weight)
	assert.Equal(t, 3, *update.Weight)

	build := p.Steps[1]
	assert.Nil(t, build.Weight)
	assert.Equal(t, "/wc", build.Dir)
	assert.Equal(t, map[string]string{"GOFLAGS": "-mod=mod"}, build.Env)
	assert.Equal(t, []string{"update"}, build.DependsOn)

	notify := p.Steps[2]
	assert.Equal(t, "notify@1.0.0", notify.Uses)
	assert.True(t, notify.AllowFailure)

	_, err = Load("testdata/missing.yml")
	require.ErrorContains(t, err, "failed to read pipeline file testdata/missing.yml")
}

func Test_Parse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    string
		wantErr []string
	}{
		{
			name: "minimal",
			give: `
name: minimal
steps:
  - id: status
    command: svn
    args: [status]
`,
		},
		{
			name:    "empty document",
			give:    ``,
			wantErr: []string{"pipeline is missing required 'name' field", "pipeline has no steps"},
		},
		{
			name: "unknown field",
			give: `
name: typo
steps:
  - id: a
    comand: svn
`,
			wantErr: []string{"failed to parse pipeline", "comand"},
		},
		{
			name: "missing id",
			give: `
name: p
steps:
  - command: svn
`,
			wantErr: []string{"step 0 is missing required 'id' field"},
		},
		{
			name: "duplicate id",
			give: `
name: p
steps:
  - id: a
    command: svn
  - id: a
    command: make
`,
			wantErr: []string{"step 'a' is declared more than once"},
		},
		{
			name: "neither command nor handler",
			give: `
name: p
steps:
  - id: a
`,
			wantErr: []string{"step 'a' must set either 'command' or 'uses'"},
		},
		{
			name: "both command and handler",
			give: `
name: p
steps:
  - id: a
    command: svn
    uses: checkout
`,
			wantErr: []string{"step 'a' cannot set both 'command' and 'uses'"},
		},
		{
			name: "forward dependency",
			give: `
name: p
steps:
  - id: a
    command: svn
    depends_on: [b]
  - id: b
    command: make
`,
			wantErr: []string{"step 'a' depends on 'b' which is not declared before it"},
		},
		{
			name: "self dependency",
			give: `
name: p
steps:
  - id: a
    command: svn
    depends_on: [a]
`,
			wantErr: []string{"step 'a' depends on itself"},
		},
		{
			name: "negative weight and invalid version",
			give: `
name: p
version: not-a-version
steps:
  - id: a
    command: svn
    weight: -1
`,
			wantErr: []string{"step 'a' has a negative weight", `invalid pipeline version "not-a-version"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := Parse([]byte(tt.give))

			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				assert.NotNil(t, p)

				return
			}
			for _, want := range tt.wantErr {
				require.ErrorContains(t, err, want)
			}
		})
	}
}
