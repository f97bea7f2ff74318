// Package pipeline builds operation trees from YAML pipeline files.
//
// A pipeline is a named list of steps. Each step either runs an external command or invokes a
// handler registered in the operations.HandlerRegistry of the bundle. Steps run in declaration
// order and may depend on steps declared before them; a step whose dependency failed is not
// executed.
//
// Example:
//
//	name: nightly-update
//	check_warnings: true
//	steps:
//	  - id: update
//	    command: svn
//	    args: [update, --non-interactive]
//	    weight: 3
//	  - id: build
//	    command: make
//	    depends_on: [update]
//	  - id: notify
//	    uses: notify@1.0.0
//	    allow_failure: true
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Pipeline is the definition of a pipeline file.
type Pipeline struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description,omitempty"`
	Version       string `yaml:"version,omitempty"`
	CheckWarnings bool   `yaml:"check_warnings,omitempty"`
	Steps         []Step `yaml:"steps"`
}

// Step is a single step of a pipeline.
type Step struct {
	ID           string            `yaml:"id"`
	Description  string            `yaml:"description,omitempty"`
	Weight       *int              `yaml:"weight,omitempty"` // Defaults to 1
	Command      string            `yaml:"command,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	Dir          string            `yaml:"dir,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Uses         string            `yaml:"uses,omitempty"` // A registered handler, "id" or "id@version"
	DependsOn    []string          `yaml:"depends_on,omitempty"`
	AllowFailure bool              `yaml:"allow_failure,omitempty"`
}

// CommandLine returns the command and its arguments as a single line.
func (s Step) CommandLine() string {
	return strings.Join(append([]string{s.Command}, s.Args...), " ")
}

// Load reads and validates the pipeline file at path.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %s: %w", path, err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline file %s: %w", path, err)
	}

	return p, nil
}

// Parse decodes and validates a pipeline definition. Unknown fields are rejected.
func Parse(data []byte) (*Pipeline, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Pipeline
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// Validate checks that the pipeline can be built: steps have unique ids, run exactly one of a
// command or a handler, and only depend on steps declared before them.
func (p *Pipeline) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("pipeline is missing required 'name' field"))
	}
	if p.Version != "" {
		if _, err := semver.NewVersion(p.Version); err != nil {
			errs = append(errs, fmt.Errorf("invalid pipeline version %q: %w", p.Version, err))
		}
	}
	if len(p.Steps) == 0 {
		errs = append(errs, errors.New("pipeline has no steps"))
	}

	declared := make(map[string]bool, len(p.Steps))
	for i, step := range p.Steps {
		if step.ID == "" {
			errs = append(errs, fmt.Errorf("step %d is missing required 'id' field", i))
			continue
		}
		if declared[step.ID] {
			errs = append(errs, fmt.Errorf("step '%s' is declared more than once", step.ID))
		}

		switch {
		case step.Command == "" && step.Uses == "":
			errs = append(errs, fmt.Errorf("step '%s' must set either 'command' or 'uses'", step.ID))
		case step.Command != "" && step.Uses != "":
			errs = append(errs, fmt.Errorf("step '%s' cannot set both 'command' and 'uses'", step.ID))
		}
		if step.Weight != nil && *step.Weight < 0 {
			errs = append(errs, fmt.Errorf("step '%s' has a negative weight", step.ID))
		}

		for _, dep := range step.DependsOn {
			switch {
			case dep == step.ID:
				errs = append(errs, fmt.Errorf("step '%s' depends on itself", step.ID))
			case !declared[dep]:
				errs = append(errs, fmt.Errorf("step '%s' depends on '%s' which is not declared before it", step.ID, dep))
			}
		}
		declared[step.ID] = true
	}

	return errors.Join(errs...)
}
