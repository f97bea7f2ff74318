package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"

	"github.com/smartcontractkit/vcs-operations-framework/operations"
)

var ErrNoRegistry = errors.New("bundle has no handler registry")

type buildConfig struct {
	runner Runner
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithRunner sets the Runner used by command steps. Defaults to ExecRunner.
func WithRunner(runner Runner) BuildOption {
	return func(c *buildConfig) {
		c.runner = runner
	}
}

// Build turns p into a composite operation with one child per step, added in declaration order.
// Command steps write the command line and its output to the sink of the operation; stderr lines
// are written as warnings. Steps with allow_failure turn a returned error into a WARNING.
func Build(b operations.Bundle, p *Pipeline, opts ...BuildOption) (*operations.CompositeOperation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cfg := buildConfig{runner: ExecRunner{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	def := operations.Definition{ID: p.Name, Description: p.Description}
	if p.Version != "" {
		v, err := semver.NewVersion(p.Version)
		if err != nil {
			return nil, err
		}
		def.Version = v
	}

	var copts []operations.Option
	if p.CheckWarnings {
		copts = append(copts, operations.WithCheckWarnings())
	}
	root := operations.NewCompositeOperation(b, def, copts...)

	built := make(map[string]operations.Executable, len(p.Steps))
	for _, step := range p.Steps {
		op, err := buildStep(b, step, cfg)
		if err != nil {
			return nil, fmt.Errorf("step '%s': %w", step.ID, err)
		}

		deps := lo.Map(step.DependsOn, func(id string, _ int) operations.Executable {
			return built[id]
		})
		root.Add(op, deps...)
		built[step.ID] = op
	}

	return root, nil
}

func buildStep(b operations.Bundle, step Step, cfg buildConfig) (*operations.Operation, error) {
	var opts []operations.Option
	if step.Weight != nil {
		opts = append(opts, operations.WithWeight(*step.Weight))
	}

	def := operations.Definition{ID: step.ID, Description: step.Description}
	var handler operations.Handler
	if step.Uses != "" {
		if b.Registry == nil {
			return nil, ErrNoRegistry
		}
		registered, h, err := b.Registry.Parse(step.Uses)
		if err != nil {
			return nil, err
		}
		def.Version = registered.Version
		if def.Description == "" {
			def.Description = registered.Description
		}
		handler = h
	} else {
		handler = commandHandler(step, cfg.runner)
	}

	if step.AllowFailure {
		handler = allowFailure(step.ID, handler)
	}

	return operations.NewOperation(b, def, handler, opts...), nil
}

// commandHandler runs the command of step. A command interrupted by cancellation is reported
// as a cancellation rather than a failure.
func commandHandler(step Step, runner Runner) operations.Handler {
	cmd := Command{
		Name: step.Command,
		Args: slices.Clone(step.Args),
		Dir:  step.Dir,
	}
	for _, key := range slices.Sorted(maps.Keys(step.Env)) {
		cmd.Env = append(cmd.Env, key+"="+step.Env[key])
	}

	return func(op *operations.Operation, monitor operations.ProgressMonitor) error {
		ctx := operations.MonitorContext(monitor)
		line := step.CommandLine()

		op.WriteToConsole(operations.SeverityCmd, op.Bundle().Messages.Resolve("pipeline.command", line))
		monitor.SubTask(line)

		err := runner.Run(ctx, cmd, func(stream Stream, text string) {
			severity := operations.SeverityOK
			if stream == Stderr {
				severity = operations.SeverityWarning
			}
			op.WriteToConsole(severity, text)
		})
		if err != nil && (ctx.Err() != nil || monitor.IsCancelled()) {
			return operations.NewCancelledError(err)
		}

		return err
	}
}

// allowFailure downgrades an error returned by handler to a WARNING. Cancellations are kept.
func allowFailure(stepID string, handler operations.Handler) operations.Handler {
	return func(op *operations.Operation, monitor operations.ProgressMonitor) error {
		err := handler(op, monitor)
		if err == nil || operations.IsCancellation(err) {
			return err
		}
		op.ReportStatus(operations.SeverityWarning, op.Bundle().Messages.Resolve("pipeline.allowed_failure", stepID), err)

		return nil
	}
}
