package operations

import (
	"slices"

	"github.com/samber/lo"
)

// compositeEntry is a child operation together with the operations it depends on.
type compositeEntry struct {
	op   Executable
	deps []Executable
}

// CompositeOperation runs an ordered list of child operations sequentially, in insertion order.
// A child is skipped when one of its dependencies failed, was itself skipped, or (with
// WithCheckWarnings) finished with warnings. The composite merges the final status of every
// child it ran into its own status, and is itself an Executable so composites nest.
//
// Dependencies must be operations added earlier to the same composite: the gate only looks at
// operations that already finished.
type CompositeOperation struct {
	*Operation

	checkWarnings bool
	entries       []compositeEntry
	totalWeight   int
}

var (
	_ Executable   = (*CompositeOperation)(nil)
	_ ProgressSink = (*CompositeOperation)(nil)
)

// NewCompositeOperation creates an empty composite operation.
func NewCompositeOperation(b Bundle, def Definition, opts ...Option) *CompositeOperation {
	o := newOptions(opts)
	c := &CompositeOperation{checkWarnings: o.checkWarnings}
	c.Operation = NewOperation(b, def, c.runEntries, opts...)

	return c
}

// Add appends child to the composite. The child will only run when every operation in deps
// finished successfully. The composite becomes the child's ProgressSink.
func (c *CompositeOperation) Add(child Executable, deps ...Executable) *CompositeOperation {
	c.entries = append(c.entries, compositeEntry{op: child, deps: slices.Clone(deps)})
	c.totalWeight += child.Weight()
	child.SetSink(c)

	return c
}

// Remove removes a child that has not run yet and reports whether it was removed.
func (c *CompositeOperation) Remove(child Executable) bool {
	idx := slices.IndexFunc(c.entries, func(e compositeEntry) bool { return e.op == child })
	if idx < 0 || child.ExecutionState() != NotExecuted {
		return false
	}

	c.entries = slices.Delete(c.entries, idx, idx+1)
	c.totalWeight -= child.Weight()

	return true
}

// TotalWeight returns the sum of the weights of the children.
func (c *CompositeOperation) TotalWeight() int { return c.totalWeight }

// CheckWarnings reports whether warnings of a dependency skip its dependents.
func (c *CompositeOperation) CheckWarnings() bool { return c.checkWarnings }

// Entries returns the children in execution order.
func (c *CompositeOperation) Entries() []Executable {
	return lo.Map(c.entries, func(e compositeEntry, _ int) Executable { return e.op })
}

// Dependencies returns the dependencies child was added with.
func (c *CompositeOperation) Dependencies(child Executable) []Executable {
	for _, e := range c.entries {
		if e.op == child {
			return slices.Clone(e.deps)
		}
	}

	return nil
}

// Run executes the children and returns the composite itself.
func (c *CompositeOperation) Run(monitor ProgressMonitor) Executable {
	c.run(monitor)
	return c
}

// Rule combines the composite's own rule with the rules of all its children using the bundle's
// RuleCombiner. It is meant to be queried once, before the tree runs.
func (c *CompositeOperation) Rule() LockingRule {
	return lo.Reduce(c.entries, func(agg LockingRule, e compositeEntry, _ int) LockingRule {
		return c.bundle.RuleCombiner(agg, e.op.Rule())
	}, c.Operation.Rule())
}

// runEntries is the body of the composite.
func (c *CompositeOperation) runEntries(_ *Operation, monitor ProgressMonitor) error {
	entries := slices.Clone(c.entries)
	total := c.totalWeight

	for _, e := range entries {
		if monitor.IsCancelled() {
			c.lggr.Debugw("Composite cancelled", "remaining", e.op.Name())
			break
		}

		share := 0.0
		if total > 0 {
			share = float64(e.op.Weight()) / float64(total)
		}
		sub := Slice(monitor, share)

		if dep := c.blockingDependency(e); dep != nil {
			c.lggr.Infow("Skipping operation", "id", e.op.Name(),
				"dependency", dep.Name(), "dependencyState", dep.ExecutionState().String())
			sub.Done()

			continue
		}

		monitor.SubTask(e.op.Def().Label())
		e.op.Run(sub)
		sub.Done()
		c.mergeStatus(e.op.Status())
	}

	return nil
}

// blockingDependency returns the first dependency of e that prevents it from running.
func (c *CompositeOperation) blockingDependency(e compositeEntry) Executable {
	for _, dep := range e.deps {
		severity := dep.Status().Severity()
		switch {
		case dep.ExecutionState() == NotExecuted:
			return dep
		case severity >= SeverityError:
			return dep
		case c.checkWarnings && severity >= SeverityWarning:
			return dep
		}
	}

	return nil
}

// MarkStart forwards to the composite's sink.
func (c *CompositeOperation) MarkStart(label string) {
	if sink := c.Sink(); sink != nil {
		sink.MarkStart(label)
	}
}

// Write forwards to the composite's sink.
func (c *CompositeOperation) Write(severity Severity, text string) {
	if sink := c.Sink(); sink != nil {
		sink.Write(severity, text)
	}
}

// MarkEnd forwards to the composite's sink.
func (c *CompositeOperation) MarkEnd() {
	if sink := c.Sink(); sink != nil {
		sink.MarkEnd()
	}
}

// MarkCancelled forwards to the composite's sink.
func (c *CompositeOperation) MarkCancelled() {
	if sink := c.Sink(); sink != nil {
		sink.MarkCancelled()
	}
}

// DoComplexWrite forwards to the composite's sink.
func (c *CompositeOperation) DoComplexWrite(render func(write WriteFunc)) {
	if sink := c.Sink(); sink != nil {
		sink.DoComplexWrite(render)
	}
}
