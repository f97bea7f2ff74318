package operations

// LockingRule describes the resources an operation needs exclusive access to. The framework
// never acquires anything; it only aggregates rules so the host scheduler can enforce them
// before running an operation tree.
type LockingRule interface {
	// Contains reports whether this rule covers other.
	Contains(other LockingRule) bool
	// Conflicts reports whether this rule and other cannot be held at the same time.
	Conflicts(other LockingRule) bool
}

// RuleCombiner merges two rules into one covering both. Either argument may be nil.
type RuleCombiner func(a, b LockingRule) LockingRule

// MultiRule is the default combination of several rules.
type MultiRule []LockingRule

var _ LockingRule = MultiRule{}

// Contains reports whether any member covers other, or every member of a MultiRule other.
func (r MultiRule) Contains(other LockingRule) bool {
	if o, ok := other.(MultiRule); ok {
		for _, member := range o {
			if !r.Contains(member) {
				return false
			}
		}

		return true
	}
	for _, member := range r {
		if member.Contains(other) {
			return true
		}
	}

	return false
}

// Conflicts reports whether any member conflicts with other.
func (r MultiRule) Conflicts(other LockingRule) bool {
	for _, member := range r {
		if member.Conflicts(other) {
			return true
		}
	}

	return false
}

// CombineRules is the default RuleCombiner. Nil rules are ignored, rules already covered are
// not repeated and nested MultiRules are flattened.
func CombineRules(a, b LockingRule) LockingRule {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Contains(b):
		return a
	case b.Contains(a):
		return b
	}

	var out MultiRule
	for _, r := range []LockingRule{a, b} {
		if m, ok := r.(MultiRule); ok {
			out = append(out, m...)
		} else {
			out = append(out, r)
		}
	}

	return out
}

// PathRule locks a single resource path, e.g. a working copy root. Two path rules conflict when
// one path is an ancestor of, or equal to, the other.
type PathRule string

var _ LockingRule = PathRule("")

// Contains reports whether other is a PathRule at or below r.
func (r PathRule) Contains(other LockingRule) bool {
	o, ok := other.(PathRule)
	return ok && isAncestor(string(r), string(o))
}

// Conflicts reports whether r and other overlap.
func (r PathRule) Conflicts(other LockingRule) bool {
	switch o := other.(type) {
	case PathRule:
		return isAncestor(string(r), string(o)) || isAncestor(string(o), string(r))
	case MultiRule:
		return o.Conflicts(r)
	default:
		return false
	}
}

func isAncestor(parent, child string) bool {
	if parent == child {
		return true
	}
	if len(child) <= len(parent) || child[:len(parent)] != parent {
		return false
	}

	return parent == "" || parent[len(parent)-1] == '/' || child[len(parent)] == '/'
}
