// Package canon normalizes logical plans so that semantically equivalent
// query shapes converge to one structural form. Rules are pure plan-node
// transforms applied bottom-up to fixpoint by a Registry.
package canon

import (
	"errors"
	"sort"
	"strings"

	"github.com/guileen/heimdall/plan"
)

// MaxPasses bounds the fixpoint iteration. A plan that is still changing
// after this many passes is reported as diverged and left un-canonicalized.
const MaxPasses = 32

// ErrDiverged is returned when the rule set fails to reach a fixpoint
// within MaxPasses iterations.
var ErrDiverged = errors.New("canonicalization diverged")

// Rule is a pure transform over a single plan node. Apply returns the input
// node unchanged (same pointer or structurally identical) when the rule does
// not fire; it never mutates its argument.
type Rule interface {
	Apply(node *plan.PlanNode) *plan.PlanNode
	Name() string
}

// Registry holds the rule sequence. Registration happens at initialization;
// the registry is read-only afterwards and safe for concurrent use.
type Registry struct {
	rules []Rule
}

// NewRegistry returns a registry with the standard rule set, in application
// order: IN expansion first so the resulting OR chains take part in the
// commutative ordering of the same pass.
func NewRegistry() *Registry {
	return &Registry{rules: []Rule{
		InExpansion{},
		SubqueryUnnesting{},
		PredicatePushdown{},
		AssociativeJoin{},
		CommutativeJoin{},
	}}
}

// Register appends a rule. Not safe to call once the registry is in use.
func (r *Registry) Register(rule Rule) {
	r.rules = append(r.rules, rule)
}

// Rules returns the registered rules in application order.
func (r *Registry) Rules() []Rule {
	return r.rules
}

// Canonicalize applies the rule set bottom-up, iterating the full pass until
// the plan stops changing. The input plan is not modified. Names of rules
// that fired are recorded in the result metadata.
func (r *Registry) Canonicalize(p *plan.LogicalPlan) (*plan.LogicalPlan, error) {
	if p == nil || p.Root == nil {
		return p, nil
	}
	out := p.Clone()
	fired := map[string]bool{}

	prev := out.Root.ToJSON()
	for pass := 0; pass < MaxPasses; pass++ {
		out.Root = r.applyBottomUp(out.Root, fired)
		next := out.Root.ToJSON()
		if next == prev {
			recordFired(out, fired)
			return out, nil
		}
		prev = next
	}
	return out, ErrDiverged
}

func (r *Registry) applyBottomUp(node *plan.PlanNode, fired map[string]bool) *plan.PlanNode {
	if node == nil {
		return nil
	}
	if len(node.Children) > 0 {
		children := make([]*plan.PlanNode, len(node.Children))
		for i, c := range node.Children {
			children[i] = r.applyBottomUp(c, fired)
		}
		node = shallowWithChildren(node, children)
	}
	for _, rule := range r.rules {
		next := rule.Apply(node)
		if next != node && next.ToJSON() != node.ToJSON() {
			fired[rule.Name()] = true
		}
		node = next
	}
	if node.Condition != nil {
		node = shallowWithCondition(node, node.Condition.Canonicalize())
	}
	return node
}

func recordFired(p *plan.LogicalPlan, fired map[string]bool) {
	if len(fired) == 0 {
		return
	}
	names := make([]string, 0, len(fired))
	for n := range fired {
		names = append(names, n)
	}
	sort.Strings(names)
	p.Metadata["applied_rules"] = strings.Join(names, ",")
	if fired[SubqueryUnnesting{}.Name()] {
		p.Metadata["unnested"] = "true"
	}
}

// shallowWithChildren copies node with a replacement child slice.
func shallowWithChildren(node *plan.PlanNode, children []*plan.PlanNode) *plan.PlanNode {
	out := *node
	out.Children = children
	return &out
}

// shallowWithCondition copies node with a replacement condition.
func shallowWithCondition(node *plan.PlanNode, cond *plan.ExpressionNode) *plan.PlanNode {
	out := *node
	out.Condition = cond
	return &out
}
