package canon

import "github.com/guileen/heimdall/plan"

// PredicatePushdown moves filter conjuncts that reference columns of only
// one join side below the join, composing with any filter already there via
// AND. Adjacent filters are merged. Conjuncts with unqualified columns stay
// put: without schema knowledge they cannot be attributed to a side.
//
// Pushing below outer joins changes NULL-extension semantics, so only inner
// and semi joins participate (semi joins only on the preserved left side).
type PredicatePushdown struct{}

// Name implements Rule.
func (PredicatePushdown) Name() string { return "PredicatePushdown" }

// Apply implements Rule.
func (PredicatePushdown) Apply(node *plan.PlanNode) *plan.PlanNode {
	if node.Type != plan.NodeFilter || len(node.Children) != 1 || node.Condition == nil {
		return node
	}
	child := node.Children[0]

	// Filter over Filter: merge into one conjunction.
	if child.Type == plan.NodeFilter && len(child.Children) == 1 {
		merged := *child
		merged.Condition = plan.NewBinaryOp("AND", node.Condition, child.Condition)
		return &merged
	}

	if child.Type != plan.NodeJoin || len(child.Children) != 2 {
		return node
	}
	pushLeft := child.JoinType == plan.JoinInner || child.JoinType == plan.JoinSemi
	pushRight := child.JoinType == plan.JoinInner
	if !pushLeft && !pushRight {
		return node
	}

	left, right := child.Children[0], child.Children[1]
	var toLeft, toRight, keep []*plan.ExpressionNode
	for _, conjunct := range splitAnd(node.Condition) {
		switch {
		case pushLeft && referencesOnly(conjunct, left):
			toLeft = append(toLeft, conjunct)
		case pushRight && referencesOnly(conjunct, right):
			toRight = append(toRight, conjunct)
		default:
			keep = append(keep, conjunct)
		}
	}
	if len(toLeft) == 0 && len(toRight) == 0 {
		return node
	}

	if cond := joinAnd(toLeft); cond != nil {
		left = withFilter(left, cond)
	}
	if cond := joinAnd(toRight); cond != nil {
		right = withFilter(right, cond)
	}
	join := *child
	join.Children = []*plan.PlanNode{left, right}

	if cond := joinAnd(keep); cond != nil {
		out := *node
		out.Condition = cond
		out.Children = []*plan.PlanNode{&join}
		return &out
	}
	return &join
}
