package canon

import "github.com/guileen/heimdall/plan"

// InExpansionLimit caps how many literals an IN list may hold and still be
// expanded into a disjunction. Larger lists keep the IN form.
const InExpansionLimit = 8

// InExpansion rewrites `x IN (c1, .., ck)` with k literal elements into
// `x = c1 OR .. OR x = ck` inside every condition the node carries. Running
// before CommutativeJoin in the pass means the resulting OR chain is ordered
// by the same pass's expression canonicalization.
type InExpansion struct{}

// Name implements Rule.
func (InExpansion) Name() string { return "InExpansion" }

// Apply implements Rule.
func (InExpansion) Apply(node *plan.PlanNode) *plan.PlanNode {
	if node.Condition == nil {
		return node
	}
	expanded := expandIn(node.Condition)
	if expanded == node.Condition {
		return node
	}
	out := *node
	out.Condition = expanded
	return &out
}

// expandIn rewrites eligible IN expressions anywhere in the tree. It returns
// the input pointer unchanged when nothing was rewritten.
func expandIn(e *plan.ExpressionNode) *plan.ExpressionNode {
	if e == nil {
		return nil
	}
	changed := false
	children := e.Children
	for i, c := range e.Children {
		next := expandIn(c)
		if next != c {
			if !changed {
				children = append([]*plan.ExpressionNode(nil), e.Children...)
				changed = true
			}
			children[i] = next
		}
	}
	node := e
	if changed {
		copied := *e
		copied.Children = children
		node = &copied
	}

	if node.Type != plan.ExprIn || len(node.Children) < 2 || len(node.Children)-1 > InExpansionLimit {
		return node
	}
	test := node.Children[0]
	items := node.Children[1:]
	for _, item := range items {
		if item.Type != plan.ExprLiteral {
			return node
		}
	}
	out := plan.NewBinaryOp("=", test, items[0])
	for _, item := range items[1:] {
		out = plan.NewBinaryOp("OR", out, plan.NewBinaryOp("=", test, item))
	}
	return out
}
