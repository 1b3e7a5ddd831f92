package canon

import "github.com/guileen/heimdall/plan"

// CommutativeJoin orders the children of inner and full joins by the total
// order on their JSON renderings, so that A JOIN B and B JOIN A converge.
// Outer and semi joins are side-sensitive and left alone.
type CommutativeJoin struct{}

// Name implements Rule.
func (CommutativeJoin) Name() string { return "CommutativeJoin" }

// Apply implements Rule.
func (CommutativeJoin) Apply(node *plan.PlanNode) *plan.PlanNode {
	if node.Type != plan.NodeJoin || len(node.Children) != 2 {
		return node
	}
	if node.JoinType != plan.JoinInner && node.JoinType != plan.JoinFull {
		return node
	}
	if node.Children[0].ToJSON() <= node.Children[1].ToJSON() {
		return node
	}
	out := *node
	out.Children = []*plan.PlanNode{node.Children[1], node.Children[0]}
	return &out
}
