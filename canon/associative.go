package canon

import (
	"sort"

	"github.com/guileen/heimdall/plan"
)

// AssociativeJoin rebuilds chains of condition-free inner joins (the shape a
// comma-separated FROM list extracts to) into left-deep form with the joined
// relations ordered lexicographically. Joins carrying an ON condition are
// skipped: their predicate references both sides, which makes the subtree
// non-associative for our purposes.
type AssociativeJoin struct{}

// Name implements Rule.
func (AssociativeJoin) Name() string { return "AssociativeJoin" }

// Apply implements Rule.
func (AssociativeJoin) Apply(node *plan.PlanNode) *plan.PlanNode {
	if !isBareInnerJoin(node) {
		return node
	}
	// Any bare inner join with three or more leaves is rebuilt from its
	// flattened leaves; since rules run bottom-up, the top of the chain gets
	// the final rebuild.
	leaves := flattenJoinChain(node)
	if len(leaves) < 3 {
		return node
	}
	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].ToJSON() < leaves[j].ToJSON()
	})
	out := leaves[0]
	for _, next := range leaves[1:] {
		j := plan.NewPlanNode(plan.NodeJoin)
		j.JoinType = plan.JoinInner
		j.Children = []*plan.PlanNode{out, next}
		out = j
	}
	if out.ToJSON() == node.ToJSON() {
		return node
	}
	return out
}

func isBareInnerJoin(node *plan.PlanNode) bool {
	return node.Type == plan.NodeJoin &&
		node.JoinType == plan.JoinInner &&
		node.Condition == nil &&
		len(node.Children) == 2
}

// flattenJoinChain collects the non-join leaves of a chain of bare inner
// joins, in any association order.
func flattenJoinChain(node *plan.PlanNode) []*plan.PlanNode {
	if !isBareInnerJoin(node) {
		return []*plan.PlanNode{node}
	}
	return append(flattenJoinChain(node.Children[0]), flattenJoinChain(node.Children[1])...)
}
