package canon

import (
	"strings"

	"github.com/guileen/heimdall/plan"
)

// scanNames collects the table names and aliases of every Scan under node.
// A scan stored as "name alias" contributes both tokens.
func scanNames(node *plan.PlanNode, into map[string]bool) {
	if node == nil {
		return
	}
	if node.Type == plan.NodeScan {
		for _, part := range strings.Fields(node.TableName) {
			into[part] = true
		}
	}
	for _, c := range node.Children {
		scanNames(c, into)
	}
}

// columnQualifiers collects the table qualifiers of every column reference
// in the expression. Unqualified references report ok=false: they cannot be
// attributed to a side without schema knowledge.
func columnQualifiers(e *plan.ExpressionNode, into map[string]bool) (ok bool) {
	if e == nil {
		return true
	}
	ok = true
	if e.Type == plan.ExprColumnRef {
		parts := strings.SplitN(e.Value, ".", 2)
		if len(parts) != 2 || parts[0] == "*" {
			return false
		}
		into[parts[0]] = true
	}
	for _, c := range e.Children {
		if !columnQualifiers(c, into) {
			ok = false
		}
	}
	return ok
}

// referencesOnly reports whether every column in the expression is qualified
// and resolves to a scan under side.
func referencesOnly(e *plan.ExpressionNode, side *plan.PlanNode) bool {
	quals := map[string]bool{}
	if !columnQualifiers(e, quals) {
		return false
	}
	names := map[string]bool{}
	scanNames(side, names)
	for q := range quals {
		if !names[q] {
			return false
		}
	}
	return true
}

// splitAnd flattens a binary AND chain into conjuncts.
func splitAnd(e *plan.ExpressionNode) []*plan.ExpressionNode {
	if e == nil {
		return nil
	}
	if e.Type == plan.ExprBinaryOp && e.Op == "AND" && len(e.Children) == 2 {
		return append(splitAnd(e.Children[0]), splitAnd(e.Children[1])...)
	}
	return []*plan.ExpressionNode{e}
}

// joinAnd rebuilds a left-deep AND chain. Returns nil for no conjuncts.
func joinAnd(conjuncts []*plan.ExpressionNode) *plan.ExpressionNode {
	if len(conjuncts) == 0 {
		return nil
	}
	node := conjuncts[0]
	for _, next := range conjuncts[1:] {
		node = plan.NewBinaryOp("AND", node, next)
	}
	return node
}

// withFilter places cond as a filter over node, merging with an existing
// top-level filter via AND.
func withFilter(node *plan.PlanNode, cond *plan.ExpressionNode) *plan.PlanNode {
	if cond == nil {
		return node
	}
	if node.Type == plan.NodeFilter {
		merged := *node
		merged.Condition = plan.NewBinaryOp("AND", node.Condition, cond)
		return &merged
	}
	f := plan.NewPlanNode(plan.NodeFilter)
	f.Condition = cond
	f.Children = []*plan.PlanNode{node}
	return f
}
