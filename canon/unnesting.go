package canon

import (
	"strings"

	"github.com/guileen/heimdall/plan"
)

// SubqueryUnnesting rewrites Subquery nodes that express an IN or EXISTS
// predicate into semijoins, so that the subquery form and its hand-unnested
// JOIN rewrite canonicalize to the same plan.
//
//	x IN (SELECT c FROM T WHERE p)       ->  SEMI JOIN ON x = c over Filter(p)(T)
//	EXISTS (SELECT .. WHERE T.c = O.x)   ->  SEMI JOIN ON T.c = O.x
//
// EXISTS unnesting lifts the correlated equality conjuncts (those whose
// columns straddle the inner relation boundary) into the join condition and
// keeps the purely inner conjuncts as a filter.
type SubqueryUnnesting struct{}

// Name implements Rule.
func (SubqueryUnnesting) Name() string { return "SubqueryUnnesting" }

// Apply implements Rule.
func (SubqueryUnnesting) Apply(node *plan.PlanNode) *plan.PlanNode {
	if node.Type != plan.NodeSubquery || len(node.Children) != 2 || node.Condition == nil {
		return node
	}
	outer, inner := node.Children[0], node.Children[1]

	switch node.Condition.Type {
	case plan.ExprIn:
		if len(node.Condition.Children) != 1 {
			return node
		}
		return unnestIn(node, outer, inner, node.Condition.Children[0])
	case plan.ExprExists:
		return unnestExists(node, outer, inner)
	}
	return node
}

func unnestIn(node, outer, inner *plan.PlanNode, test *plan.ExpressionNode) *plan.PlanNode {
	// The inner plan must expose exactly one column to compare against.
	if inner.Type != plan.NodeProject || len(inner.ProjectedColumns) != 1 || len(inner.Children) != 1 {
		return node
	}
	col := inner.ProjectedColumns[0]
	if col == "*" || strings.HasSuffix(col, ".*") {
		return node
	}
	j := plan.NewPlanNode(plan.NodeJoin)
	j.JoinType = plan.JoinSemi
	j.Condition = plan.NewBinaryOp("=", test, plan.NewColumnRef(col))
	j.Children = []*plan.PlanNode{outer, inner.Children[0]}
	return j
}

func unnestExists(node, outer, inner *plan.PlanNode) *plan.PlanNode {
	// Strip the inner projection; EXISTS ignores the select list.
	body := inner
	if body.Type == plan.NodeProject && len(body.Children) == 1 {
		body = body.Children[0]
	}
	if body.Type != plan.NodeFilter || len(body.Children) != 1 {
		return node
	}

	innerNames := map[string]bool{}
	scanNames(body.Children[0], innerNames)

	var joinConds, residual []*plan.ExpressionNode
	for _, conjunct := range splitAnd(body.Condition) {
		if isCorrelatedEquality(conjunct, innerNames) {
			joinConds = append(joinConds, conjunct)
		} else {
			residual = append(residual, conjunct)
		}
	}
	if len(joinConds) == 0 {
		return node
	}

	right := body.Children[0]
	if cond := joinAnd(residual); cond != nil {
		right = withFilter(right, cond)
	}
	j := plan.NewPlanNode(plan.NodeJoin)
	j.JoinType = plan.JoinSemi
	j.Condition = joinAnd(joinConds)
	j.Children = []*plan.PlanNode{outer, right}
	return j
}

// isCorrelatedEquality reports whether the conjunct is an equality between
// two qualified columns, exactly one of which belongs to the inner relation.
func isCorrelatedEquality(e *plan.ExpressionNode, innerNames map[string]bool) bool {
	if e.Type != plan.ExprBinaryOp || e.Op != "=" || len(e.Children) != 2 {
		return false
	}
	var innerSides int
	for _, c := range e.Children {
		if c.Type != plan.ExprColumnRef {
			return false
		}
		parts := strings.SplitN(c.Value, ".", 2)
		if len(parts) != 2 {
			return false
		}
		if innerNames[parts[0]] {
			innerSides++
		}
	}
	return innerSides == 1
}
