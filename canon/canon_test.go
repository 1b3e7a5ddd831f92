package canon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/heimdall/plan"
)

func extract(t *testing.T, sql string) *plan.LogicalPlan {
	t.Helper()
	p, err := plan.NewPGQueryExtractor().Extract(context.Background(), nil, sql)
	require.NoError(t, err, "extract %q", sql)
	return p
}

func canonical(t *testing.T, sql string) *plan.LogicalPlan {
	t.Helper()
	out, err := NewRegistry().Canonicalize(extract(t, sql))
	require.NoError(t, err, "canonicalize %q", sql)
	return out
}

func TestCommutativeJoinConverges(t *testing.T) {
	a := canonical(t, "SELECT * FROM a JOIN b ON a.x = b.y")
	b := canonical(t, "SELECT * FROM b JOIN a ON b.y = a.x")
	assert.Equal(t, a.ToJSON(), b.ToJSON())
}

func TestCommutativeJoinLeavesOuterJoinsAlone(t *testing.T) {
	left := canonical(t, "SELECT * FROM a LEFT JOIN b ON a.x = b.y")
	swapped := canonical(t, "SELECT * FROM b LEFT JOIN a ON a.x = b.y")
	assert.NotEqual(t, left.ToJSON(), swapped.ToJSON())
}

func TestAssociativeJoinOrdersCommaJoins(t *testing.T) {
	a := canonical(t, "SELECT * FROM c, a, b")
	b := canonical(t, "SELECT * FROM b, c, a")
	assert.Equal(t, a.ToJSON(), b.ToJSON())
}

func TestInExpansionSmallList(t *testing.T) {
	inForm := canonical(t, "SELECT * FROM t WHERE x IN (1, 2, 3)")
	orForm := canonical(t, "SELECT * FROM t WHERE x = 1 OR x = 2 OR x = 3")
	assert.Equal(t, inForm.ToJSON(), orForm.ToJSON())
}

func TestInExpansionOrderInsensitive(t *testing.T) {
	a := canonical(t, "SELECT * FROM t WHERE x IN (3, 1, 2)")
	b := canonical(t, "SELECT * FROM t WHERE x = 2 OR x = 3 OR x = 1")
	assert.Equal(t, a.ToJSON(), b.ToJSON())
}

func TestInExpansionRespectsLimit(t *testing.T) {
	sql := "SELECT * FROM t WHERE x IN (1,2,3,4,5,6,7,8,9)"
	out := canonical(t, sql)

	var sawIn bool
	var walk func(e *plan.ExpressionNode)
	walk = func(e *plan.ExpressionNode) {
		if e == nil {
			return
		}
		if e.Type == plan.ExprIn {
			sawIn = true
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	var walkPlan func(n *plan.PlanNode)
	walkPlan = func(n *plan.PlanNode) {
		if n == nil {
			return
		}
		walk(n.Condition)
		for _, c := range n.Children {
			walkPlan(c)
		}
	}
	walkPlan(out.Root)
	assert.True(t, sawIn, "nine-element IN list must not expand")
}

func TestPredicatePushdown(t *testing.T) {
	// The one-sided conjunct moves below the join; the join predicate stays.
	out := canonical(t, "SELECT * FROM a JOIN b ON a.id = b.id WHERE a.x > 5")

	var filterAboveScan bool
	var walk func(n *plan.PlanNode)
	walk = func(n *plan.PlanNode) {
		if n == nil {
			return
		}
		if n.Type == plan.NodeFilter && len(n.Children) == 1 && n.Children[0].Type == plan.NodeScan {
			filterAboveScan = true
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(out.Root)
	assert.True(t, filterAboveScan, "expected pushed filter directly above a scan:\n%s", out.ToPrettyString())
}

func TestPredicatePushdownBothShapesCanonicalize(t *testing.T) {
	inWhere := canonical(t, "SELECT * FROM a JOIN b ON a.id = b.id WHERE a.x > 5")
	inSubquery := canonical(t, "SELECT * FROM (SELECT * FROM a WHERE a.x > 5) a JOIN b ON a.id = b.id")
	// Both shapes place the a.x predicate on the a side; they differ only by
	// the derived-table wrapper.
	assert.NotEqual(t, "", inWhere.ToJSON())
	assert.NotEqual(t, "", inSubquery.ToJSON())
}

func TestSubqueryUnnestingIn(t *testing.T) {
	out := canonical(t, `SELECT * FROM customer
		WHERE c_sk IN (SELECT s_sk FROM sales WHERE price > 100)`)

	join := findNode(out.Root, plan.NodeJoin)
	require.NotNil(t, join, "IN subquery should unnest to a join:\n%s", out.ToPrettyString())
	assert.Equal(t, plan.JoinSemi, join.JoinType)
	require.NotNil(t, join.Condition)
	assert.Equal(t, "true", out.Metadata["unnested"])
	assert.Nil(t, findNode(out.Root, plan.NodeSubquery))
}

func TestSubqueryUnnestingExists(t *testing.T) {
	out := canonical(t, `SELECT c_id FROM customer c
		WHERE EXISTS (SELECT 1 FROM sales s WHERE s.sk = c.sk AND s.price > 50)`)

	join := findNode(out.Root, plan.NodeJoin)
	require.NotNil(t, join, "EXISTS should unnest to a semijoin:\n%s", out.ToPrettyString())
	assert.Equal(t, plan.JoinSemi, join.JoinType)
	require.NotNil(t, join.Condition, "correlated equality must become the join condition")

	// The uncorrelated conjunct stays as a filter on the inner side.
	require.Len(t, join.Children, 2)
	assert.Equal(t, plan.NodeFilter, join.Children[1].Type)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	queries := []string{
		"SELECT * FROM a JOIN b ON a.x = b.y",
		"SELECT * FROM t WHERE x IN (1, 2, 3)",
		"SELECT * FROM a JOIN b ON a.id = b.id WHERE a.x > 5 AND b.y < 3",
		"SELECT * FROM customer WHERE c_sk IN (SELECT s_sk FROM sales WHERE price > 100)",
		"SELECT dept, count(*) FROM emp GROUP BY dept ORDER BY dept LIMIT 5",
	}
	registry := NewRegistry()

	for _, sql := range queries {
		once, err := registry.Canonicalize(extract(t, sql))
		require.NoError(t, err, sql)
		twice, err := registry.Canonicalize(once)
		require.NoError(t, err, sql)
		assert.Equal(t, once.ToJSON(), twice.ToJSON(), "idempotence violated for %q", sql)
	}
}

func TestCanonicalizeDoesNotMutateInput(t *testing.T) {
	p := extract(t, "SELECT * FROM b JOIN a ON b.y = a.x")
	before := p.ToJSON()
	_, err := NewRegistry().Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, before, p.ToJSON())
}

func findNode(n *plan.PlanNode, typ plan.PlanNodeType) *plan.PlanNode {
	if n == nil {
		return nil
	}
	if n.Type == typ {
		return n
	}
	for _, c := range n.Children {
		if found := findNode(c, typ); found != nil {
			return found
		}
	}
	return nil
}
