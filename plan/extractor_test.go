package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustExtract(t *testing.T, sql string) *LogicalPlan {
	t.Helper()
	p, err := NewPGQueryExtractor().Extract(context.Background(), nil, sql)
	require.NoError(t, err, "extract %q", sql)
	require.NotNil(t, p.Root)
	return p
}

func TestExtractSimpleSelect(t *testing.T) {
	p := mustExtract(t, "SELECT a, b FROM t WHERE a > 5")

	require.Equal(t, NodeProject, p.Root.Type)
	assert.Equal(t, []string{"a", "b"}, p.Root.ProjectedColumns)

	filter := p.Root.Children[0]
	require.Equal(t, NodeFilter, filter.Type)
	require.NotNil(t, filter.Condition)

	scan := filter.Children[0]
	require.Equal(t, NodeScan, scan.Type)
	assert.Equal(t, "t", scan.TableName)
	assert.Empty(t, scan.Children, "scan must be a leaf")
}

func TestExtractJoin(t *testing.T) {
	p := mustExtract(t, "SELECT * FROM a JOIN b ON a.x = b.y")

	join := p.Root.Children[0]
	require.Equal(t, NodeJoin, join.Type)
	assert.Equal(t, JoinInner, join.JoinType)
	require.Len(t, join.Children, 2)
	assert.Equal(t, "a", join.Children[0].TableName)
	assert.Equal(t, "b", join.Children[1].TableName)
	require.NotNil(t, join.Condition)
}

func TestExtractLeftJoin(t *testing.T) {
	p := mustExtract(t, "SELECT * FROM a LEFT JOIN b ON a.x = b.y")
	assert.Equal(t, JoinLeft, p.Root.Children[0].JoinType)
}

func TestExtractCommaJoin(t *testing.T) {
	p := mustExtract(t, "SELECT * FROM a, b, c")

	join := p.Root.Children[0]
	require.Equal(t, NodeJoin, join.Type)
	assert.Equal(t, JoinInner, join.JoinType)
	assert.Nil(t, join.Condition)
}

func TestExtractInList(t *testing.T) {
	p := mustExtract(t, "SELECT * FROM t WHERE x IN (1, 2, 3)")

	filter := p.Root.Children[0]
	require.Equal(t, NodeFilter, filter.Type)
	cond := filter.Condition
	require.Equal(t, ExprIn, cond.Type)
	require.Len(t, cond.Children, 4)
	assert.Equal(t, ExprColumnRef, cond.Children[0].Type)
	for _, item := range cond.Children[1:] {
		assert.Equal(t, ExprLiteral, item.Type)
	}
}

func TestExtractInSubquery(t *testing.T) {
	p := mustExtract(t, `SELECT * FROM customer
		WHERE c_sk IN (SELECT s_sk FROM sales WHERE price > 100)`)

	sub := p.Root.Children[0]
	require.Equal(t, NodeSubquery, sub.Type)
	require.Len(t, sub.Children, 2)
	assert.Equal(t, ExprIn, sub.Condition.Type)

	inner := sub.Children[1]
	require.Equal(t, NodeProject, inner.Type)
	assert.Equal(t, []string{"s_sk"}, inner.ProjectedColumns)
}

func TestExtractExistsSubquery(t *testing.T) {
	p := mustExtract(t, `SELECT c_id FROM customer c
		WHERE EXISTS (SELECT 1 FROM sales s WHERE s.sk = c.sk)`)

	sub := p.Root.Children[0]
	require.Equal(t, NodeSubquery, sub.Type)
	assert.Equal(t, ExprExists, sub.Condition.Type)
}

func TestExtractGroupBy(t *testing.T) {
	p := mustExtract(t, "SELECT dept, count(*) FROM emp GROUP BY dept")

	agg := p.Root.Children[0]
	require.Equal(t, NodeAggregate, agg.Type)
	assert.Equal(t, []string{"dept"}, agg.GroupByColumns)
}

func TestExtractSortAndLimit(t *testing.T) {
	p := mustExtract(t, "SELECT a FROM t ORDER BY a DESC LIMIT 10")

	require.Equal(t, NodeLimit, p.Root.Type)
	sortNode := p.Root.Children[0]
	require.Equal(t, NodeSort, sortNode.Type)
	assert.Equal(t, []string{"a DESC"}, sortNode.ProjectedColumns)
	assert.Equal(t, NodeProject, sortNode.Children[0].Type)
}

func TestExtractUnionAll(t *testing.T) {
	p := mustExtract(t, "SELECT a FROM t1 UNION ALL SELECT a FROM t2 UNION ALL SELECT a FROM t3")

	require.Equal(t, NodeUnion, p.Root.Type)
	assert.Len(t, p.Root.Children, 3, "nested unions must flatten")
	assert.False(t, p.Unsupported())
}

func TestExtractUnsupported(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"window function", "SELECT rank() OVER (ORDER BY x) FROM t"},
		{"cte", "WITH q AS (SELECT 1 AS a) SELECT * FROM q"},
		{"insert", "INSERT INTO t VALUES (1)"},
		{"update", "UPDATE t SET a = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPGQueryExtractor().Extract(context.Background(), nil, tt.sql)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupported), "want ErrUnsupported, got %v", err)
		})
	}
}

func TestExtractDeterministic(t *testing.T) {
	sql := "SELECT a, b FROM t JOIN u ON t.id = u.id WHERE t.x IN (1, 2) ORDER BY a"
	first := mustExtract(t, sql).ToJSON()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, mustExtract(t, sql).ToJSON())
	}
}

func TestPlanCloneIsDeep(t *testing.T) {
	p := mustExtract(t, "SELECT a FROM t WHERE a = 1")
	clone := p.Clone()

	require.Equal(t, p.ToJSON(), clone.ToJSON())
	clone.Root.Children[0].Condition = NewLiteral("true")
	assert.NotEqual(t, p.ToJSON(), clone.ToJSON(), "mutating the clone must not touch the original")
}
