package plan

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// PlanNodeType identifies the relational operator of a plan node.
type PlanNodeType int

const (
	NodeScan PlanNodeType = iota
	NodeJoin
	NodeFilter
	NodeProject
	NodeAggregate
	NodeSort
	NodeSubquery
	NodeUnion
	NodeLimit
	NodeUnknown
)

// String returns the lowercase tag used in JSON renderings.
func (t PlanNodeType) String() string {
	switch t {
	case NodeScan:
		return "scan"
	case NodeJoin:
		return "join"
	case NodeFilter:
		return "filter"
	case NodeProject:
		return "project"
	case NodeAggregate:
		return "aggregate"
	case NodeSort:
		return "sort"
	case NodeSubquery:
		return "subquery"
	case NodeUnion:
		return "union"
	case NodeLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// Join type strings carried by NodeJoin nodes.
const (
	JoinInner = "Inner"
	JoinLeft  = "Left"
	JoinRight = "Right"
	JoinFull  = "Full"
	JoinSemi  = "Semi"
)

// PlanNode is a node in a relational operator tree.
//
// Arity invariants: Scan is a leaf; Join has exactly two children;
// Filter, Project, Aggregate, Sort and Limit have exactly one; Union has
// at least two. Condition is set only on operators that admit one.
type PlanNode struct {
	Type             PlanNodeType
	ID               string
	TableName        string
	JoinType         string
	Condition        *ExpressionNode
	ProjectedColumns []string
	GroupByColumns   []string
	Children         []*PlanNode
}

// NewPlanNode returns a node of the given type with a fresh identifier.
func NewPlanNode(t PlanNodeType) *PlanNode {
	return &PlanNode{Type: t, ID: uuid.NewString()}
}

// Clone deep-copies the subtree. The copy keeps the original node IDs so
// that diagnostic paths remain stable across canonicalization.
func (n *PlanNode) Clone() *PlanNode {
	if n == nil {
		return nil
	}
	out := &PlanNode{
		Type:      n.Type,
		ID:        n.ID,
		TableName: n.TableName,
		JoinType:  n.JoinType,
		Condition: n.Condition.Clone(),
	}
	if len(n.ProjectedColumns) > 0 {
		out.ProjectedColumns = append([]string(nil), n.ProjectedColumns...)
	}
	if len(n.GroupByColumns) > 0 {
		out.GroupByColumns = append([]string(nil), n.GroupByColumns...)
	}
	if len(n.Children) > 0 {
		out.Children = make([]*PlanNode, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Equals reports structural equality of the two subtrees, ignoring IDs.
func (n *PlanNode) Equals(other *PlanNode) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.ToJSON() == other.ToJSON()
}

// LogicalPlan is a rooted operator tree together with the SQL it was
// extracted from and free-form diagnostic metadata.
type LogicalPlan struct {
	Root        *PlanNode
	OriginalSQL string
	Metadata    map[string]string
}

// MetaUnsupported marks a plan containing a fragment the extractor could not
// model. Strict validation refuses such plans.
const MetaUnsupported = "unsupported"

// NewLogicalPlan returns an empty plan for the given SQL.
func NewLogicalPlan(sql string) *LogicalPlan {
	return &LogicalPlan{OriginalSQL: sql, Metadata: map[string]string{}}
}

// Clone deep-copies the plan, including metadata.
func (p *LogicalPlan) Clone() *LogicalPlan {
	if p == nil {
		return nil
	}
	out := &LogicalPlan{
		Root:        p.Root.Clone(),
		OriginalSQL: p.OriginalSQL,
		Metadata:    make(map[string]string, len(p.Metadata)),
	}
	for k, v := range p.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// Unsupported reports whether the plan was marked as containing an
// unsupported fragment.
func (p *LogicalPlan) Unsupported() bool {
	return p != nil && p.Metadata[MetaUnsupported] == "true"
}

// MarkUnsupported records an unsupported fragment on the plan.
func (p *LogicalPlan) MarkUnsupported() {
	if p.Metadata == nil {
		p.Metadata = map[string]string{}
	}
	p.Metadata[MetaUnsupported] = "true"
}

// ToJSON renders the plan root deterministically. Metadata and the original
// SQL are excluded: serialization equality is a statement about structure.
func (p *LogicalPlan) ToJSON() string {
	if p == nil || p.Root == nil {
		return "null"
	}
	return p.Root.ToJSON()
}

// Equals reports structural equality of the two plans.
func (p *LogicalPlan) Equals(other *LogicalPlan) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ToJSON() == other.ToJSON()
}

// ToPrettyString renders an indented operator tree for diagnostics. The
// output carries no semantic contract.
func (p *LogicalPlan) ToPrettyString() string {
	if p == nil || p.Root == nil {
		return "(empty plan)"
	}
	var b strings.Builder
	p.Root.writePretty(&b, 0)
	return b.String()
}

func (n *PlanNode) writePretty(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(strings.ToUpper(n.Type.String()))
	switch {
	case n.TableName != "":
		fmt.Fprintf(b, " %s", n.TableName)
	case n.JoinType != "":
		fmt.Fprintf(b, " (%s)", n.JoinType)
	}
	if n.Condition != nil {
		fmt.Fprintf(b, " cond=%s", n.Condition.ToJSON())
	}
	if len(n.ProjectedColumns) > 0 {
		fmt.Fprintf(b, " cols=%s", strings.Join(n.ProjectedColumns, ","))
	}
	if len(n.GroupByColumns) > 0 {
		fmt.Fprintf(b, " group=%s", strings.Join(n.GroupByColumns, ","))
	}
	b.WriteByte('\n')
	for _, c := range n.Children {
		c.writePretty(b, depth+1)
	}
}
