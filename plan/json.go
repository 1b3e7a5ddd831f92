package plan

import (
	"strconv"
	"strings"
)

// The JSON renderings below are built by hand rather than with encoding/json:
// the byte-equality contract requires a fixed field order and no whitespace,
// and map-backed marshaling cannot guarantee either.

// ToJSON renders the expression as a deterministic, whitespace-free object
// {type,op,value,children}. Byte equality of renderings of two canonicalized
// trees implies semantic equality.
func (e *ExpressionNode) ToJSON() string {
	if e == nil {
		return "null"
	}
	var b strings.Builder
	e.writeJSON(&b)
	return b.String()
}

func (e *ExpressionNode) writeJSON(b *strings.Builder) {
	b.WriteString(`{"type":`)
	b.WriteString(strconv.Quote(e.Type.String()))
	b.WriteString(`,"op":`)
	b.WriteString(strconv.Quote(e.Op))
	b.WriteString(`,"value":`)
	b.WriteString(strconv.Quote(e.Value))
	b.WriteString(`,"children":[`)
	for i, c := range e.Children {
		if i > 0 {
			b.WriteByte(',')
		}
		c.writeJSON(b)
	}
	b.WriteString("]}")
}

// ToJSON renders the plan node as a deterministic, whitespace-free object
// mirroring the expression rendering. Node IDs are intentionally excluded so
// that two structurally identical plans serialize identically.
func (n *PlanNode) ToJSON() string {
	if n == nil {
		return "null"
	}
	var b strings.Builder
	n.writeJSON(&b)
	return b.String()
}

func (n *PlanNode) writeJSON(b *strings.Builder) {
	b.WriteString(`{"type":`)
	b.WriteString(strconv.Quote(n.Type.String()))
	b.WriteString(`,"table":`)
	b.WriteString(strconv.Quote(n.TableName))
	b.WriteString(`,"join_type":`)
	b.WriteString(strconv.Quote(n.JoinType))
	b.WriteString(`,"condition":`)
	if n.Condition == nil {
		b.WriteString("null")
	} else {
		n.Condition.writeJSON(b)
	}
	b.WriteString(`,"projected":`)
	writeStringList(b, n.ProjectedColumns)
	b.WriteString(`,"group_by":`)
	writeStringList(b, n.GroupByColumns)
	b.WriteString(`,"children":[`)
	for i, c := range n.Children {
		if i > 0 {
			b.WriteByte(',')
		}
		c.writeJSON(b)
	}
	b.WriteString("]}")
}

func writeStringList(b *strings.Builder, items []string) {
	b.WriteByte('[')
	for i, s := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(s))
	}
	b.WriteByte(']')
}
