package plan

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Extractor converts SQL text into a logical plan. The session handle is
// opaque to the core; implementations that need host state may dereference
// it, the parser-based implementation ignores it.
//
// Extraction must be deterministic for a fixed SQL text and schema.
type Extractor interface {
	Extract(ctx context.Context, session any, sql string) (*LogicalPlan, error)
}

// PGQueryExtractor builds logical plans from the PostgreSQL grammar using
// pg_query. It handles single SELECT statements, including joins, subquery
// predicates, grouping, ordering, set unions and limits. Anything else
// returns ErrUnsupported.
type PGQueryExtractor struct{}

// NewPGQueryExtractor returns a parser-backed extractor.
func NewPGQueryExtractor() *PGQueryExtractor {
	return &PGQueryExtractor{}
}

// Extract implements Extractor.
func (e *PGQueryExtractor) Extract(_ context.Context, _ any, sql string) (*LogicalPlan, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if len(result.Stmts) == 0 {
		return nil, ErrEmptyStatement
	}
	stmt := result.Stmts[0].GetStmt()
	sel := stmt.GetSelectStmt()
	if sel == nil {
		return nil, fmt.Errorf("%w: only SELECT statements are optimizable", ErrUnsupported)
	}

	p := NewLogicalPlan(sql)
	root, err := e.convertSelect(sel, p)
	if err != nil {
		return nil, err
	}
	if p.Metadata[metaWindowFunction] == "true" {
		return nil, fmt.Errorf("%w: window function", ErrUnsupported)
	}
	p.Root = root
	return p, nil
}

// metaWindowFunction flags a window function seen during expression
// conversion; the extractor turns it into an ErrUnsupported result.
const metaWindowFunction = "window_function"

func (e *PGQueryExtractor) convertSelect(sel *pg_query.SelectStmt, p *LogicalPlan) (*PlanNode, error) {
	if sel.GetWithClause() != nil {
		return nil, fmt.Errorf("%w: WITH clause", ErrUnsupported)
	}
	if len(sel.GetWindowClause()) > 0 {
		return nil, fmt.Errorf("%w: window clause", ErrUnsupported)
	}
	if len(sel.GetValuesLists()) > 0 {
		return nil, fmt.Errorf("%w: VALUES list", ErrUnsupported)
	}

	if sel.GetOp() == pg_query.SetOperation_SETOP_UNION {
		return e.convertUnion(sel, p)
	}
	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE {
		return nil, fmt.Errorf("%w: set operation", ErrUnsupported)
	}

	node, err := e.convertFromClause(sel.GetFromClause(), p)
	if err != nil {
		return nil, err
	}

	if where := sel.GetWhereClause(); where != nil {
		node, err = e.applyWhere(node, where, p)
		if err != nil {
			return nil, err
		}
	}

	if groups := sel.GetGroupClause(); len(groups) > 0 {
		agg := NewPlanNode(NodeAggregate)
		for _, g := range groups {
			agg.GroupByColumns = append(agg.GroupByColumns, columnName(g))
		}
		agg.Children = []*PlanNode{node}
		node = agg
		if having := sel.GetHavingClause(); having != nil {
			f := NewPlanNode(NodeFilter)
			f.Condition = e.convertExpr(having, p)
			f.Children = []*PlanNode{node}
			node = f
		}
	} else if sel.GetHavingClause() != nil {
		return nil, fmt.Errorf("%w: HAVING without GROUP BY", ErrUnsupported)
	}

	proj := NewPlanNode(NodeProject)
	for _, t := range sel.GetTargetList() {
		proj.ProjectedColumns = append(proj.ProjectedColumns, targetName(t, p))
	}
	proj.Children = []*PlanNode{node}
	node = proj

	if len(sel.GetDistinctClause()) > 0 {
		// DISTINCT changes cardinality; keep the plan but refuse strict claims.
		p.MarkUnsupported()
	}

	if sorts := sel.GetSortClause(); len(sorts) > 0 {
		s := NewPlanNode(NodeSort)
		for _, sb := range sorts {
			s.ProjectedColumns = append(s.ProjectedColumns, sortKey(sb))
		}
		s.Children = []*PlanNode{node}
		node = s
	}

	if limit := sel.GetLimitCount(); limit != nil {
		l := NewPlanNode(NodeLimit)
		l.Condition = e.convertExpr(limit, p)
		l.Children = []*PlanNode{node}
		node = l
	}

	return node, nil
}

func (e *PGQueryExtractor) convertUnion(sel *pg_query.SelectStmt, p *LogicalPlan) (*PlanNode, error) {
	left, err := e.convertSelect(sel.GetLarg(), p)
	if err != nil {
		return nil, err
	}
	right, err := e.convertSelect(sel.GetRarg(), p)
	if err != nil {
		return nil, err
	}
	u := NewPlanNode(NodeUnion)
	// Flatten nested unions so (A UNION B) UNION C and A UNION (B UNION C)
	// produce the same node.
	for _, child := range []*PlanNode{left, right} {
		if child.Type == NodeUnion {
			u.Children = append(u.Children, child.Children...)
		} else {
			u.Children = append(u.Children, child)
		}
	}
	if !sel.GetAll() {
		p.MarkUnsupported()
	}
	return u, nil
}

// convertFromClause maps the FROM items to a plan subtree. Multiple items
// become left-deep inner joins with no condition (cross joins); the filter
// above supplies the join predicates. Predicate pushdown moves conjuncts that
// reference a single side below the joins; conjuncts spanning both sides
// stay in the filter.
func (e *PGQueryExtractor) convertFromClause(items []*pg_query.Node, p *LogicalPlan) (*PlanNode, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: SELECT without FROM", ErrUnsupported)
	}
	var node *PlanNode
	for _, item := range items {
		next, err := e.convertFromItem(item, p)
		if err != nil {
			return nil, err
		}
		if node == nil {
			node = next
			continue
		}
		j := NewPlanNode(NodeJoin)
		j.JoinType = JoinInner
		j.Children = []*PlanNode{node, next}
		node = j
	}
	return node, nil
}

func (e *PGQueryExtractor) convertFromItem(item *pg_query.Node, p *LogicalPlan) (*PlanNode, error) {
	switch {
	case item.GetRangeVar() != nil:
		rv := item.GetRangeVar()
		scan := NewPlanNode(NodeScan)
		scan.TableName = rv.GetRelname()
		if alias := rv.GetAlias(); alias != nil && alias.GetAliasname() != "" {
			scan.TableName = rv.GetRelname() + " " + alias.GetAliasname()
		}
		return scan, nil

	case item.GetJoinExpr() != nil:
		je := item.GetJoinExpr()
		left, err := e.convertFromItem(je.GetLarg(), p)
		if err != nil {
			return nil, err
		}
		right, err := e.convertFromItem(je.GetRarg(), p)
		if err != nil {
			return nil, err
		}
		j := NewPlanNode(NodeJoin)
		j.Children = []*PlanNode{left, right}
		switch je.GetJointype() {
		case pg_query.JoinType_JOIN_INNER:
			j.JoinType = JoinInner
		case pg_query.JoinType_JOIN_LEFT:
			j.JoinType = JoinLeft
		case pg_query.JoinType_JOIN_RIGHT:
			j.JoinType = JoinRight
		case pg_query.JoinType_JOIN_FULL:
			j.JoinType = JoinFull
		default:
			return nil, fmt.Errorf("%w: join type %v", ErrUnsupported, je.GetJointype())
		}
		if quals := je.GetQuals(); quals != nil {
			j.Condition = e.convertExpr(quals, p)
		}
		return j, nil

	case item.GetRangeSubselect() != nil:
		inner := item.GetRangeSubselect().GetSubquery().GetSelectStmt()
		if inner == nil {
			return nil, fmt.Errorf("%w: derived table", ErrUnsupported)
		}
		child, err := e.convertSelect(inner, p)
		if err != nil {
			return nil, err
		}
		sub := NewPlanNode(NodeSubquery)
		sub.Children = []*PlanNode{child}
		return sub, nil
	}
	return nil, fmt.Errorf("%w: FROM item", ErrUnsupported)
}

// applyWhere splits the WHERE clause into conjuncts. Conjuncts carrying a
// subquery predicate become Subquery nodes linking the outer input to the
// inner plan; the rest are combined back into a single Filter.
func (e *PGQueryExtractor) applyWhere(input *PlanNode, where *pg_query.Node, p *LogicalPlan) (*PlanNode, error) {
	node := input
	var plain []*pg_query.Node
	for _, conjunct := range splitConjuncts(where) {
		sub, err := e.convertSubqueryPredicate(node, conjunct, p)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			node = sub
			continue
		}
		plain = append(plain, conjunct)
	}
	if len(plain) > 0 {
		f := NewPlanNode(NodeFilter)
		f.Condition = e.convertExpr(joinConjuncts(plain), p)
		f.Children = []*PlanNode{node}
		node = f
	}
	return node, nil
}

// convertSubqueryPredicate maps an IN or EXISTS sublink conjunct to a
// Subquery node with children [outer input, inner plan]. Returns nil when
// the conjunct carries no sublink.
func (e *PGQueryExtractor) convertSubqueryPredicate(input *PlanNode, conjunct *pg_query.Node, p *LogicalPlan) (*PlanNode, error) {
	link := conjunct.GetSubLink()
	if link == nil {
		return nil, nil
	}
	innerSel := link.GetSubselect().GetSelectStmt()
	if innerSel == nil {
		return nil, fmt.Errorf("%w: subquery form", ErrUnsupported)
	}
	inner, err := e.convertSelect(innerSel, p)
	if err != nil {
		return nil, err
	}

	sub := NewPlanNode(NodeSubquery)
	sub.Children = []*PlanNode{input, inner}
	switch link.GetSubLinkType() {
	case pg_query.SubLinkType_ANY_SUBLINK:
		in := &ExpressionNode{Type: ExprIn, Op: "IN"}
		in.Children = []*ExpressionNode{e.convertExpr(link.GetTestexpr(), p)}
		sub.Condition = in
	case pg_query.SubLinkType_EXISTS_SUBLINK:
		sub.Condition = &ExpressionNode{Type: ExprExists, Op: "EXISTS"}
	default:
		p.MarkUnsupported()
		sub.Condition = &ExpressionNode{Type: ExprUnknown}
	}
	return sub, nil
}

// splitConjuncts flattens a top-level AND chain into its conjuncts.
func splitConjuncts(expr *pg_query.Node) []*pg_query.Node {
	if be := expr.GetBoolExpr(); be != nil && be.GetBoolop() == pg_query.BoolExprType_AND_EXPR {
		var out []*pg_query.Node
		for _, arg := range be.GetArgs() {
			out = append(out, splitConjuncts(arg)...)
		}
		return out
	}
	return []*pg_query.Node{expr}
}

// joinConjuncts rebuilds an AND chain from conjuncts.
func joinConjuncts(conjuncts []*pg_query.Node) *pg_query.Node {
	if len(conjuncts) == 1 {
		return conjuncts[0]
	}
	return &pg_query.Node{Node: &pg_query.Node_BoolExpr{BoolExpr: &pg_query.BoolExpr{
		Boolop: pg_query.BoolExprType_AND_EXPR,
		Args:   conjuncts,
	}}}
}

// exprOpName renders an operator or function name list ("=", "pg_catalog.sum")
// as a single string, dropping the pg_catalog qualifier.
func exprOpName(names []*pg_query.Node) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		s := n.GetString_().GetSval()
		if s == "pg_catalog" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

// convertExpr maps a pg_query expression node to an ExpressionNode. Fragments
// without a mapping become Unknown nodes and mark the plan unsupported.
func (e *PGQueryExtractor) convertExpr(expr *pg_query.Node, p *LogicalPlan) *ExpressionNode {
	if expr == nil {
		return nil
	}
	switch {
	case expr.GetColumnRef() != nil:
		return NewColumnRef(columnName(expr))

	case expr.GetAConst() != nil:
		return NewLiteral(constValue(expr.GetAConst()))

	case expr.GetAExpr() != nil:
		ae := expr.GetAExpr()
		op := exprOpName(ae.GetName())
		switch ae.GetKind() {
		case pg_query.A_Expr_Kind_AEXPR_OP:
			left := e.convertExpr(ae.GetLexpr(), p)
			right := e.convertExpr(ae.GetRexpr(), p)
			switch {
			case left != nil && right != nil:
				return NewBinaryOp(op, left, right)
			case right != nil:
				// Prefix operators (unary minus) carry only rexpr.
				return NewUnaryOp(op, right)
			case left != nil:
				return NewUnaryOp(op, left)
			}
			return p.unknownExpr()
		case pg_query.A_Expr_Kind_AEXPR_IN:
			in := &ExpressionNode{Type: ExprIn, Op: "IN"}
			in.Children = append(in.Children, e.convertExpr(ae.GetLexpr(), p))
			for _, item := range ae.GetRexpr().GetList().GetItems() {
				in.Children = append(in.Children, e.convertExpr(item, p))
			}
			if op == "<>" {
				return NewUnaryOp("NOT", in)
			}
			return in
		}
		return p.unknownExpr()

	case expr.GetBoolExpr() != nil:
		be := expr.GetBoolExpr()
		args := make([]*ExpressionNode, len(be.GetArgs()))
		for i, a := range be.GetArgs() {
			args[i] = e.convertExpr(a, p)
		}
		switch be.GetBoolop() {
		case pg_query.BoolExprType_AND_EXPR:
			return balanceBoolChain("AND", args)
		case pg_query.BoolExprType_OR_EXPR:
			return balanceBoolChain("OR", args)
		case pg_query.BoolExprType_NOT_EXPR:
			return NewUnaryOp("NOT", args[0])
		}
		return p.unknownExpr()

	case expr.GetFuncCall() != nil:
		fc := expr.GetFuncCall()
		if fc.GetOver() != nil {
			// Window functions have no logical-plan representation; the
			// extract call fails once the traversal finishes.
			p.Metadata[metaWindowFunction] = "true"
			return p.unknownExpr()
		}
		fn := NewFunction(exprOpName(fc.GetFuncname()))
		for _, a := range fc.GetArgs() {
			fn.Children = append(fn.Children, e.convertExpr(a, p))
		}
		if fc.GetAggStar() {
			fn.Children = append(fn.Children, NewColumnRef("*"))
		}
		return fn

	case expr.GetSubLink() != nil:
		// Scalar subquery in expression position: extract the inner plan and
		// carry its structural rendering so comparisons stay deterministic.
		link := expr.GetSubLink()
		if inner := link.GetSubselect().GetSelectStmt(); inner != nil {
			if innerPlan, err := e.convertSelect(inner, p); err == nil {
				node := &ExpressionNode{
					Type:  ExprSubquery,
					Op:    link.GetSubLinkType().String(),
					Value: innerPlan.ToJSON(),
				}
				// Keep the test expression so `a IN (SELECT ..)` and
				// `b IN (SELECT ..)` stay distinguishable.
				if test := e.convertExpr(link.GetTestexpr(), p); test != nil {
					node.Children = append(node.Children, test)
				}
				return node
			}
		}
		return p.unknownExpr()

	case expr.GetCaseExpr() != nil:
		ce := expr.GetCaseExpr()
		out := &ExpressionNode{Type: ExprCase, Op: "CASE"}
		if arg := ce.GetArg(); arg != nil {
			out.Children = append(out.Children, e.convertExpr(arg, p))
		}
		for _, w := range ce.GetArgs() {
			cw := w.GetCaseWhen()
			out.Children = append(out.Children,
				e.convertExpr(cw.GetExpr(), p), e.convertExpr(cw.GetResult(), p))
		}
		if def := ce.GetDefresult(); def != nil {
			out.Children = append(out.Children, e.convertExpr(def, p))
		}
		return out

	case expr.GetNullTest() != nil:
		nt := expr.GetNullTest()
		op := "IS NULL"
		if nt.GetNulltesttype() == pg_query.NullTestType_IS_NOT_NULL {
			op = "IS NOT NULL"
		}
		return NewUnaryOp(op, e.convertExpr(nt.GetArg(), p))

	case expr.GetTypeCast() != nil:
		// Casts of bare constants (TRUE/FALSE parse this way) reduce to the
		// constant itself.
		return e.convertExpr(expr.GetTypeCast().GetArg(), p)
	}
	return p.unknownExpr()
}

func (p *LogicalPlan) unknownExpr() *ExpressionNode {
	p.MarkUnsupported()
	return &ExpressionNode{Type: ExprUnknown}
}

// balanceBoolChain folds n-ary AND/OR argument lists into left-deep binary
// nodes so the expression model stays binary.
func balanceBoolChain(op string, args []*ExpressionNode) *ExpressionNode {
	if len(args) == 0 {
		return NewLiteral("true")
	}
	node := args[0]
	for _, next := range args[1:] {
		node = NewBinaryOp(op, node, next)
	}
	return node
}

func constValue(c *pg_query.A_Const) string {
	switch {
	case c.GetIsnull():
		return "NULL"
	case c.GetIval() != nil:
		return strconv.FormatInt(int64(c.GetIval().GetIval()), 10)
	case c.GetFval() != nil:
		return c.GetFval().GetFval()
	case c.GetBoolval() != nil:
		return strconv.FormatBool(c.GetBoolval().GetBoolval())
	case c.GetSval() != nil:
		return "'" + strings.ReplaceAll(c.GetSval().GetSval(), "'", "''") + "'"
	}
	return "NULL"
}

// columnName renders a ColumnRef node as a dotted name; bare stars become *.
func columnName(n *pg_query.Node) string {
	cr := n.GetColumnRef()
	if cr == nil {
		if rt := n.GetResTarget(); rt != nil {
			return columnName(rt.GetVal())
		}
		return ""
	}
	parts := make([]string, 0, len(cr.GetFields()))
	for _, f := range cr.GetFields() {
		if f.GetAStar() != nil {
			parts = append(parts, "*")
			continue
		}
		parts = append(parts, f.GetString_().GetSval())
	}
	return strings.Join(parts, ".")
}

// targetName renders a projection target. Expressions that are not simple
// column references are rendered through the expression model so that the
// projection list stays deterministic.
func targetName(n *pg_query.Node, p *LogicalPlan) string {
	rt := n.GetResTarget()
	if rt == nil {
		return ""
	}
	val := rt.GetVal()
	if val.GetColumnRef() != nil {
		return columnName(val)
	}
	e := &PGQueryExtractor{}
	return e.convertExpr(val, p).Canonicalize().ToJSON()
}

func sortKey(n *pg_query.Node) string {
	sb := n.GetSortBy()
	if sb == nil {
		return ""
	}
	key := columnName(sb.GetNode())
	if key == "" {
		key = sb.GetNode().String()
	}
	if sb.GetSortbyDir() == pg_query.SortByDir_SORTBY_DESC {
		key += " DESC"
	}
	return key
}
