package parser

import (
	"strings"

	"github.com/guileen/kvql/types"
)

// Statement is one parsed query: *SelectStmt, *InsertStmt, *UpdateStmt or
// *DeleteStmt.
type Statement interface {
	statementNode()
	// Kind names the statement for logs and metrics.
	Kind() string
}

// AggFunc is an aggregate function name.
type AggFunc string

const (
	AggNone  AggFunc = ""
	AggCount AggFunc = "COUNT"
	AggSum   AggFunc = "SUM"
	AggAvg   AggFunc = "AVG"
	AggMin   AggFunc = "MIN"
	AggMax   AggFunc = "MAX"
)

var aggFuncs = map[string]AggFunc{
	"COUNT": AggCount,
	"SUM":   AggSum,
	"AVG":   AggAvg,
	"MIN":   AggMin,
	"MAX":   AggMax,
}

// ParseAggFunc recognizes an aggregate function name, case-insensitively.
func ParseAggFunc(name string) (AggFunc, bool) {
	fn, ok := aggFuncs[strings.ToUpper(name)]
	return fn, ok
}

// SelectItem is one projection entry: a column or an aggregate call.
type SelectItem struct {
	Agg AggFunc
	// Star marks COUNT(*); Column is then empty.
	Star   bool
	Column types.ColumnRef
	Alias  string
}

// IsAggregate reports whether the item is an aggregate call.
func (i SelectItem) IsAggregate() bool { return i.Agg != AggNone }

// JoinKind is the join flavor as written in the query.
type JoinKind string

const (
	JoinInner JoinKind = "INNER"
	JoinLeft  JoinKind = "LEFT"
	JoinRight JoinKind = "RIGHT"
	JoinFull  JoinKind = "FULL"
	JoinCross JoinKind = "CROSS"
)

// JoinClause is "[kind] JOIN table [ON left op right]". On is nil when the
// query has no ON clause.
type JoinClause struct {
	Kind  JoinKind
	Table string
	On    *JoinCondition
}

// JoinCondition compares one column of each side.
type JoinCondition struct {
	Left  types.ColumnRef
	Op    CompareOp
	Right types.ColumnRef
}

// SelectStmt is a SELECT query. Star is set for "SELECT *"; Items is then
// empty.
type SelectStmt struct {
	Star    bool
	Items   []SelectItem
	From    string
	Join    *JoinClause
	Where   Expr
	GroupBy []types.ColumnRef
}

// InsertStmt is an INSERT with one or more value tuples. Columns is empty
// when the query omits the column list.
type InsertStmt struct {
	Table   string
	Columns []string
	Rows    [][]Literal
}

// Assignment is one "column = literal" of an UPDATE.
type Assignment struct {
	Column string
	Value  Literal
}

// UpdateStmt is an UPDATE.
type UpdateStmt struct {
	Table string
	Set   []Assignment
	Where Expr
}

// DeleteStmt is a DELETE.
type DeleteStmt struct {
	Table string
	Where Expr
}

func (*SelectStmt) statementNode() {}
func (*InsertStmt) statementNode() {}
func (*UpdateStmt) statementNode() {}
func (*DeleteStmt) statementNode() {}

func (*SelectStmt) Kind() string { return "select" }
func (*InsertStmt) Kind() string { return "insert" }
func (*UpdateStmt) Kind() string { return "update" }
func (*DeleteStmt) Kind() string { return "delete" }

// HasAggregates reports whether any projection item is an aggregate.
func (s *SelectStmt) HasAggregates() bool {
	for _, item := range s.Items {
		if item.IsAggregate() {
			return true
		}
	}
	return false
}

// Expr is a node of a WHERE predicate tree: *BinaryExpr or *Comparison.
type Expr interface {
	exprNode()
}

// LogicalOp combines two predicates.
type LogicalOp string

const (
	OpAnd LogicalOp = "AND"
	OpOr  LogicalOp = "OR"
)

// BinaryExpr is "left AND right" or "left OR right".
type BinaryExpr struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "<>"
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

var compareOps = map[string]CompareOp{
	"=":  OpEq,
	"<>": OpNe,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

// Comparison is a "column op literal" leaf.
type Comparison struct {
	Column types.ColumnRef
	Op     CompareOp
	Value  Literal
}

func (*BinaryExpr) exprNode() {}
func (*Comparison) exprNode() {}

// LiteralKind tags a literal.
type LiteralKind int

const (
	LiteralString LiteralKind = iota
	LiteralNumber
)

// Literal is a quoted string or a number.
type Literal struct {
	Kind LiteralKind
	Str  string
	Num  float64
}

// StringLiteral builds a string literal.
func StringLiteral(s string) Literal { return Literal{Kind: LiteralString, Str: s} }

// NumberLiteral builds a numeric literal.
func NumberLiteral(f float64) Literal { return Literal{Kind: LiteralNumber, Num: f} }

// Value converts the literal to a column value.
func (l Literal) Value() types.Value {
	if l.Kind == LiteralNumber {
		return types.NewNumber(l.Num)
	}
	return types.NewString(l.Str)
}

// Walk calls fn for every comparison of the predicate, left to right.
func Walk(e Expr, fn func(*Comparison)) {
	switch n := e.(type) {
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Comparison:
		fn(n)
	}
}

// Conjuncts splits a predicate on its top-level ANDs.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*BinaryExpr); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Expr{e}
}

// Disjuncts splits a predicate on its top-level ORs.
func Disjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if b, ok := e.(*BinaryExpr); ok && b.Op == OpOr {
		return append(Disjuncts(b.Left), Disjuncts(b.Right)...)
	}
	return []Expr{e}
}

// And combines predicates with AND, left-associatively. It returns nil for
// an empty list.
func And(exprs ...Expr) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &BinaryExpr{Op: OpAnd, Left: out, Right: e}
	}
	return out
}
