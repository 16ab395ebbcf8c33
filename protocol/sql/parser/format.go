package parser

import (
	"strings"

	"github.com/guileen/kvql/types"
)

// Format renders stmt as canonical query text. Parse(Format(stmt)) yields a
// statement equal to stmt.
func Format(stmt Statement) string {
	var b strings.Builder
	switch s := stmt.(type) {
	case *SelectStmt:
		formatSelect(&b, s)
	case *InsertStmt:
		formatInsert(&b, s)
	case *UpdateStmt:
		b.WriteString("UPDATE ")
		b.WriteString(s.Table)
		b.WriteString(" SET ")
		for i, a := range s.Set {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.Column)
			b.WriteString(" = ")
			formatLiteral(&b, a.Value)
		}
		formatWhere(&b, s.Where)
	case *DeleteStmt:
		b.WriteString("DELETE FROM ")
		b.WriteString(s.Table)
		formatWhere(&b, s.Where)
	}
	return b.String()
}

func formatSelect(b *strings.Builder, s *SelectStmt) {
	b.WriteString("SELECT ")
	if s.Star {
		b.WriteString("*")
	}
	for i, item := range s.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		switch {
		case item.Star:
			b.WriteString(string(item.Agg))
			b.WriteString("(*)")
		case item.IsAggregate():
			b.WriteString(string(item.Agg))
			b.WriteByte('(')
			b.WriteString(item.Column.String())
			b.WriteByte(')')
		default:
			b.WriteString(item.Column.String())
		}
		if item.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(item.Alias)
		}
	}
	b.WriteString(" FROM ")
	b.WriteString(s.From)
	if j := s.Join; j != nil {
		b.WriteByte(' ')
		b.WriteString(string(j.Kind))
		b.WriteString(" JOIN ")
		b.WriteString(j.Table)
		if j.On != nil {
			b.WriteString(" ON ")
			b.WriteString(j.On.Left.String())
			b.WriteByte(' ')
			b.WriteString(string(j.On.Op))
			b.WriteByte(' ')
			b.WriteString(j.On.Right.String())
		}
	}
	formatWhere(b, s.Where)
	if len(s.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		formatColumns(b, s.GroupBy)
	}
}

func formatInsert(b *strings.Builder, s *InsertStmt) {
	b.WriteString("INSERT INTO ")
	b.WriteString(s.Table)
	if len(s.Columns) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(s.Columns, ", "))
		b.WriteByte(')')
	}
	b.WriteString(" VALUES ")
	for i, row := range s.Rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, lit := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			formatLiteral(b, lit)
		}
		b.WriteByte(')')
	}
}

func formatColumns(b *strings.Builder, cols []types.ColumnRef) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.String())
	}
}

func formatWhere(b *strings.Builder, e Expr) {
	if e == nil {
		return
	}
	b.WriteString(" WHERE ")
	formatExpr(b, e)
}

func precedence(e Expr) int {
	if be, ok := e.(*BinaryExpr); ok {
		if be.Op == OpOr {
			return 1
		}
		return 2
	}
	return 3
}

// formatExpr parenthesizes children so that re-parsing, with AND binding
// tighter than OR and both left-associative, rebuilds the same tree.
func formatExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case *BinaryExpr:
		prec := precedence(n)
		formatChild(b, n.Left, precedence(n.Left) < prec)
		b.WriteByte(' ')
		b.WriteString(string(n.Op))
		b.WriteByte(' ')
		formatChild(b, n.Right, precedence(n.Right) <= prec)
	case *Comparison:
		b.WriteString(n.Column.String())
		b.WriteByte(' ')
		b.WriteString(string(n.Op))
		b.WriteByte(' ')
		formatLiteral(b, n.Value)
	}
}

func formatChild(b *strings.Builder, e Expr, paren bool) {
	if paren {
		b.WriteByte('(')
	}
	formatExpr(b, e)
	if paren {
		b.WriteByte(')')
	}
}

func formatLiteral(b *strings.Builder, l Literal) {
	if l.Kind == LiteralNumber {
		b.WriteString(types.FormatNumber(l.Num))
		return
	}
	b.WriteByte('\'')
	for i := 0; i < len(l.Str); i++ {
		c := l.Str[i]
		if c == '\'' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('\'')
}
