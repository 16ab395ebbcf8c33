package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/types"
)

func col(name string) types.ColumnRef { return types.ColumnRef{Name: name} }

func qcol(table, name string) types.ColumnRef { return types.ColumnRef{Table: table, Name: name} }

func TestParse_Select(t *testing.T) {
	t.Run("star with point predicate", func(t *testing.T) {
		stmt, err := Parse("SELECT * FROM users WHERE id = '42'")
		require.NoError(t, err)
		sel, ok := stmt.(*SelectStmt)
		require.True(t, ok)
		assert.True(t, sel.Star)
		assert.Equal(t, "users", sel.From)
		assert.Equal(t, &Comparison{Column: col("id"), Op: OpEq, Value: StringLiteral("42")}, sel.Where)
	})

	t.Run("keywords are case insensitive", func(t *testing.T) {
		stmt, err := Parse("select Name from Users where AGE >= 18;")
		require.NoError(t, err)
		sel := stmt.(*SelectStmt)
		assert.Equal(t, "Users", sel.From)
		assert.Equal(t, []SelectItem{{Column: col("Name")}}, sel.Items)
		assert.Equal(t, &Comparison{Column: col("AGE"), Op: OpGe, Value: NumberLiteral(18)}, sel.Where)
	})

	t.Run("aggregates and aliases", func(t *testing.T) {
		stmt, err := Parse("SELECT COUNT(*), sum(price) AS total, avg(o.qty), region FROM orders o_ignored")
		require.Error(t, err, "table aliases are not part of the grammar")

		stmt, err = Parse("SELECT COUNT(*), sum(price) AS total, avg(orders.qty), region FROM orders GROUP BY region")
		require.NoError(t, err)
		sel := stmt.(*SelectStmt)
		assert.Equal(t, []SelectItem{
			{Agg: AggCount, Star: true},
			{Agg: AggSum, Column: col("price"), Alias: "total"},
			{Agg: AggAvg, Column: qcol("orders", "qty")},
			{Column: col("region")},
		}, sel.Items)
		assert.Equal(t, []types.ColumnRef{col("region")}, sel.GroupBy)
		assert.True(t, sel.HasAggregates())
	})

	t.Run("aggregate name used as a column", func(t *testing.T) {
		stmt, err := Parse("SELECT count FROM stats")
		require.NoError(t, err)
		assert.Equal(t, []SelectItem{{Column: col("count")}}, stmt.(*SelectStmt).Items)
	})

	t.Run("join", func(t *testing.T) {
		stmt, err := Parse("SELECT users.name, orders.total FROM orders JOIN users ON orders.user_id = users.id WHERE orders.total > 10")
		require.NoError(t, err)
		sel := stmt.(*SelectStmt)
		require.NotNil(t, sel.Join)
		assert.Equal(t, &JoinClause{
			Kind:  JoinInner,
			Table: "users",
			On:    &JoinCondition{Left: qcol("orders", "user_id"), Op: OpEq, Right: qcol("users", "id")},
		}, sel.Join)
	})

	t.Run("outer and cross joins parse", func(t *testing.T) {
		for query, kind := range map[string]JoinKind{
			"SELECT * FROM a LEFT JOIN b ON a.id = b.id":        JoinLeft,
			"SELECT * FROM a LEFT OUTER JOIN b ON a.id = b.id":  JoinLeft,
			"SELECT * FROM a RIGHT JOIN b ON a.id = b.id":       JoinRight,
			"SELECT * FROM a FULL OUTER JOIN b ON a.id = b.id":  JoinFull,
			"SELECT * FROM a CROSS JOIN b":                      JoinCross,
			"SELECT * FROM a INNER JOIN b ON a.id = b.id":       JoinInner,
		} {
			stmt, err := Parse(query)
			require.NoError(t, err, query)
			assert.Equal(t, kind, stmt.(*SelectStmt).Join.Kind, query)
		}
	})

	t.Run("and binds tighter than or", func(t *testing.T) {
		stmt, err := Parse("SELECT * FROM t WHERE a = 1 OR b = 2 AND c = 3")
		require.NoError(t, err)
		where := stmt.(*SelectStmt).Where.(*BinaryExpr)
		assert.Equal(t, OpOr, where.Op)
		assert.Equal(t, OpAnd, where.Right.(*BinaryExpr).Op)

		stmt, err = Parse("SELECT * FROM t WHERE (a = 1 OR b = 2) AND c = 3")
		require.NoError(t, err)
		assert.Equal(t, OpAnd, stmt.(*SelectStmt).Where.(*BinaryExpr).Op)
	})

	t.Run("literals", func(t *testing.T) {
		stmt, err := Parse(`SELECT * FROM t WHERE a = -1.5 AND b = "it\"s" AND c = 'a\\b' AND d <> .5 AND e != 2e3`)
		require.NoError(t, err)
		var lits []Literal
		Walk(stmt.(*SelectStmt).Where, func(c *Comparison) { lits = append(lits, c.Value) })
		assert.Equal(t, []Literal{
			NumberLiteral(-1.5),
			StringLiteral(`it"s`),
			StringLiteral(`a\b`),
			NumberLiteral(0.5),
			NumberLiteral(2000),
		}, lits)
	})
}

func TestParse_Writes(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		stmt, err := Parse("INSERT INTO users (id, name) VALUES ('7','Bo'), ('8', 'Cy')")
		require.NoError(t, err)
		assert.Equal(t, &InsertStmt{
			Table:   "users",
			Columns: []string{"id", "name"},
			Rows: [][]Literal{
				{StringLiteral("7"), StringLiteral("Bo")},
				{StringLiteral("8"), StringLiteral("Cy")},
			},
		}, stmt)
	})

	t.Run("insert without column list", func(t *testing.T) {
		stmt, err := Parse("INSERT INTO users VALUES ('7', 30)")
		require.NoError(t, err)
		assert.Empty(t, stmt.(*InsertStmt).Columns)
	})

	t.Run("update", func(t *testing.T) {
		stmt, err := Parse("UPDATE users SET name = 'Al', age = 31 WHERE id = '1'")
		require.NoError(t, err)
		assert.Equal(t, &UpdateStmt{
			Table: "users",
			Set: []Assignment{
				{Column: "name", Value: StringLiteral("Al")},
				{Column: "age", Value: NumberLiteral(31)},
			},
			Where: &Comparison{Column: col("id"), Op: OpEq, Value: StringLiteral("1")},
		}, stmt)
		assert.Equal(t, "update", stmt.Kind())
	})

	t.Run("delete", func(t *testing.T) {
		stmt, err := Parse("DELETE FROM users")
		require.NoError(t, err)
		assert.Equal(t, &DeleteStmt{Table: "users"}, stmt)
	})
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		code     string
		position int
	}{
		{"empty", "", qerrors.CodeEmptyInput, 0},
		{"whitespace", "   \n\t", qerrors.CodeEmptyInput, 0},
		{"misspelled keyword", "SELEC * FROM users", qerrors.CodeUnsupportedSyntax, 0},
		{"unsupported statement", "  DROP TABLE users", qerrors.CodeUnsupportedSyntax, 2},
		{"missing from", "SELECT * users", qerrors.CodeUnexpectedToken, 9},
		{"missing table", "SELECT * FROM", qerrors.CodeUnexpectedToken, 13},
		{"bad operator", "SELECT * FROM t WHERE a ~ 1", qerrors.CodeUnexpectedToken, 24},
		{"column compared to column", "SELECT * FROM t WHERE a = b", qerrors.CodeUnexpectedToken, 26},
		{"unclosed paren", "SELECT * FROM t WHERE (a = 1", qerrors.CodeUnexpectedToken, 28},
		{"unterminated string", "SELECT * FROM t WHERE a = 'abc", qerrors.CodeUnterminatedLiteral, 26},
		{"multiple statements", "SELECT * FROM t; SELECT * FROM u", qerrors.CodeMultipleStatements, 17},
		{"unseparated statements", "SELECT * FROM a SELECT * FROM b", qerrors.CodeMultipleStatements, 16},
		{"statement after where", "DELETE FROM a WHERE x = 1 DELETE FROM b", qerrors.CodeMultipleStatements, 26},
		{"trailing tokens", "DELETE FROM t garbage", qerrors.CodeUnexpectedToken, 14},
		{"sum star", "SELECT SUM(*) FROM t", qerrors.CodeUnexpectedToken, 11},
		{"update needs equals", "UPDATE t SET a < 1", qerrors.CodeUnexpectedToken, 15},
		{"insert needs values", "INSERT INTO t (a)", qerrors.CodeUnexpectedToken, 17},
		{"illegal character", "SELECT * FROM t WHERE a = 1 # x", qerrors.CodeUnexpectedToken, 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Parse(tt.query)
			assert.Nil(t, stmt)
			require.Error(t, err)
			e, ok := qerrors.As(err)
			require.True(t, ok)
			assert.Equal(t, qerrors.StageParse, e.Stage)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.position, e.Position)
			assert.GreaterOrEqual(t, e.Position, 0)
			assert.LessOrEqual(t, e.Position, len(tt.query))
		})
	}
}

func TestParse_ErrorPositionBounds(t *testing.T) {
	inputs := []string{
		"SELECT", "SELECT *", "SELECT * FROM", "SELECT a,", "SELECT COUNT(", "INSERT INTO t VALUES (",
		"UPDATE t SET", "DELETE FROM t WHERE", "SELECT * FROM t WHERE a =", "SELECT * FROM a JOIN",
		"SELECT * FROM t GROUP", "'", "\"abc", ";", "SELECT * FROM t;;", "x",
	}
	for _, q := range inputs {
		_, err := Parse(q)
		require.Error(t, err, q)
		e, ok := qerrors.As(err)
		require.True(t, ok, q)
		assert.True(t, e.Position >= 0 && e.Position <= len(q), "%q: position %d", q, e.Position)
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	queries := []string{
		"SELECT * FROM users WHERE id = '42'",
		"select name, age as years from users where age >= 18 and (name = 'a' or name = 'b')",
		"SELECT * FROM t WHERE a = 1 OR (b = 2 OR c = 3)",
		"SELECT * FROM t WHERE (a = 1 AND b = 2) AND c = 3",
		"SELECT * FROM t WHERE a = 1 AND (b = 2 AND c = 3)",
		"SELECT COUNT(*) AS n, MAX(price) FROM orders GROUP BY region, orders.kind",
		"SELECT users.name FROM orders LEFT OUTER JOIN users ON orders.user_id = users.id",
		"SELECT * FROM a CROSS JOIN b",
		"INSERT INTO users (id, name) VALUES ('7', 'it\\'s'), ('8', -0.25)",
		"INSERT INTO users VALUES ('7', 1e20)",
		"UPDATE users SET name = 'x\\\\y' WHERE id <> '1'",
		"DELETE FROM users WHERE id < 5 OR id > 10",
		"DELETE FROM users",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			ast, err := Parse(q)
			require.NoError(t, err)
			text := Format(ast)
			again, err := Parse(text)
			require.NoError(t, err, text)
			assert.Equal(t, ast, again)
			assert.Equal(t, text, Format(again))
		})
	}
}

func TestLexer(t *testing.T) {
	tokens, err := NewLexer("SELECT a.b, -3 FROM t WHERE x <= 'y';").Tokenize()
	require.NoError(t, err)
	var typesSeen []TokenType
	for _, tok := range tokens {
		typesSeen = append(typesSeen, tok.Type)
	}
	assert.Equal(t, []TokenType{
		SELECT, IDENT, DOT, IDENT, COMMA, NUMBER, FROM, IDENT, WHERE, IDENT, OPERATOR, STRING, SEMICOLON, EOF,
	}, typesSeen)
	assert.Equal(t, 12, tokens[5].Position)
	assert.Equal(t, len("SELECT a.b, -3 FROM t WHERE x <= 'y';"), tokens[len(tokens)-1].Position)
}

func TestConjuncts(t *testing.T) {
	stmt, err := Parse("SELECT * FROM t WHERE a = 1 AND (b = 2 OR c = 3) AND d = 4")
	require.NoError(t, err)
	where := stmt.(*SelectStmt).Where
	parts := Conjuncts(where)
	require.Len(t, parts, 3)
	assert.Len(t, Disjuncts(parts[1]), 2)
	assert.Nil(t, And())
	assert.Equal(t, parts[0], And(nil, parts[0]))
}
