// Package parser turns a single-statement query string into an AST.
package parser

import (
	"strconv"
	"strings"

	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/types"
)

// Parser is a recursive descent parser over a token slice.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse parses exactly one statement, optionally terminated by ';'.
func Parse(query string) (Statement, error) {
	if strings.TrimSpace(query) == "" {
		return nil, qerrors.NewParseError(qerrors.CodeEmptyInput, 0, "", "a statement")
	}

	tokens, err := NewLexer(query).Tokenize()
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: tokens}
	return p.ParseStatement()
}

// ParseStatement dispatches on the leading keyword.
func (p *Parser) ParseStatement() (Statement, error) {
	var (
		stmt Statement
		err  error
	)
	first := p.current()
	switch first.Type {
	case SELECT:
		stmt, err = p.parseSelect()
	case INSERT:
		stmt, err = p.parseInsert()
	case UPDATE:
		stmt, err = p.parseUpdate()
	case DELETE:
		stmt, err = p.parseDelete()
	default:
		return nil, qerrors.NewParseError(qerrors.CodeUnsupportedSyntax, first.Position, first.describe(), "SELECT, INSERT, UPDATE or DELETE")
	}
	if err != nil {
		return nil, err
	}

	if p.current().Type == SEMICOLON {
		p.advance()
		if tok := p.current(); tok.Type != EOF {
			return nil, qerrors.NewParseError(qerrors.CodeMultipleStatements, tok.Position, tok.describe(), "end of input")
		}
	}
	switch tok := p.current(); tok.Type {
	case EOF:
		return stmt, nil
	case SELECT, INSERT, UPDATE, DELETE:
		return nil, qerrors.NewParseError(qerrors.CodeMultipleStatements, tok.Position, tok.describe(), "end of input")
	default:
		return nil, p.unexpected("end of input")
	}
}

func (p *Parser) current() Token {
	return p.tokens[p.pos]
}

func (p *Parser) peekType(offset int) TokenType {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset].Type
	}
	return EOF
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) accept(typ TokenType) bool {
	if p.current().Type == typ {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(typ TokenType, expected string) (Token, error) {
	if p.current().Type != typ {
		return Token{}, p.unexpected(expected)
	}
	return p.advance(), nil
}

func (p *Parser) unexpected(expected string) error {
	tok := p.current()
	return qerrors.NewParseError(qerrors.CodeUnexpectedToken, tok.Position, tok.describe(), expected)
}

func (p *Parser) parseIdent(expected string) (string, error) {
	tok, err := p.expect(IDENT, expected)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// parseColumn parses "ident ['.' ident]".
func (p *Parser) parseColumn() (types.ColumnRef, error) {
	name, err := p.parseIdent("column name")
	if err != nil {
		return types.ColumnRef{}, err
	}
	if !p.accept(DOT) {
		return types.ColumnRef{Name: name}, nil
	}
	col, err := p.parseIdent("column name")
	if err != nil {
		return types.ColumnRef{}, err
	}
	return types.ColumnRef{Table: name, Name: col}, nil
}

func (p *Parser) parseSelect() (*SelectStmt, error) {
	p.advance() // SELECT
	stmt := &SelectStmt{}

	if p.accept(ASTERISK) {
		stmt.Star = true
	} else {
		for {
			item, err := p.parseSelectItem()
			if err != nil {
				return nil, err
			}
			stmt.Items = append(stmt.Items, item)
			if !p.accept(COMMA) {
				break
			}
		}
	}

	if _, err := p.expect(FROM, "FROM"); err != nil {
		return nil, err
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt.From = table

	if join, err := p.parseJoin(); err != nil {
		return nil, err
	} else if join != nil {
		stmt.Join = join
	}

	if p.accept(WHERE) {
		if stmt.Where, err = p.parseOr(); err != nil {
			return nil, err
		}
	}

	if p.accept(GROUP) {
		if _, err := p.expect(BY, "BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.parseColumn()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, col)
			if !p.accept(COMMA) {
				break
			}
		}
	}
	return stmt, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	var item SelectItem
	tok := p.current()
	if fn, ok := ParseAggFunc(tok.Value); ok && tok.Type == IDENT && p.peekType(1) == LPAREN {
		p.advance()
		p.advance()
		item.Agg = fn
		if p.current().Type == ASTERISK {
			if fn != AggCount {
				return item, p.unexpected("column name")
			}
			p.advance()
			item.Star = true
		} else {
			col, err := p.parseColumn()
			if err != nil {
				return item, err
			}
			item.Column = col
		}
		if _, err := p.expect(RPAREN, "')'"); err != nil {
			return item, err
		}
	} else {
		col, err := p.parseColumn()
		if err != nil {
			if tok.Type != IDENT {
				return item, p.unexpected("column name, aggregate or '*'")
			}
			return item, err
		}
		item.Column = col
	}

	if p.accept(AS) {
		alias, err := p.parseIdent("alias")
		if err != nil {
			return item, err
		}
		item.Alias = alias
	}
	return item, nil
}

func (p *Parser) parseJoin() (*JoinClause, error) {
	kind := JoinInner
	switch p.current().Type {
	case JOIN:
	case INNER, CROSS:
		if p.advance().Type == CROSS {
			kind = JoinCross
		}
	case LEFT, RIGHT, FULL:
		kind = JoinKind(p.advance().Value)
		p.accept(OUTER)
	default:
		return nil, nil
	}
	if _, err := p.expect(JOIN, "JOIN"); err != nil {
		return nil, err
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	join := &JoinClause{Kind: kind, Table: table}

	if p.accept(ON) {
		left, err := p.parseColumn()
		if err != nil {
			return nil, err
		}
		opTok, err := p.expect(OPERATOR, "comparison operator")
		if err != nil {
			return nil, err
		}
		right, err := p.parseColumn()
		if err != nil {
			return nil, err
		}
		join.On = &JoinCondition{Left: left, Op: compareOps[opTok.Value], Right: right}
	}
	return join, nil
}

func (p *Parser) parseInsert() (*InsertStmt, error) {
	p.advance() // INSERT
	if _, err := p.expect(INTO, "INTO"); err != nil {
		return nil, err
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Table: table}

	if p.accept(LPAREN) {
		for {
			col, err := p.parseIdent("column name")
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if !p.accept(COMMA) {
				break
			}
		}
		if _, err := p.expect(RPAREN, "')'"); err != nil {
			return nil, err
		}
	}

	if _, err := p.expect(VALUES, "VALUES"); err != nil {
		return nil, err
	}
	for {
		if _, err := p.expect(LPAREN, "'('"); err != nil {
			return nil, err
		}
		var row []Literal
		for {
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			row = append(row, lit)
			if !p.accept(COMMA) {
				break
			}
		}
		if _, err := p.expect(RPAREN, "')'"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.accept(COMMA) {
			break
		}
	}
	return stmt, nil
}

func (p *Parser) parseUpdate() (*UpdateStmt, error) {
	p.advance() // UPDATE
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SET, "SET"); err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Table: table}
	for {
		col, err := p.parseIdent("column name")
		if err != nil {
			return nil, err
		}
		if tok := p.current(); tok.Type != OPERATOR || tok.Value != "=" {
			return nil, p.unexpected("'='")
		}
		p.advance()
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: lit})
		if !p.accept(COMMA) {
			break
		}
	}
	if p.accept(WHERE) {
		if stmt.Where, err = p.parseOr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStmt, error) {
	p.advance() // DELETE
	if _, err := p.expect(FROM, "FROM"); err != nil {
		return nil, err
	}
	table, err := p.parseIdent("table name")
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Table: table}
	if p.accept(WHERE) {
		if stmt.Where, err = p.parseOr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// parseOr parses "conj {OR conj}".
func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(OR) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

// parseAnd parses "prim {AND prim}".
func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.accept(AND) {
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	if p.accept(LPAREN) {
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	}
	if p.current().Type != IDENT {
		return nil, p.unexpected("column name or '('")
	}
	col, err := p.parseColumn()
	if err != nil {
		return nil, err
	}
	opTok, err := p.expect(OPERATOR, "comparison operator")
	if err != nil {
		return nil, err
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return &Comparison{Column: col, Op: compareOps[opTok.Value], Value: lit}, nil
}

func (p *Parser) parseLiteral() (Literal, error) {
	tok := p.current()
	switch tok.Type {
	case STRING:
		p.advance()
		return StringLiteral(tok.Value), nil
	case NUMBER:
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return Literal{}, qerrors.NewParseError(qerrors.CodeUnexpectedToken, tok.Position, tok.describe(), "number")
		}
		p.advance()
		return NumberLiteral(f), nil
	default:
		return Literal{}, p.unexpected("literal")
	}
}
