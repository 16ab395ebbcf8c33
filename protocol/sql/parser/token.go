package parser

import "fmt"

// TokenType classifies a lexical token.
type TokenType int

const (
	EOF TokenType = iota
	ILLEGAL
	IDENT
	NUMBER
	STRING

	// keywords
	SELECT
	FROM
	WHERE
	INSERT
	INTO
	VALUES
	UPDATE
	SET
	DELETE
	AND
	OR
	JOIN
	INNER
	LEFT
	RIGHT
	FULL
	OUTER
	CROSS
	ON
	AS
	GROUP
	BY

	// punctuation and operators
	COMMA
	SEMICOLON
	LPAREN
	RPAREN
	ASTERISK
	DOT
	OPERATOR
)

// keywords maps uppercase keyword strings to their token types.
var keywords = map[string]TokenType{
	"SELECT": SELECT,
	"FROM":   FROM,
	"WHERE":  WHERE,
	"INSERT": INSERT,
	"INTO":   INTO,
	"VALUES": VALUES,
	"UPDATE": UPDATE,
	"SET":    SET,
	"DELETE": DELETE,
	"AND":    AND,
	"OR":     OR,
	"JOIN":   JOIN,
	"INNER":  INNER,
	"LEFT":   LEFT,
	"RIGHT":  RIGHT,
	"FULL":   FULL,
	"OUTER":  OUTER,
	"CROSS":  CROSS,
	"ON":     ON,
	"AS":     AS,
	"GROUP":  GROUP,
	"BY":     BY,
}

// singleCharTokens maps single-byte punctuation to their token types.
var singleCharTokens = map[byte]TokenType{
	',': COMMA,
	';': SEMICOLON,
	'(': LPAREN,
	')': RPAREN,
	'*': ASTERISK,
	'.': DOT,
}

var tokenNames = map[TokenType]string{
	EOF:       "end of input",
	ILLEGAL:   "illegal character",
	IDENT:     "identifier",
	NUMBER:    "number",
	STRING:    "string",
	COMMA:     "','",
	SEMICOLON: "';'",
	LPAREN:    "'('",
	RPAREN:    "')'",
	ASTERISK:  "'*'",
	DOT:       "'.'",
	OPERATOR:  "comparison operator",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	for kw, typ := range keywords {
		if typ == t {
			return kw
		}
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token with its byte offset in the query.
type Token struct {
	Type     TokenType
	Value    string
	Position int
}

// describe renders the token for error messages.
func (t Token) describe() string {
	switch t.Type {
	case EOF:
		return "end of input"
	case STRING:
		return fmt.Sprintf("string %q", t.Value)
	case IDENT, NUMBER, OPERATOR, ILLEGAL:
		return fmt.Sprintf("%q", t.Value)
	default:
		return t.Type.String()
	}
}
