package parser

import (
	"strings"

	qerrors "github.com/guileen/kvql/engine/errors"
)

// Lexer splits a query into tokens. Keywords are matched case-insensitively;
// identifiers keep their case.
type Lexer struct {
	input string
	pos   int
}

func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns all tokens up to and including EOF. The only lexical
// error is an unterminated quoted literal.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}

// NextToken scans the next token. Characters outside the language become
// ILLEGAL tokens so the parser can report them with a position.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: EOF, Position: len(l.input)}, nil
	}

	start := l.pos
	c := l.input[l.pos]

	switch {
	case isLetter(c):
		return l.readWord(), nil
	case isDigit(c):
		return l.readNumber(start), nil
	case c == '.' && l.peekDigit(1):
		return l.readNumber(start), nil
	case c == '-' && (l.peekDigit(1) || (l.peek(1) == '.' && l.peekDigit(2))):
		l.pos++
		return l.readNumber(start), nil
	case c == '\'' || c == '"':
		return l.readString(c)
	}

	if typ, ok := singleCharTokens[c]; ok {
		l.pos++
		return Token{Type: typ, Value: string(c), Position: start}, nil
	}

	switch c {
	case '=':
		l.pos++
		return Token{Type: OPERATOR, Value: "=", Position: start}, nil
	case '<':
		l.pos++
		if n := l.peek(0); n == '=' || n == '>' {
			l.pos++
		}
		return Token{Type: OPERATOR, Value: l.input[start:l.pos], Position: start}, nil
	case '>':
		l.pos++
		if l.peek(0) == '=' {
			l.pos++
		}
		return Token{Type: OPERATOR, Value: l.input[start:l.pos], Position: start}, nil
	case '!':
		if l.peek(1) == '=' {
			l.pos += 2
			return Token{Type: OPERATOR, Value: "!=", Position: start}, nil
		}
	}

	l.pos++
	return Token{Type: ILLEGAL, Value: string(c), Position: start}, nil
}

func (l *Lexer) readWord() Token {
	start := l.pos
	for l.pos < len(l.input) && (isLetter(l.input[l.pos]) || isDigit(l.input[l.pos])) {
		l.pos++
	}
	word := l.input[start:l.pos]
	if typ, ok := keywords[upper(word)]; ok {
		return Token{Type: typ, Value: upper(word), Position: start}
	}
	return Token{Type: IDENT, Value: word, Position: start}
}

func (l *Lexer) readNumber(start int) Token {
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	if l.peek(0) == '.' && l.peekDigit(1) {
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	if e := l.peek(0); e == 'e' || e == 'E' {
		n := 1
		if s := l.peek(1); s == '+' || s == '-' {
			n = 2
		}
		if l.peekDigit(n) {
			l.pos += n
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		}
	}
	return Token{Type: NUMBER, Value: l.input[start:l.pos], Position: start}
}

// readString reads a literal quoted by q. A backslash escapes the quote
// character and the backslash itself; other backslashes are kept.
func (l *Lexer) readString(q byte) (Token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.input) && (l.input[l.pos+1] == q || l.input[l.pos+1] == '\\'):
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case c == q:
			l.pos++
			return Token{Type: STRING, Value: b.String(), Position: start}, nil
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return Token{}, qerrors.NewParseError(qerrors.CodeUnterminatedLiteral, start, "unterminated string literal", "closing "+string(q))
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) peek(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *Lexer) peekDigit(offset int) bool {
	return isDigit(l.peek(offset))
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func upper(s string) string {
	return strings.ToUpper(s)
}
