package catalog

import (
	"fmt"
	"strings"
)

// KeyPattern maps a table's key columns to store keys, e.g. "users:{id}" or
// "orders:{user_id}:{id}". Placeholders are separated by non-empty literal
// text so that keys can be split back into their column values.
type KeyPattern struct {
	raw string
	// literals[i] precedes columns[i]; the final entry is the suffix.
	literals []string
	columns  []string
}

// ParseKeyPattern compiles a key pattern.
func ParseKeyPattern(pattern string) (*KeyPattern, error) {
	kp := &KeyPattern{raw: pattern}
	rest := pattern
	var lit strings.Builder
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			lit.WriteString(rest)
			break
		}
		lit.WriteString(rest[:open])
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("key pattern %q: unclosed placeholder", pattern)
		}
		name := rest[open+1 : open+end]
		if !isIdentifier(name) {
			return nil, fmt.Errorf("key pattern %q: invalid placeholder %q", pattern, name)
		}
		if len(kp.columns) > 0 && lit.Len() == 0 {
			return nil, fmt.Errorf("key pattern %q: placeholders {%s} and {%s} need a separator",
				pattern, kp.columns[len(kp.columns)-1], name)
		}
		for _, c := range kp.columns {
			if c == name {
				return nil, fmt.Errorf("key pattern %q: duplicate placeholder {%s}", pattern, name)
			}
		}
		kp.literals = append(kp.literals, lit.String())
		kp.columns = append(kp.columns, name)
		lit.Reset()
		rest = rest[open+end+1:]
	}
	kp.literals = append(kp.literals, lit.String())

	if len(kp.columns) == 0 {
		return nil, fmt.Errorf("key pattern %q: no placeholder", pattern)
	}
	for _, l := range kp.literals {
		if strings.ContainsAny(l, `*?[]\}`) {
			return nil, fmt.Errorf("key pattern %q: literal %q contains a reserved character", pattern, l)
		}
	}
	return kp, nil
}

// MustParseKeyPattern is like ParseKeyPattern but panics on error.
func MustParseKeyPattern(pattern string) *KeyPattern {
	kp, err := ParseKeyPattern(pattern)
	if err != nil {
		panic(err)
	}
	return kp
}

// DefaultKeyPattern returns the pattern used for tables without a registry
// entry: <table><sep>{<keyColumn>}.
func DefaultKeyPattern(table, sep, keyColumn string) *KeyPattern {
	return &KeyPattern{
		raw:      table + sep + "{" + keyColumn + "}",
		literals: []string{table + sep, ""},
		columns:  []string{keyColumn},
	}
}

func (kp *KeyPattern) String() string { return kp.raw }

// Columns returns the key columns in placeholder order.
func (kp *KeyPattern) Columns() []string {
	out := make([]string, len(kp.columns))
	copy(out, kp.columns)
	return out
}

// IsKeyColumn reports whether name is one of the placeholders.
func (kp *KeyPattern) IsKeyColumn(name string) bool {
	return kp.Index(name) >= 0
}

// Index returns the placeholder position of name, or -1.
func (kp *KeyPattern) Index(name string) int {
	for i, c := range kp.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Glob returns the store scan pattern enumerating every key of the table.
func (kp *KeyPattern) Glob() string {
	return kp.PrefixGlob(nil)
}

// Format builds the key for a full set of key column values.
func (kp *KeyPattern) Format(values []string) (string, error) {
	if len(values) != len(kp.columns) {
		return "", fmt.Errorf("key pattern %q: expected %d key values, got %d", kp.raw, len(kp.columns), len(values))
	}
	if err := kp.checkValues(values); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, v := range values {
		b.WriteString(kp.literals[i])
		b.WriteString(v)
	}
	b.WriteString(kp.literals[len(kp.literals)-1])
	return b.String(), nil
}

// Prefix returns the literal key prefix shared by all keys whose leading key
// columns equal values. The literal following the last bound value is
// included so that "7" does not match "70".
func (kp *KeyPattern) Prefix(values []string) (string, error) {
	if len(values) > len(kp.columns) {
		return "", fmt.Errorf("key pattern %q: too many key values", kp.raw)
	}
	if err := kp.checkValues(values); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, v := range values {
		b.WriteString(kp.literals[i])
		b.WriteString(v)
	}
	b.WriteString(kp.literals[len(values)])
	return b.String(), nil
}

// PrefixGlob returns a scan pattern matching every key whose leading key
// columns equal values.
func (kp *KeyPattern) PrefixGlob(values []string) string {
	var b strings.Builder
	for i := range kp.columns {
		b.WriteString(EscapeGlob(kp.literals[i]))
		if i < len(values) {
			b.WriteString(EscapeGlob(values[i]))
		} else {
			b.WriteByte('*')
		}
	}
	b.WriteString(EscapeGlob(kp.literals[len(kp.literals)-1]))
	return b.String()
}

// Parse splits key into its key column values. ok is false when key does
// not belong to the pattern.
func (kp *KeyPattern) Parse(key string) (values []string, ok bool) {
	if !strings.HasPrefix(key, kp.literals[0]) {
		return nil, false
	}
	rest := key[len(kp.literals[0]):]
	values = make([]string, len(kp.columns))
	for i := range kp.columns {
		next := kp.literals[i+1]
		if i == len(kp.columns)-1 {
			if !strings.HasSuffix(rest, next) {
				return nil, false
			}
			values[i] = rest[:len(rest)-len(next)]
			rest = ""
			break
		}
		idx := strings.Index(rest, next)
		if idx < 0 {
			return nil, false
		}
		values[i] = rest[:idx]
		rest = rest[idx+len(next):]
	}
	for _, v := range values {
		if v == "" {
			return nil, false
		}
	}
	return values, true
}

// LastSegmentIsOpen reports whether the last key column is followed by no
// literal suffix, which makes key order equal value order for that column.
func (kp *KeyPattern) LastSegmentIsOpen() bool {
	return kp.literals[len(kp.literals)-1] == ""
}

func (kp *KeyPattern) checkValues(values []string) error {
	for i, v := range values {
		if v == "" {
			return fmt.Errorf("key column %q: empty key value", kp.columns[i])
		}
		if next := kp.literals[i+1]; next != "" && strings.Contains(v, next) {
			return fmt.Errorf("key column %q: value %q contains separator %q", kp.columns[i], v, next)
		}
	}
	return nil
}

// EscapeGlob escapes glob metacharacters so s matches only itself.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
