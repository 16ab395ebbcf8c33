package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"users:*", "users:1", true},
		{"users:*", "users:", true},
		{"users:*", "user:1", false},
		{"users:?", "users:1", true},
		{"users:?", "users:12", false},
		{"orders:*:*", "orders:7:42", true},
		{"orders:*:*", "orders:7", false},
		{"orders:7:*", "orders:70:1", false},
		{"k[abc]", "kb", true},
		{"k[abc]", "kd", false},
		{"k[a-c]x", "kbx", true},
		{"k[^a]", "ka", false},
		{"k[^a]", "kz", true},
		{`a\*`, "a*", true},
		{`a\*`, "ab", false},
		{"a[", "a[", true},
		{"*", "", true},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxbyy", false},
		{"session:*:data", "session:9:data", true},
		{"session:*:data", "session:9:meta", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.key))
		})
	}
}

func TestGlobPrefix(t *testing.T) {
	assert.Equal(t, "users:", GlobPrefix("users:*"))
	assert.Equal(t, "orders:7:", GlobPrefix("orders:7:*"))
	assert.Equal(t, "a*b", GlobPrefix(`a\*b`))
	assert.Equal(t, "k", GlobPrefix("k[ab]"))
	assert.Equal(t, "", GlobPrefix("*"))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, "users;", PrefixEnd("users:"))
	assert.Equal(t, "b", PrefixEnd("a\xff"))
	assert.Equal(t, "", PrefixEnd("\xff\xff"))
	assert.Equal(t, "", PrefixEnd(""))
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp(CmdSet, []byte("k"), []byte("v"))
	assert.NoError(t, err)
	assert.Equal(t, Op{Cmd: CmdSet, Key: "k", Value: []byte("v")}, op)

	_, err = ParseOp(CmdDel)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	_, err = ParseOp("INCR", []byte("k"))
	assert.ErrorIs(t, err, ErrInvalidCommand)
}
