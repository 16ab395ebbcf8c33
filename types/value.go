package types

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindString
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	default:
		return "absent"
	}
}

// Value is a column value: a string, a number, or absent.
// The zero Value is absent.
type Value struct {
	kind Kind
	str  string
	num  float64
}

// Absent returns the explicit absent marker.
func Absent() Value { return Value{} }

// NewString returns a string value.
func NewString(s string) Value { return Value{kind: KindString, str: s} }

// NewNumber returns a numeric value.
func NewNumber(f float64) Value { return Value{kind: KindNumber, num: f} }

// ParseNumber parses s as a finite number. NaN, infinities and values out
// of range are not numbers.
func ParseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Coerce converts v to the declared column type. Strings that parse as
// numbers become numbers for number columns; numbers become their text for
// string columns. Values that cannot be converted are returned unchanged.
func Coerce(v Value, typ ColumnType) Value {
	switch {
	case typ == ColumnTypeNumber && v.kind == KindString:
		if f, ok := ParseNumber(v.str); ok {
			return NewNumber(f)
		}
	case typ == ColumnTypeString && v.kind == KindNumber:
		return NewString(FormatNumber(v.num))
	}
	return v
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsString() bool { return v.kind == KindString }
func (v Value) Str() string { return v.str }
func (v Value) Num() float64 { return v.num }

// String renders the value as query text would show it; absent renders as
// an empty string.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return FormatNumber(v.num)
	default:
		return ""
	}
}

// Equal reports kind and value equality. Absent equals absent.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	default:
		return true
	}
}

// HashKey returns the byte encoding used for equality joins: a kind tag
// followed by the canonical bytes, so values of different kinds never
// collide. ok is false for absent values, which never join.
func (v Value) HashKey() (key string, ok bool) {
	switch v.kind {
	case KindString:
		return "s" + v.str, true
	case KindNumber:
		if v.num == 0 {
			// -0 and +0 compare equal
			return "n0", true
		}
		return "n" + strconv.FormatUint(math.Float64bits(v.num), 16), true
	default:
		return "", false
	}
}

// Interface returns the Go representation: string, float64 or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler; absent encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// FormatNumber formats f without exponent or trailing zeros.
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
