package types

import "strings"

// ColumnType represents the declared type of a column
type ColumnType string

const (
	ColumnTypeString ColumnType = "string"
	ColumnTypeNumber ColumnType = "number"
)

// ParseColumnType accepts the declared type names used in schema files,
// including common SQL spellings.
func ParseColumnType(s string) (ColumnType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "string", "text", "varchar", "char":
		return ColumnTypeString, true
	case "number", "numeric", "int", "integer", "bigint", "float", "double", "real", "decimal":
		return ColumnTypeNumber, true
	default:
		return "", false
	}
}
