// Package sqlutil provides SQL utility functions and dialect-specific helpers.
package sqlutil

import "strings"

// QuoteIdentifier quotes a MySQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteIdentifierANSI quotes an identifier with double quotes, as PostgreSQL
// expects for case-sensitive names like "Level" or "BakerId".
func QuoteIdentifierANSI(name string) string {
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
