// Package sqlgen builds the SQL statement text for dynamic-schema ingestion:
// identifier sanitization, the all-text CREATE TABLE for an inferred schema,
// and the positional INSERT ... SELECT that splits staged raw rows into
// columns. Everything here is pure string construction; execution lives in
// internal/storage.
package sqlgen

import (
	"regexp"
	"strings"
)

// bareIdentRE is the host store's bare-identifier grammar. Anything that does
// not fully match must be quoted.
var bareIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SanitizeIdentifier turns one raw header fragment into a usable identifier.
//
// Behavior:
//   - Surrounding whitespace is trimmed.
//   - A trimmed value matching ^[a-zA-Z_][a-zA-Z0-9_]*$ is returned unchanged.
//   - Anything else is wrapped in double quotes with the trimmed text
//     preserved inside. Embedded double quotes are doubled, so the quoted
//     form is always a single well-formed identifier.
//
// The result is safe to embed in generated statement text. Sanitizing is not
// idempotent: a quoted identifier fed back in gets quoted again, so callers
// must sanitize each raw fragment exactly once.
func SanitizeIdentifier(raw string) string {
	id := strings.TrimSpace(raw)
	if bareIdentRE.MatchString(id) {
		return id
	}
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// QualifiedName renders namespace.table with both parts sanitized. An empty
// namespace yields the bare table name.
func QualifiedName(namespace, table string) string {
	if namespace == "" {
		return SanitizeIdentifier(table)
	}
	return SanitizeIdentifier(namespace) + "." + SanitizeIdentifier(table)
}

// QuoteLiteral renders s as a single-quoted SQL string literal, doubling
// embedded quotes. Used for the delimiter; identifiers go through
// SanitizeIdentifier instead.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
