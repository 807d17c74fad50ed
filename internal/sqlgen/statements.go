package sqlgen

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoColumns is returned by the statement builders when the inferred column
// list is empty. A zero-column CREATE TABLE or INSERT is never emitted.
var ErrNoColumns = errors.New("sqlgen: at least one column is required")

// StagingSource locates the staged raw rows: a single text column holding one
// delimiter-joined record per row, header row first.
type StagingSource struct {
	Schema string
	Table  string
	Column string
}

func (s StagingSource) qualified() string {
	return QualifiedName(s.Schema, s.Table)
}

// BuildCreateTable returns the schema-definition statement for the
// destination table: one text column per identifier, in order, one per line.
//
// columns must already be sanitized (SanitizeIdentifier output); they are
// embedded verbatim. namespace and table are sanitized here.
//
// The statement carries no IF NOT EXISTS: executing it against an existing
// table fails, which is the intended re-run behavior.
func BuildCreateTable(namespace, table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", ErrNoColumns
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(QualifiedName(namespace, table))
	b.WriteString(" (\n")
	for i, col := range columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.WriteString(col)
		b.WriteString(" text")
	}
	b.WriteString("\n);")
	return b.String(), nil
}

// BuildLoadStatement returns the bulk-load statement: an INSERT naming the
// destination and its full ordered column list, and a SELECT with exactly one
// extraction expression per column. The Nth expression is
// split_part(<staging column>, <delimiter literal>, N), 1-based, so every
// column's value is computed independently from the same split of the same
// row; a short row yields empty fragments for missing trailing columns
// without disturbing the others. The source is the full staging table,
// header row included.
//
// columns must already be sanitized, as in BuildCreateTable. The generated
// text grows linearly with the column count; there is no ceiling.
func BuildLoadStatement(namespace, table string, columns []string, src StagingSource, delimiter string) (string, error) {
	if len(columns) == 0 {
		return "", ErrNoColumns
	}

	rawCol := SanitizeIdentifier(src.Column)
	delim := QuoteLiteral(delimiter)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(QualifiedName(namespace, table))
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(")\nSELECT\n")
	for i := range columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "  split_part(%s, %s, %d)", rawCol, delim, i+1)
	}
	b.WriteString("\nFROM ")
	b.WriteString(src.qualified())
	b.WriteString(";")
	return b.String(), nil
}

// BuildHeaderQuery returns the single-row query the schema inferrer runs.
// No ORDER BY: the caller contract is a freshly loaded, never-updated staging
// table whose natural order places the header first.
func BuildHeaderQuery(src StagingSource) string {
	return fmt.Sprintf("SELECT %s FROM %s LIMIT 1", SanitizeIdentifier(src.Column), src.qualified())
}

// BuildStagingTable returns the idempotent create for the staging table
// itself. Unlike the destination table this is infrastructure owned by the
// loader, so IF NOT EXISTS is correct here.
func BuildStagingTable(src StagingSource) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s text\n);", src.qualified(), SanitizeIdentifier(src.Column))
}

// BuildClearStaging returns the statement that removes previously staged
// rows. DELETE rather than TRUNCATE so the text runs on every backend.
func BuildClearStaging(src StagingSource) string {
	return fmt.Sprintf("DELETE FROM %s;", src.qualified())
}
