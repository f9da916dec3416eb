package dialect

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	simpleIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	rawTypeRe     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?(\[\])?$`)
)

// isSimpleIdent reports names that need no quoting in any supported dialect.
func isSimpleIdent(name string) bool {
	return simpleIdentRe.MatchString(name)
}

// qualify joins schema and table with the dialect's quoting.
func qualify(d Dialect, schema, table string) string {
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

// mapType resolves a logical catalog type through the dialect's table, falling back to
// raw SQL type names such as "numeric(12,2)".
func mapType(types map[string]string, logical string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(logical))
	if t, ok := types[key]; ok {
		return t, nil
	}
	if rawTypeRe.MatchString(strings.TrimSpace(logical)) {
		return strings.ToUpper(strings.TrimSpace(logical)), nil
	}
	return "", fmt.Errorf("unsupported column type %q", logical)
}

// columnList renders "name type" pairs for CREATE TABLE bodies.
func columnList(d Dialect, cols []ColumnDef) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("    %s %s", d.QuoteIdent(c.Name), c.Type)
	}
	return strings.Join(parts, ",\n")
}
