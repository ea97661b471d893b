package dialect

import (
	"fmt"
	"strings"

	"github.com/featurebasedb/parcelsync/normalize"
)

func init() {
	register(mysql{}, "mariadb")
}

type mysql struct{}

func (mysql) Name() string   { return "mysql" }
func (mysql) Driver() string { return "mysql" }
func (mysql) MaxParams() int { return 65535 }

func (mysql) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysql) Placeholder(i int) string { return "?" }

func (mysql) Type(kind normalize.Kind, key bool) string {
	switch kind {
	case normalize.KindNumeric:
		return "DOUBLE"
	case normalize.KindInteger:
		return "BIGINT"
	case normalize.KindGeometry:
		return "LONGTEXT"
	}
	// TEXT columns cannot be indexed without a prefix length.
	if key {
		return "VARCHAR(255)"
	}
	return "TEXT"
}

func (d mysql) CreateTable(table string, cols []Column) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(table), columnDefs(d, cols))
}

func (d mysql) Upsert(table string, cols, keys []string, rows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE ",
		d.Quote(table), quoteList(d, cols), valuesList(d, len(cols), rows))
	set := nonKey(cols, keys)
	if len(set) == 0 {
		// A no-op assignment keeps the statement an upsert.
		set = keys[:1]
	}
	for i, c := range set {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = VALUES(%s)", d.Quote(c), d.Quote(c))
	}
	return sb.String()
}
