package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/featurebasedb/parcelsync/normalize"
)

func init() {
	register(postgres{}, "postgresql", "pg")
	register(sqlite{}, "sqlite3")
}

// onConflict is the INSERT ... ON CONFLICT upsert shared by postgres and
// sqlite.
func onConflict(d Dialect, table string, cols, keys []string, rows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) ",
		d.Quote(table), quoteList(d, cols), valuesList(d, len(cols), rows), quoteList(d, keys))
	set := nonKey(cols, keys)
	if len(set) == 0 {
		sb.WriteString("DO NOTHING")
		return sb.String()
	}
	sb.WriteString("DO UPDATE SET ")
	for i, c := range set {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = excluded.%s", d.Quote(c), d.Quote(c))
	}
	return sb.String()
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type postgres struct{}

func (postgres) Name() string              { return "postgres" }
func (postgres) Driver() string            { return "postgres" }
func (postgres) MaxParams() int            { return 65535 }
func (postgres) Quote(ident string) string { return quoteDouble(ident) }
func (postgres) Placeholder(i int) string  { return "$" + strconv.Itoa(i) }

func (postgres) Type(kind normalize.Kind, key bool) string {
	switch kind {
	case normalize.KindNumeric:
		return "DOUBLE PRECISION"
	case normalize.KindInteger:
		return "BIGINT"
	}
	return "TEXT"
}

func (d postgres) CreateTable(table string, cols []Column) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(table), columnDefs(d, cols))
}

func (d postgres) Upsert(table string, cols, keys []string, rows int) string {
	return onConflict(d, table, cols, keys, rows)
}

type sqlite struct{}

func (sqlite) Name() string              { return "sqlite" }
func (sqlite) Driver() string            { return "sqlite" }
func (sqlite) MaxParams() int            { return 32766 }
func (sqlite) Quote(ident string) string { return quoteDouble(ident) }
func (sqlite) Placeholder(i int) string  { return "?" }

func (sqlite) Type(kind normalize.Kind, key bool) string {
	switch kind {
	case normalize.KindNumeric:
		return "REAL"
	case normalize.KindInteger:
		return "INTEGER"
	}
	return "TEXT"
}

func (d sqlite) CreateTable(table string, cols []Column) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(table), columnDefs(d, cols))
}

func (d sqlite) Upsert(table string, cols, keys []string, rows int) string {
	return onConflict(d, table, cols, keys, rows)
}
