package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/featurebasedb/parcelsync/normalize"
)

func init() {
	register(mssql{}, "sqlserver")
}

type mssql struct{}

func (mssql) Name() string   { return "mssql" }
func (mssql) Driver() string { return "sqlserver" }

// MaxParams stays under SQL Server's 2100 parameter limit.
func (mssql) MaxParams() int { return 2000 }

func (mssql) Quote(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func (mssql) Placeholder(i int) string { return "@p" + strconv.Itoa(i) }

func (mssql) Type(kind normalize.Kind, key bool) string {
	switch kind {
	case normalize.KindNumeric:
		return "FLOAT"
	case normalize.KindInteger:
		return "BIGINT"
	}
	// Index keys are limited to 900 bytes.
	if key {
		return "NVARCHAR(450)"
	}
	return "NVARCHAR(MAX)"
}

func (d mssql) CreateTable(table string, cols []Column) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
		strings.ReplaceAll(table, "'", "''"), d.Quote(table), columnDefs(d, cols))
}

func (d mssql) Upsert(table string, cols, keys []string, rows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s WITH (HOLDLOCK) AS tgt USING (VALUES %s) AS src (%s) ON ",
		d.Quote(table), valuesList(d, len(cols), rows), quoteList(d, cols))
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "tgt.%s = src.%s", d.Quote(k), d.Quote(k))
	}
	if set := nonKey(cols, keys); len(set) > 0 {
		sb.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range set {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "tgt.%s = src.%s", d.Quote(c), d.Quote(c))
		}
	}
	src := make([]string, len(cols))
	for i, c := range cols {
		src[i] = "src." + d.Quote(c)
	}
	fmt.Fprintf(&sb, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);", quoteList(d, cols), strings.Join(src, ", "))
	return sb.String()
}
