// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package dialect generates the SQL the loader and the progress table need
// for each supported destination database.
package dialect

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/normalize"
)

// Column describes one destination column.
type Column struct {
	Name string
	Kind normalize.Kind
	// Key columns are NOT NULL and part of the primary key.
	Key bool
}

// Dialect builds statements for one database. Identifiers passed in are
// quoted by the dialect; values are always bound as parameters.
type Dialect interface {
	// Name is the dialect's configuration name.
	Name() string
	// Driver is the database/sql driver name.
	Driver() string
	// MaxParams is the largest number of bind parameters in one statement.
	MaxParams() int
	Quote(ident string) string
	// Placeholder returns the i-th (1-based) bind parameter.
	Placeholder(i int) string
	// Type is the column type used for kind.
	Type(kind normalize.Kind, key bool) string
	// CreateTable creates table unless it exists.
	CreateTable(table string, cols []Column) string
	// Upsert inserts rows rows of cols, updating the non-key columns of rows
	// whose key columns already exist. Parameters are row-major.
	Upsert(table string, cols []string, keys []string, rows int) string
}

var registry = map[string]Dialect{}

func register(d Dialect, aliases ...string) {
	registry[d.Name()] = d
	for _, a := range aliases {
		registry[a] = d
	}
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, errors.Newf(parcelsync.ErrInvalidConfig, "unknown database dialect %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered dialect names.
func Names() []string {
	seen := map[string]bool{}
	var names []string
	for _, d := range registry {
		if !seen[d.Name()] {
			seen[d.Name()] = true
			names = append(names, d.Name())
		}
	}
	sort.Strings(names)
	return names
}

// Open opens a database handle for the named dialect.
func Open(name, dsn string) (*sql.DB, Dialect, error) {
	d, err := Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	if dsn == "" {
		return nil, nil, errors.New(parcelsync.ErrInvalidConfig, "database connection string is required")
	}
	db, err := sql.Open(d.Driver(), dsn)
	if err != nil {
		return nil, nil, errors.WrapCode(err, parcelsync.ErrInvalidConfig, "opening "+d.Name())
	}
	return db, d, nil
}

// SelectIn returns a query selecting cols of table rows whose column col is
// one of n bound values.
func SelectIn(d Dialect, table string, cols []string, col string, n int) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(quoteList(d, cols))
	fmt.Fprintf(&sb, " FROM %s WHERE %s IN (", d.Quote(table), d.Quote(col))
	for i := 1; i <= n; i++ {
		if i > 1 {
			sb.WriteString(", ")
		}
		sb.WriteString(d.Placeholder(i))
	}
	sb.WriteString(")")
	return sb.String()
}

// CountWhere returns a query counting table rows whose column col equals
// the first bound value.
func CountWhere(d Dialect, table, col string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", d.Quote(table), d.Quote(col), d.Placeholder(1))
}

// DeleteWhere returns a statement deleting table rows whose column col equals
// the first bound value.
func DeleteWhere(d Dialect, table, col string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", d.Quote(table), d.Quote(col), d.Placeholder(1))
}

// RowsPerStatement is how many rows of width cols fit in one statement.
func RowsPerStatement(d Dialect, cols int) int {
	if cols <= 0 {
		return 1
	}
	n := d.MaxParams() / cols
	if n < 1 {
		n = 1
	}
	return n
}

func quoteList(d Dialect, idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = d.Quote(id)
	}
	return strings.Join(q, ", ")
}

// valuesList renders rows parenthesized groups of cols placeholders.
func valuesList(d Dialect, cols, rows int) string {
	var sb strings.Builder
	p := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.Placeholder(p))
			p++
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// nonKey returns cols not in keys, in order.
func nonKey(cols, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var out []string
	for _, c := range cols {
		if !isKey[c] {
			out = append(out, c)
		}
	}
	return out
}

// columnDefs renders the body of a CREATE TABLE.
func columnDefs(d Dialect, cols []Column) string {
	var defs, keys []string
	for _, c := range cols {
		def := d.Quote(c.Name) + " " + d.Type(c.Kind, c.Key)
		if c.Key {
			def += " NOT NULL"
			keys = append(keys, d.Quote(c.Name))
		}
		defs = append(defs, def)
	}
	if len(keys) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return strings.Join(defs, ", ")
}
