// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package loader writes normalized batches into a destination table with
// idempotent upserts and reconciles row counts afterwards.
package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/dialect"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/logger"
	"github.com/featurebasedb/parcelsync/normalize"
	"github.com/featurebasedb/parcelsync/tracing"
)

// DefaultRowsPerStatement bounds multi-row upserts below the dialect's
// parameter limit.
const DefaultRowsPerStatement = 500

// Config describes the destination table.
type Config struct {
	Table string `toml:"table"`
	// PartitionColumn, when set, is part of the table key together with the
	// natural key, and is what the verifier counts by. If the schema has no
	// field of that name the loader adds a text column holding the partition
	// id.
	PartitionColumn string `toml:"partition-column"`
	// CreateTable creates the table on Init when it does not exist.
	CreateTable bool `toml:"create-table"`
	// RowsPerStatement caps the rows of one multi-row upsert.
	RowsPerStatement int `toml:"rows-per-statement"`
}

// Result counts the outcome of one Load.
type Result struct {
	Inserted int
	Updated  int
	Failed   int
	// Failures holds one entry per failed record.
	Failures []Failure
	// Fallback is set when the bulk write failed and records were written
	// one at a time.
	Fallback bool
}

// Failure is a record the destination rejected.
type Failure struct {
	Key string
	Err error
}

// Loader upserts batches of one schema into one table. It is safe for
// concurrent use by workers loading different partitions.
type Loader struct {
	db      *sql.DB
	dialect dialect.Dialect
	norm    *normalize.Normalizer
	cfg     Config
	log     logger.Logger

	// cols are the written columns; keys the conflict target.
	cols        []string
	keys        []string
	kinds       map[string]normalize.Kind
	addPartCol  bool
	rowsPerStmt int
}

// Option configures a Loader.
type Option func(*Loader)

// OptLogger sets the logger.
func OptLogger(log logger.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// New returns a loader writing records produced by norm.
func New(db *sql.DB, d dialect.Dialect, norm *normalize.Normalizer, cfg Config, opts ...Option) (*Loader, error) {
	if cfg.Table == "" {
		return nil, errors.New(parcelsync.ErrInvalidConfig, "destination table is required")
	}
	schema := norm.Schema()
	l := &Loader{
		db:      db,
		dialect: d,
		norm:    norm,
		cfg:     cfg,
		log:     logger.NopLogger,
		kinds:   make(map[string]normalize.Kind),
	}
	for _, opt := range opts {
		opt(l)
	}

	if pc := cfg.PartitionColumn; pc != "" {
		if pc == schema.Key {
			return nil, errors.Newf(parcelsync.ErrInvalidConfig, "partition column %q is the natural key", pc)
		}
		if _, ok := schema.Field(pc); !ok {
			l.addPartCol = true
			l.cols = append(l.cols, pc)
			l.kinds[pc] = normalize.KindText
		} else if _, ok := norm.PartitionValue(pc, ""); !ok {
			return nil, errors.Newf(parcelsync.ErrInvalidConfig, "partition column %q must be derived from the partition", pc)
		}
		l.keys = append(l.keys, pc)
	}
	for _, f := range schema.Fields {
		l.cols = append(l.cols, f.Dest)
		l.kinds[f.Dest] = f.StorageKind()
	}
	l.keys = append(l.keys, schema.Key)

	l.rowsPerStmt = cfg.RowsPerStatement
	if l.rowsPerStmt <= 0 {
		l.rowsPerStmt = DefaultRowsPerStatement
	}
	if max := dialect.RowsPerStatement(d, len(l.cols)); l.rowsPerStmt > max {
		l.rowsPerStmt = max
	}
	return l, nil
}

// Columns returns the destination columns in write order.
func (l *Loader) Columns() []string {
	return append([]string(nil), l.cols...)
}

// Init creates the destination table if configured to.
func (l *Loader) Init(ctx context.Context) error {
	if !l.cfg.CreateTable {
		return nil
	}
	isKey := make(map[string]bool, len(l.keys))
	for _, k := range l.keys {
		isKey[k] = true
	}
	cols := make([]dialect.Column, len(l.cols))
	for i, c := range l.cols {
		cols[i] = dialect.Column{Name: c, Kind: l.kinds[c], Key: isKey[c]}
	}
	_, err := l.db.ExecContext(ctx, l.dialect.CreateTable(l.cfg.Table, cols))
	return errors.Wrapf(dialect.Classify(err), "creating table %s", l.cfg.Table)
}

// partitionValue is the value of the partition column for p.
func (l *Loader) partitionValue(p parcelsync.PartitionID) interface{} {
	if l.addPartCol {
		return string(p)
	}
	v, _ := l.norm.PartitionValue(l.cfg.PartitionColumn, p)
	return v
}

func (l *Loader) args(p parcelsync.PartitionID, rec parcelsync.NormalizedRecord, dst []interface{}) []interface{} {
	for _, c := range l.cols {
		if l.addPartCol && c == l.cfg.PartitionColumn {
			dst = append(dst, string(p))
			continue
		}
		dst = append(dst, rec.Values[c])
	}
	return dst
}

// Load upserts batch, the deduplicated records of one page of partition p.
//
// The batch is written in one transaction of multi-row upserts. If that
// fails for a reason other than connectivity, each record is written on
// its own and records the destination rejects are counted in Result.Failed
// instead of failing the batch. A record that fails on its own is not
// retried again. Connectivity errors are returned coded
// parcelsync.ErrTransient, having written nothing that a retry of the
// batch would not overwrite.
func (l *Loader) Load(ctx context.Context, p parcelsync.PartitionID, batch []parcelsync.NormalizedRecord) (Result, error) {
	if len(batch) == 0 {
		return Result{}, nil
	}
	span, ctx := tracing.StartSpanFromContext(ctx, "loader.Load")
	defer span.Finish()
	span.LogKV("partition", string(p), "records", len(batch))

	existing, err := l.bulk(ctx, p, batch)
	if err == nil {
		res := Result{}
		for _, rec := range batch {
			if existing[l.storedKey(rec)] {
				res.Updated++
			} else {
				res.Inserted++
			}
		}
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if errors.Is(err, parcelsync.ErrTransient) {
		return Result{}, err
	}

	l.log.Warnf("partition %s: batch of %d failed, writing records individually: %v", p, len(batch), err)
	span.LogKV("fallback", true)
	return l.individually(ctx, p, batch, existing)
}

// bulk writes batch in one transaction. It returns the keys that already
// existed, which is known even when a write failed.
func (l *Loader) bulk(ctx context.Context, p parcelsync.PartitionID, batch []parcelsync.NormalizedRecord) (map[string]bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(dialect.Classify(err), "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := l.existingKeys(ctx, tx, p, batch)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, 0, l.rowsPerStmt*len(l.cols))
	for start := 0; start < len(batch); start += l.rowsPerStmt {
		end := start + l.rowsPerStmt
		if end > len(batch) {
			end = len(batch)
		}
		args = args[:0]
		for _, rec := range batch[start:end] {
			args = l.args(p, rec, args)
		}
		q := l.dialect.Upsert(l.cfg.Table, l.cols, l.keys, end-start)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return existing, errors.Wrapf(dialect.Classify(err), "upserting records %d-%d", start, end-1)
		}
	}
	if err := tx.Commit(); err != nil {
		return existing, errors.Wrap(dialect.Classify(err), "committing batch")
	}
	return existing, nil
}

// existingKeys returns which of batch's keys are already stored for p.
func (l *Loader) existingKeys(ctx context.Context, tx *sql.Tx, p parcelsync.PartitionID, batch []parcelsync.NormalizedRecord) (map[string]bool, error) {
	key := l.norm.Schema().Key
	existing := make(map[string]bool)

	prefix := 0
	if l.cfg.PartitionColumn != "" {
		prefix = 1
	}
	chunk := l.dialect.MaxParams() - prefix
	if chunk > 1000 {
		chunk = 1000
	}
	for start := 0; start < len(batch); start += chunk {
		end := start + chunk
		if end > len(batch) {
			end = len(batch)
		}
		var sb strings.Builder
		var args []interface{}
		fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE ", l.dialect.Quote(key), l.dialect.Quote(l.cfg.Table))
		if prefix == 1 {
			fmt.Fprintf(&sb, "%s = %s AND ", l.dialect.Quote(l.cfg.PartitionColumn), l.dialect.Placeholder(1))
			args = append(args, l.partitionValue(p))
		}
		fmt.Fprintf(&sb, "%s IN (", l.dialect.Quote(key))
		for i, rec := range batch[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(l.dialect.Placeholder(prefix + i + 1))
			args = append(args, rec.Values[key])
		}
		sb.WriteString(")")

		rows, err := tx.QueryContext(ctx, sb.String(), args...)
		if err != nil {
			return nil, errors.Wrap(dialect.Classify(err), "selecting existing keys")
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scanning key")
			}
			existing[k] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, errors.Wrap(dialect.Classify(err), "selecting existing keys")
		}
	}
	return existing, nil
}

// storedKey is rec's key column value as existingKeys scans it back. It can
// differ from rec.Key when the schema escapes text.
func (l *Loader) storedKey(rec parcelsync.NormalizedRecord) string {
	return fmt.Sprint(rec.Values[l.norm.Schema().Key])
}

// individually writes each record of batch with its own statement.
func (l *Loader) individually(ctx context.Context, p parcelsync.PartitionID, batch []parcelsync.NormalizedRecord, existing map[string]bool) (Result, error) {
	res := Result{Fallback: true}
	q := l.dialect.Upsert(l.cfg.Table, l.cols, l.keys, 1)
	args := make([]interface{}, 0, len(l.cols))
	for _, rec := range batch {
		args = l.args(p, rec, args[:0])
		_, err := l.db.ExecContext(ctx, q, args...)
		if err == nil {
			if existing[l.storedKey(rec)] {
				res.Updated++
			} else {
				res.Inserted++
			}
			continue
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err = dialect.Classify(err)
		if !errors.Is(err, parcelsync.ErrWriteConflict) {
			return res, errors.Wrapf(err, "writing record %s", rec.Key)
		}
		res.Failed++
		res.Failures = append(res.Failures, Failure{Key: rec.Key, Err: err})
		l.log.Debugf("partition %s: record %s rejected: %v", p, rec.Key, err)
	}
	if res.Failed > 0 {
		l.log.Warnf("partition %s: %d of %d records rejected", p, res.Failed, len(batch))
	}
	return res, nil
}
