package progress

import (
	"context"
	"database/sql"
	"time"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/dialect"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/normalize"
)

// DefaultTable is the tracking table used by SQLStore.
const DefaultTable = "parcelsync_progress"

var trackingColumns = []dialect.Column{
	{Name: "partition_id", Kind: normalize.KindText, Key: true},
	{Name: "status", Kind: normalize.KindText},
	{Name: "cursor_offset", Kind: normalize.KindInteger},
	{Name: "rows_processed", Kind: normalize.KindInteger},
	{Name: "rows_skipped", Kind: normalize.KindInteger},
	{Name: "rows_failed", Kind: normalize.KindInteger},
	{Name: "batches", Kind: normalize.KindInteger},
	{Name: "last_error", Kind: normalize.KindText},
	{Name: "updated_at", Kind: normalize.KindText},
}

// SQLStore keeps entries as rows of a tracking table in the destination
// database, one single-row upsert per Save.
type SQLStore struct {
	db      *sql.DB
	dialect dialect.Dialect
	table   string
	Now     func() time.Time
}

// NewSQLStore creates table (DefaultTable if empty) unless it exists.
func NewSQLStore(ctx context.Context, db *sql.DB, d dialect.Dialect, table string) (*SQLStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if _, err := db.ExecContext(ctx, d.CreateTable(table, trackingColumns)); err != nil {
		return nil, errors.Wrapf(dialect.Classify(err), "creating tracking table %s", table)
	}
	return &SQLStore{db: db, dialect: d, table: table, Now: time.Now}, nil
}

func columnNames() []string {
	names := make([]string, len(trackingColumns))
	for i, c := range trackingColumns {
		names[i] = c.Name
	}
	return names
}

func (s *SQLStore) Load(ctx context.Context) (map[parcelsync.PartitionID]parcelsync.ProgressEntry, error) {
	q := "SELECT " + quoteAll(s.dialect, columnNames()) + " FROM " + s.dialect.Quote(s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(dialect.Classify(err), "querying progress")
	}
	defer rows.Close()

	out := make(map[parcelsync.PartitionID]parcelsync.ProgressEntry)
	for rows.Next() {
		var e parcelsync.ProgressEntry
		var status, updated string
		var lastErr sql.NullString
		if err := rows.Scan(&e.PartitionID, &status, &e.Cursor, &e.RowsProcessed, &e.RowsSkipped,
			&e.RowsFailed, &e.Batches, &lastErr, &updated); err != nil {
			return nil, errors.WrapCode(err, parcelsync.ErrProgressCorrupt, "scanning progress row")
		}
		e.Status = parcelsync.Status(status)
		e.LastError = lastErr.String
		if updated != "" {
			if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
				return nil, errors.WrapCode(err, parcelsync.ErrProgressCorrupt, "parsing updated_at of "+string(e.PartitionID))
			}
		}
		out[e.PartitionID] = e
	}
	return out, errors.Wrap(dialect.Classify(rows.Err()), "reading progress")
}

func (s *SQLStore) Save(ctx context.Context, e parcelsync.ProgressEntry) error {
	if err := validate(e); err != nil {
		return err
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.Now()
	}
	q := s.dialect.Upsert(s.table, columnNames(), []string{"partition_id"}, 1)
	_, err := s.db.ExecContext(ctx, q, string(e.PartitionID), string(e.Status), e.Cursor, e.RowsProcessed,
		e.RowsSkipped, e.RowsFailed, e.Batches, e.LastError, e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return errors.Wrapf(dialect.Classify(err), "saving progress of %s", e.PartitionID)
}

func (s *SQLStore) Reset(ctx context.Context, id parcelsync.PartitionID) error {
	_, err := s.db.ExecContext(ctx, dialect.DeleteWhere(s.dialect, s.table, "partition_id"), string(id))
	return errors.Wrapf(dialect.Classify(err), "resetting %s", id)
}

// Close leaves the shared database handle open.
func (s *SQLStore) Close() error { return nil }

func quoteAll(d dialect.Dialect, idents []string) string {
	out := ""
	for i, id := range idents {
		if i > 0 {
			out += ", "
		}
		out += d.Quote(id)
	}
	return out
}
