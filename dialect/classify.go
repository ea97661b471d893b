package dialect

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"io"
	"net"
	"strings"

	mssqldb "github.com/denisenkom/go-mssqldb"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
)

// Classify attaches a parcelsync error code to a database error: constraint
// and data errors are ErrWriteConflict, connectivity and contention errors
// are ErrTransient and everything else is ErrFatal. Already-coded errors and
// context errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.CodeOf(err) != "" {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := classify(err)
	return errors.WrapCode(err, code, string(code))
}

func classify(err error) errors.Code {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			// data exception, integrity constraint violation
			return parcelsync.ErrWriteConflict
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return parcelsync.ErrTransient
		case "40":
			// serialization failure, deadlock
			return parcelsync.ErrTransient
		}
		return parcelsync.ErrFatal
	}

	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1048, 1062, 1216, 1217, 1264, 1366, 1406, 1451, 1452, 3819:
			return parcelsync.ErrWriteConflict
		case 1040, 1205, 1213, 2006, 2013:
			return parcelsync.ErrTransient
		}
		return parcelsync.ErrFatal
	}

	var msErr mssqldb.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 515, 547, 2601, 2627, 8152, 8115, 245, 2628:
			return parcelsync.ErrWriteConflict
		case 1205, 1222, 40197, 40501, 40613, 49918:
			return parcelsync.ErrTransient
		}
		return parcelsync.ErrFatal
	}

	var liteErr *sqlitedriver.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_TOOBIG:
			return parcelsync.ErrWriteConflict
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return parcelsync.ErrTransient
		}
		return parcelsync.ErrFatal
	}

	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, mysqldriver.ErrInvalidConn) ||
		stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return parcelsync.ErrTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return parcelsync.ErrTransient
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection refused") {
		return parcelsync.ErrTransient
	}
	return parcelsync.ErrFatal
}
