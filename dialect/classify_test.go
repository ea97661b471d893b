package dialect

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"testing"

	mssqldb "github.com/denisenkom/go-mssqldb"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/featurebasedb/parcelsync"
	pserrors "github.com/featurebasedb/parcelsync/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code pserrors.Code
	}{
		{err: &pq.Error{Code: "23505"}, code: parcelsync.ErrWriteConflict},
		{err: &pq.Error{Code: "22001"}, code: parcelsync.ErrWriteConflict},
		{err: &pq.Error{Code: "08006"}, code: parcelsync.ErrTransient},
		{err: &pq.Error{Code: "40P01"}, code: parcelsync.ErrTransient},
		{err: &pq.Error{Code: "42P01"}, code: parcelsync.ErrFatal},
		{err: &mysqldriver.MySQLError{Number: 1062}, code: parcelsync.ErrWriteConflict},
		{err: &mysqldriver.MySQLError{Number: 1213}, code: parcelsync.ErrTransient},
		{err: &mysqldriver.MySQLError{Number: 1146}, code: parcelsync.ErrFatal},
		{err: mssqldb.Error{Number: 2627}, code: parcelsync.ErrWriteConflict},
		{err: mssqldb.Error{Number: 1205}, code: parcelsync.ErrTransient},
		{err: mssqldb.Error{Number: 208}, code: parcelsync.ErrFatal},
		{err: errors.Wrap(&pq.Error{Code: "23503"}, "batch"), code: parcelsync.ErrWriteConflict},
		{err: driver.ErrBadConn, code: parcelsync.ErrTransient},
		{err: mysqldriver.ErrInvalidConn, code: parcelsync.ErrTransient},
		{err: io.ErrUnexpectedEOF, code: parcelsync.ErrTransient},
		{err: fmt.Errorf("dial tcp 127.0.0.1:5432: connect: connection refused"), code: parcelsync.ErrTransient},
		{err: fmt.Errorf("syntax error"), code: parcelsync.ErrFatal},
		{err: pserrors.New(parcelsync.ErrRecordSkipped, "already coded"), code: parcelsync.ErrRecordSkipped},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			got := Classify(test.err)
			if code := pserrors.CodeOf(got); code != test.code {
				t.Fatalf("Classify(%v) = %s, want %s", test.err, code, test.code)
			}
			if !strings.Contains(got.Error(), test.err.Error()) {
				t.Fatalf("classified error lost its cause: %v", got)
			}
		})
	}
}

func TestClassifyPassThrough(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("expected nil")
	}
	if err := Classify(context.Canceled); err != context.Canceled {
		t.Fatalf("got %v", err)
	}
}
