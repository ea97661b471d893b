package source_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExport(t *testing.T, dir, id string, rows int) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("PARCEL_ID,OWN_NAME,JV\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "P%03d,\"OWNER, %d\",%d\n", i, i, i*10)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".csv"), []byte(sb.String()), 0600))
}

func fetchAll(t *testing.T, f source.Fetcher, p parcelsync.Partition, cursor int64, limit int) []parcelsync.RawRecord {
	t.Helper()
	var out []parcelsync.RawRecord
	for {
		page, err := f.Fetch(context.Background(), p, cursor, limit)
		require.NoError(t, err)
		out = append(out, page.Records...)
		cursor = page.NextCursor
		if !page.HasMore {
			return out
		}
	}
}

func TestCSVFetcher(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "11", 25)
	writeExport(t, dir, "12", 0)

	f := source.NewCSVFetcher(dir, nil)
	defer f.Close()

	recs := fetchAll(t, f, alachua, 0, 10)
	require.Len(t, recs, 25)
	assert.Equal(t, parcelsync.RawRecord{"PARCEL_ID": "P003", "OWN_NAME": "OWNER, 3", "JV": "30"}, recs[3])

	t.Run("resume", func(t *testing.T) {
		resumed := fetchAll(t, f, alachua, 20, 10)
		assert.Equal(t, recs[20:], resumed)
	})

	t.Run("refetch-same-window", func(t *testing.T) {
		a, err := f.Fetch(context.Background(), alachua, 10, 5)
		require.NoError(t, err)
		b, err := f.Fetch(context.Background(), alachua, 10, 5)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Equal(t, recs[10:15], a.Records)
	})

	t.Run("empty", func(t *testing.T) {
		page, err := f.Fetch(context.Background(), parcelsync.Partition{ID: "12"}, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, page.Records)
		assert.False(t, page.HasMore)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), parcelsync.Partition{ID: "99"}, 0, 10)
		assert.True(t, errors.Is(err, parcelsync.ErrFatal))
	})

	t.Run("count", func(t *testing.T) {
		n, err := f.Count(context.Background(), alachua)
		require.NoError(t, err)
		assert.EqualValues(t, 25, n)
	})

	t.Run("partitions", func(t *testing.T) {
		parts, err := f.Partitions(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []parcelsync.Partition{{ID: "11"}, {ID: "12"}}, parts)
	})
}
