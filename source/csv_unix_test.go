//go:build !windows
// +build !windows

package source_test

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A partition whose export is slow to read must not hold up the others.
func TestCSVFetcherConcurrentPartitions(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "12", 5)
	pipe := filepath.Join(dir, "11.csv")
	require.NoError(t, syscall.Mkfifo(pipe, 0600))

	f := source.NewCSVFetcher(dir, nil)
	defer f.Close()

	type result struct {
		page *source.Page
		err  error
	}
	slow := make(chan result, 1)
	go func() {
		page, err := f.Fetch(context.Background(), alachua, 0, 10)
		slow <- result{page, err}
	}()
	// Let the fetch of 11 block on the pipe.
	time.Sleep(50 * time.Millisecond)

	fast := make(chan result, 1)
	go func() {
		page, err := f.Fetch(context.Background(), parcelsync.Partition{ID: "12"}, 0, 10)
		fast <- result{page, err}
	}()
	select {
	case res := <-fast:
		require.NoError(t, res.err)
		assert.Len(t, res.page.Records, 5)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch of 12 waited on the fetch of 11")
	}

	w, err := os.OpenFile(pipe, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString("PARCEL_ID\nA\nB\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	res := <-slow
	require.NoError(t, res.err)
	assert.Equal(t, []parcelsync.RawRecord{{"PARCEL_ID": "A"}, {"PARCEL_ID": "B"}}, res.page.Records)
	assert.False(t, res.page.HasMore)
}
