package source

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/logger"
)

// CSVFetcher reads partitions from bulk export files named <Dir>/<id>.csv.
// The first row of each file is the header and the cursor is the number of
// data rows already consumed.
type CSVFetcher struct {
	Dir string
	Log logger.Logger

	mu      sync.Mutex
	readers map[parcelsync.PartitionID]*csvReader
	closed  bool
}

type csvReader struct {
	f      *os.File
	r      *csv.Reader
	header []string
	pos    int64
}

// NewCSVFetcher returns a fetcher over dir.
func NewCSVFetcher(dir string, log logger.Logger) *CSVFetcher {
	if log == nil {
		log = logger.NopLogger
	}
	return &CSVFetcher{
		Dir:     dir,
		Log:     log,
		readers: make(map[parcelsync.PartitionID]*csvReader),
	}
}

func (c *CSVFetcher) path(id parcelsync.PartitionID) string {
	return filepath.Join(c.Dir, string(id)+".csv")
}

func (c *CSVFetcher) open(id parcelsync.PartitionID) (*csvReader, error) {
	f, err := os.Open(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapCode(err, parcelsync.ErrFatal, "no export for partition "+string(id))
		}
		return nil, errors.WrapCode(err, parcelsync.ErrTransient, "opening export")
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		header = nil
	} else if err != nil {
		f.Close()
		return nil, errors.WrapCode(err, parcelsync.ErrFatal, "reading header of "+f.Name())
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return &csvReader{f: f, r: r, header: header}, nil
}

// take removes p's open reader from the fetcher and returns it if it is
// positioned at cursor. A taken reader belongs to one fetch until parked.
func (c *CSVFetcher) take(id parcelsync.PartitionID, cursor int64) *csvReader {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr, ok := c.readers[id]
	if !ok {
		return nil
	}
	delete(c.readers, id)
	if cr.pos != cursor {
		cr.f.Close()
		return nil
	}
	return cr
}

// park keeps cr open for the page after the one just read.
func (c *CSVFetcher) park(id parcelsync.PartitionID, cr *csvReader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.readers[id]; ok || c.closed {
		cr.f.Close()
		return
	}
	c.readers[id] = cr
}

// reader returns a reader positioned at cursor, reusing the open one when
// the previous page ended there.
func (c *CSVFetcher) reader(id parcelsync.PartitionID, cursor int64) (*csvReader, error) {
	if cr := c.take(id, cursor); cr != nil {
		return cr, nil
	}
	cr, err := c.open(id)
	if err != nil {
		return nil, err
	}
	for cr.pos < cursor {
		if _, err := cr.r.Read(); err == io.EOF {
			break
		} else if err != nil {
			cr.f.Close()
			return nil, errors.WrapCode(err, parcelsync.ErrFatal, "skipping to cursor")
		}
		cr.pos++
	}
	return cr, nil
}

// Fetch returns up to limit rows of p after the first cursor rows. Fetches
// of different partitions read their files concurrently.
func (c *CSVFetcher) Fetch(ctx context.Context, p parcelsync.Partition, cursor int64, limit int) (*Page, error) {
	if limit <= 0 {
		return nil, errors.Newf(parcelsync.ErrFatal, "invalid page size %d", limit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cr, err := c.reader(p.ID, cursor)
	if err != nil {
		return nil, err
	}
	page := &Page{}
	for len(page.Records) < limit {
		row, err := cr.r.Read()
		if err == io.EOF {
			cr.f.Close()
			cr = nil
			break
		} else if err != nil {
			cr.f.Close()
			return nil, errors.WrapCode(err, parcelsync.ErrFatal, "reading "+c.path(p.ID))
		}
		rec := make(parcelsync.RawRecord, len(cr.header))
		for i, name := range cr.header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		if len(row) > len(cr.header) {
			c.Log.Debugf("%s row %d: ignoring %d extra columns", c.path(p.ID), cr.pos+1, len(row)-len(cr.header))
		}
		page.Records = append(page.Records, rec)
		cr.pos++
	}
	if cr != nil {
		c.park(p.ID, cr)
	}
	page.NextCursor = cursor + int64(len(page.Records))
	page.HasMore = len(page.Records) == limit
	return page, nil
}

// Count returns the number of data rows in p's export.
func (c *CSVFetcher) Count(ctx context.Context, p parcelsync.Partition) (int64, error) {
	cr, err := c.open(p.ID)
	if err != nil {
		return 0, err
	}
	defer cr.f.Close()
	var n int64
	for {
		if _, err := cr.r.Read(); err == io.EOF {
			return n, nil
		} else if err != nil {
			return 0, errors.WrapCode(err, parcelsync.ErrFatal, "counting "+c.path(p.ID))
		}
		n++
	}
}

// Partitions lists the exports present in Dir.
func (c *CSVFetcher) Partitions(ctx context.Context) ([]parcelsync.Partition, error) {
	matches, err := filepath.Glob(filepath.Join(c.Dir, "*.csv"))
	if err != nil {
		return nil, errors.WrapCode(err, parcelsync.ErrInvalidConfig, "listing exports")
	}
	sort.Strings(matches)
	out := make([]parcelsync.Partition, 0, len(matches))
	for _, m := range matches {
		out = append(out, parcelsync.Partition{ID: parcelsync.PartitionID(strings.TrimSuffix(filepath.Base(m), ".csv"))})
	}
	return out, nil
}

// Close releases open exports. Readers in use by a fetch are closed when it
// returns.
func (c *CSVFetcher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, cr := range c.readers {
		cr.f.Close()
		delete(c.readers, id)
	}
	return nil
}
