package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/featurebasedb/parcelsync/logger"
)

// Tracker counts run progress. Workers update it without locking and a
// reporter goroutine reads it.
type Tracker struct {
	partitions uint64
	done       uint64
	rows       uint64
	estimated  uint64
}

// proceed is called after a batch is checkpointed.
func (t *Tracker) proceed(rows int) {
	atomic.AddUint64(&t.rows, uint64(rows))
}

// finish is called when a worker is done with a partition.
func (t *Tracker) finish() {
	atomic.AddUint64(&t.done, 1)
}

func (t *Tracker) estimate(n int64) {
	if n > 0 {
		atomic.AddUint64(&t.estimated, uint64(n))
	}
}

// Check returns partitions finished, partitions total, rows written this
// run and the estimated rows of the partitions with a known count.
func (t *Tracker) Check() (done, total, rows, estimated uint64) {
	return atomic.LoadUint64(&t.done), atomic.LoadUint64(&t.partitions),
		atomic.LoadUint64(&t.rows), atomic.LoadUint64(&t.estimated)
}

// report logs a progress line every interval until ctx is done.
func (t *Tracker) report(ctx context.Context, log logger.Logger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			done, total, rows, est := t.Check()
			elapsed := now.Sub(start).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(rows) / elapsed
			}
			if est > 0 {
				log.Infof("progress: %d/%d partitions, %d rows (%.1f%% of %d estimated), %.0f rows/s",
					done, total, rows, 100*float64(rows)/float64(est), est, rate)
			} else {
				log.Infof("progress: %d/%d partitions, %d rows, %.0f rows/s", done, total, rows, rate)
			}
		}
	}
}
