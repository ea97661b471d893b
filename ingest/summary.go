package ingest

import (
	"time"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/ratelimit"
)

// PartitionResult is what one run did to one partition.
type PartitionResult struct {
	Partition parcelsync.Partition
	// Status is the partition's state at the end of the run.
	Status parcelsync.Status
	// AlreadyCompleted is set when the partition was skipped because a
	// previous run completed it.
	AlreadyCompleted bool
	// Capped is set when MaxRecords stopped the partition early.
	Capped bool
	// StartCursor is where this run started fetching; Cursor is the last
	// checkpointed cursor.
	StartCursor int64
	Cursor      int64

	Fetched    int64
	Skipped    int64
	Duplicates int64
	Inserted   int64
	Updated    int64
	Failed     int64
	Batches    int64

	// Verification of a completed partition, when enabled.
	Verified    bool
	ExpectedMin int64
	Actual      int64
	VerifyOK    bool

	Err      error
	Duration time.Duration
}

// Written is the number of rows inserted or updated.
func (r PartitionResult) Written() int64 { return r.Inserted + r.Updated }

// Summary reports a run.
type Summary struct {
	RunID       string
	Started     time.Time
	Finished    time.Time
	Interrupted bool
	Partitions  []PartitionResult
	Limiter     ratelimit.Stats
}

// Totals adds up the per-partition counts.
func (s *Summary) Totals() PartitionResult {
	var t PartitionResult
	for _, r := range s.Partitions {
		t.Fetched += r.Fetched
		t.Skipped += r.Skipped
		t.Duplicates += r.Duplicates
		t.Inserted += r.Inserted
		t.Updated += r.Updated
		t.Failed += r.Failed
		t.Batches += r.Batches
	}
	return t
}

// Count returns how many partitions ended in status.
func (s *Summary) Count(status parcelsync.Status) int {
	n := 0
	for _, r := range s.Partitions {
		if r.Status == status {
			n++
		}
	}
	return n
}

// NeedsRerun lists partitions that failed, did not finish, or fell short
// of their verification floor.
func (s *Summary) NeedsRerun() []parcelsync.Partition {
	var out []parcelsync.Partition
	for _, r := range s.Partitions {
		if r.Status != parcelsync.StatusCompleted || (r.Verified && !r.VerifyOK) {
			out = append(out, r.Partition)
		}
	}
	return out
}

// Failed lists the partitions that ended failed.
func (s *Summary) Failed() []parcelsync.Partition {
	var out []parcelsync.Partition
	for _, r := range s.Partitions {
		if r.Status == parcelsync.StatusFailed {
			out = append(out, r.Partition)
		}
	}
	return out
}
