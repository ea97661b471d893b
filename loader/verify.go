package loader

import (
	"context"
	"math"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/dialect"
	"github.com/featurebasedb/parcelsync/errors"
)

// Count returns the number of destination rows of partition p.
func (l *Loader) Count(ctx context.Context, p parcelsync.PartitionID) (int64, error) {
	if l.cfg.PartitionColumn == "" {
		return 0, errors.New(parcelsync.ErrInvalidConfig, "counting by partition needs a partition column")
	}
	var n int64
	q := dialect.CountWhere(l.dialect, l.cfg.Table, l.cfg.PartitionColumn)
	if err := l.db.QueryRowContext(ctx, q, l.partitionValue(p)).Scan(&n); err != nil {
		return 0, errors.Wrapf(dialect.Classify(err), "counting partition %s", p)
	}
	return n, nil
}

// Verify compares the stored row count of p against expectedMin. It only
// reads; a short partition is reported, never repaired.
func (l *Loader) Verify(ctx context.Context, p parcelsync.PartitionID, expectedMin int64) (actual int64, ok bool, err error) {
	actual, err = l.Count(ctx, p)
	if err != nil {
		return 0, false, err
	}
	return actual, actual >= expectedMin, nil
}

// Expectation is how many rows a partition should have.
type Expectation struct {
	Partition parcelsync.Partition
	// Expected is the advisory total, e.g. the source count.
	Expected int64
}

// Verification is the outcome for one partition.
type Verification struct {
	Partition   parcelsync.Partition
	Expected    int64
	ExpectedMin int64
	Actual      int64
	OK          bool
	Err         error
}

// Report is the outcome of verifying several partitions.
type Report struct {
	Threshold float64
	Results   []Verification
}

// NeedsRerun lists the partitions that fell short or could not be counted.
func (r Report) NeedsRerun() []parcelsync.Partition {
	var out []parcelsync.Partition
	for _, v := range r.Results {
		if !v.OK {
			out = append(out, v.Partition)
		}
	}
	return out
}

// ExpectedMin is the floor of expected*threshold.
func ExpectedMin(expected int64, threshold float64) int64 {
	if threshold <= 0 || expected <= 0 {
		return 0
	}
	return int64(math.Floor(float64(expected) * threshold))
}

// VerifyAll verifies each expectation with floor expected*threshold. An
// error counting one partition is recorded in its result; only context
// cancellation stops the report early.
func (l *Loader) VerifyAll(ctx context.Context, exps []Expectation, threshold float64) (Report, error) {
	rep := Report{Threshold: threshold}
	for _, e := range exps {
		v := Verification{
			Partition:   e.Partition,
			Expected:    e.Expected,
			ExpectedMin: ExpectedMin(e.Expected, threshold),
		}
		v.Actual, v.OK, v.Err = l.Verify(ctx, e.Partition.ID, v.ExpectedMin)
		if v.Err != nil && ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if !v.OK {
			l.log.Warnf("partition %s: %d rows stored, expected at least %d", e.Partition, v.Actual, v.ExpectedMin)
		}
		rep.Results = append(rep.Results, v)
	}
	return rep, nil
}
