// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package progress persists per-partition checkpoints so an interrupted run
// resumes where it stopped.
package progress

import (
	"context"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
)

// Store is a durable set of progress entries, one per partition. Save and
// Reset are atomic per partition and safe to call concurrently for
// different partitions; a concurrent Load never observes a partial write.
type Store interface {
	Load(ctx context.Context) (map[parcelsync.PartitionID]parcelsync.ProgressEntry, error)
	Save(ctx context.Context, entry parcelsync.ProgressEntry) error
	// Reset forgets a partition, so the next run starts it from scratch.
	Reset(ctx context.Context, id parcelsync.PartitionID) error
	Close() error
}

// Open returns the store for path. Paths ending in .boltdb (or prefixed with
// bolt:) open a bbolt store; anything else, including s3:// URLs, is a JSON
// file. s3client is only needed for s3 URLs.
func Open(path string, s3client s3iface.S3API) (Store, error) {
	if path == "" {
		return nil, errors.New(parcelsync.ErrInvalidConfig, "progress path is required")
	}
	if strings.HasPrefix(path, "bolt:") || strings.HasSuffix(path, ".boltdb") {
		s, err := OpenBoltStore(strings.TrimPrefix(path, "bolt:"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return NewFileStore(path, s3client), nil
}

// Sorted returns entries ordered by partition id, numerically when ids are
// numbers.
func Sorted(entries map[parcelsync.PartitionID]parcelsync.ProgressEntry) []parcelsync.ProgressEntry {
	out := make([]parcelsync.ProgressEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := string(out[i].PartitionID), string(out[j].PartitionID)
		if len(a) != len(b) && isDigits(a) && isDigits(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validate(entry parcelsync.ProgressEntry) error {
	if entry.PartitionID == "" {
		return errors.New(parcelsync.ErrInvalidConfig, "progress entry has no partition id")
	}
	switch entry.Status {
	case parcelsync.StatusPending, parcelsync.StatusInProgress, parcelsync.StatusCompleted, parcelsync.StatusFailed:
	default:
		return errors.Newf(parcelsync.ErrInvalidConfig, "progress entry for %s has unknown status %q", entry.PartitionID, entry.Status)
	}
	return nil
}
