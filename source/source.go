// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package source extracts raw parcel records from upstream systems one
// partition window at a time.
package source

import (
	"context"
	"strings"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
)

// Page is one window of a partition as returned by a Fetcher.
type Page struct {
	Records []parcelsync.RawRecord
	// NextCursor is the cursor of the first record after this page.
	NextCursor int64
	// HasMore is false once the partition is exhausted.
	HasMore bool
}

// Fetcher extracts raw records. Implementations must not keep per-call
// state that changes results: fetching the same partition, cursor and limit
// twice returns the same window, which is what makes resumption safe.
//
// Errors are coded parcelsync.ErrTransient (retry the partition later) or
// parcelsync.ErrFatal (the request itself is wrong). Context cancellation is
// returned as the context's error.
type Fetcher interface {
	Fetch(ctx context.Context, p parcelsync.Partition, cursor int64, limit int) (*Page, error)
}

// Counter reports the number of source records in a partition.
type Counter interface {
	Count(ctx context.Context, p parcelsync.Partition) (int64, error)
}

// Partitioner enumerates the partitions of a dataset.
type Partitioner interface {
	Partitions(ctx context.Context) ([]parcelsync.Partition, error)
}

// Static is a fixed partition list.
type Static []parcelsync.Partition

// Partitions returns a copy of the list.
func (s Static) Partitions(ctx context.Context) ([]parcelsync.Partition, error) {
	return append([]parcelsync.Partition(nil), s...), nil
}

// Select returns the partitions of all named by selectors, in selector
// order. A selector matches a partition code or, case-insensitively, its
// name. Unknown selectors are an error.
func Select(all []parcelsync.Partition, selectors []string) ([]parcelsync.Partition, error) {
	if len(selectors) == 0 {
		return all, nil
	}
	byID := make(map[parcelsync.PartitionID]parcelsync.Partition, len(all))
	byName := make(map[string]parcelsync.Partition, len(all))
	for _, p := range all {
		byID[p.ID] = p
		if p.Name != "" {
			byName[strings.ToUpper(p.Name)] = p
		}
	}

	var out []parcelsync.Partition
	seen := make(map[parcelsync.PartitionID]bool)
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		p, ok := byID[parcelsync.PartitionID(sel)]
		if !ok {
			p, ok = byName[strings.ToUpper(sel)]
		}
		if !ok {
			return nil, errors.Newf(parcelsync.ErrInvalidConfig, "unknown partition %q", sel)
		}
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out, nil
}
