// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package parcelsync

import (
	"github.com/featurebasedb/parcelsync/errors"
)

// DedupePolicy chooses which occurrence of a repeated natural key survives
// deduplication of a batch.
type DedupePolicy string

const (
	// DedupeLastWins keeps the last occurrence in input order. It agrees with
	// the destination upsert, where a later write overwrites an earlier one.
	DedupeLastWins DedupePolicy = "last"
	// DedupeFirstWins keeps the first occurrence, as the legacy awk
	// pipelines did with !seen[key]++.
	DedupeFirstWins DedupePolicy = "first"
)

// ParseDedupePolicy validates s. The empty string selects DedupeLastWins.
func ParseDedupePolicy(s string) (DedupePolicy, error) {
	switch DedupePolicy(s) {
	case "", DedupeLastWins:
		return DedupeLastWins, nil
	case DedupeFirstWins:
		return DedupeFirstWins, nil
	}
	return "", errors.New(ErrInvalidConfig, "unknown dedupe policy: "+s+" (want last or first)")
}

// Apply deduplicates batch according to the policy.
func (p DedupePolicy) Apply(batch []NormalizedRecord) []NormalizedRecord {
	return dedupe(batch, p != DedupeFirstWins)
}

// Dedupe retains one record per natural key, the last one in input order.
// Retained records keep the relative order in which their keys were first
// seen. The input slice is not modified.
func Dedupe(batch []NormalizedRecord) []NormalizedRecord {
	return dedupe(batch, true)
}

type dedupeKey struct {
	partition PartitionID
	key       string
}

func dedupe(batch []NormalizedRecord, lastWins bool) []NormalizedRecord {
	seen := make(map[dedupeKey]int, len(batch))
	out := make([]NormalizedRecord, 0, len(batch))
	for _, rec := range batch {
		k := dedupeKey{partition: rec.Partition, key: rec.Key}
		if i, ok := seen[k]; ok {
			if lastWins {
				out[i] = rec
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, rec)
	}
	return out
}
