// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package parcelsync holds the types shared by the partition-aware parcel
// ingestion pipeline: partitions, raw and normalized records, per-partition
// progress, and the error codes every stage reports with.
package parcelsync

import (
	"time"

	"github.com/featurebasedb/parcelsync/errors"
)

// PartitionID is the stable code of a partition, for example a county number.
type PartitionID string

// Partition is an independently processable unit of the source dataset.
type Partition struct {
	ID   PartitionID `json:"id"`
	Name string      `json:"name"`
	// EstimatedRecords is advisory and only feeds progress display and
	// verification floors. Zero means unknown.
	EstimatedRecords int64 `json:"estimated_records,omitempty"`
}

func (p Partition) String() string {
	if p.Name == "" {
		return string(p.ID)
	}
	return string(p.ID) + " (" + p.Name + ")"
}

// GeometryField is the RawRecord key under which fetchers place a
// feature's geometry.
const GeometryField = "__geometry"

// RawRecord is one source row as delivered by a fetcher, keyed by source
// field name.
type RawRecord map[string]interface{}

// NormalizedRecord is a record coerced to destination types. Values is keyed
// by destination column name and always contains the natural key column.
type NormalizedRecord struct {
	Partition PartitionID
	Key       string
	Values    map[string]interface{}
}

// Status is the lifecycle state of a partition.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ProgressEntry is the persisted checkpoint of one partition.
type ProgressEntry struct {
	PartitionID PartitionID `json:"partition_id"`
	Status      Status      `json:"status"`
	// Cursor is the source offset of the first record not yet loaded.
	Cursor        int64     `json:"cursor"`
	RowsProcessed int64     `json:"rows_processed"`
	RowsSkipped   int64     `json:"rows_skipped"`
	RowsFailed    int64     `json:"rows_failed"`
	Batches       int64     `json:"batches"`
	LastError     string    `json:"last_error"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ResumeStatus is the state a stored entry is read back as at the start of
// a run. A failed partition is retried: from its cursor when it made
// progress, from scratch otherwise.
func (e ProgressEntry) ResumeStatus() Status {
	switch e.Status {
	case StatusCompleted:
		return StatusCompleted
	case StatusFailed, StatusInProgress:
		if e.Cursor > 0 {
			return StatusInProgress
		}
		return StatusPending
	default:
		return StatusPending
	}
}

// Error codes shared across stages.
const (
	// ErrTransient covers network failures, 5xx, 429 and lost destination
	// connections. Retried with backoff, then the partition is failed.
	ErrTransient errors.Code = "Transient"
	// ErrFatal covers malformed requests and auth failures. Never retried.
	ErrFatal errors.Code = "Fatal"
	// ErrRecordSkipped marks a record dropped by normalization.
	ErrRecordSkipped errors.Code = "RecordSkipped"
	// ErrWriteConflict marks a single record rejected by a destination
	// constraint during per-record fallback.
	ErrWriteConflict errors.Code = "WriteConflict"

	ErrPartitionsFailed errors.Code = "PartitionsFailed"
	ErrInvalidSchema    errors.Code = "InvalidSchema"
	ErrInvalidConfig    errors.Code = "InvalidConfig"
	ErrProgressCorrupt  errors.Code = "ProgressCorrupt"
)
