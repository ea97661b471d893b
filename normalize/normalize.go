// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package normalize converts raw source records into well-typed destination
// records according to a declarative Schema.
//
// The coercion policy is fixed: empty numeric means zero (numeric and
// integer columns are never left empty), text is trimmed and whitespace
// collapsed, geometry is passed through as WKT. A record is only rejected
// when its natural key is missing.
package normalize

import (
	"strconv"
	"strings"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
)

// Deriver computes the value of a derived field. It must be a pure function
// of its arguments.
type Deriver func(p parcelsync.PartitionID, raw parcelsync.RawRecord) interface{}

// BuiltinDerivers are always available to schemas.
var BuiltinDerivers = map[string]Deriver{
	// partition is the partition code as text.
	"partition": func(p parcelsync.PartitionID, _ parcelsync.RawRecord) interface{} {
		return string(p)
	},
	// partitionint is the partition code as an integer, e.g. a county number.
	"partitionint": func(p parcelsync.PartitionID, _ parcelsync.RawRecord) interface{} {
		return Integer(string(p))
	},
}

// Normalizer applies a Schema to raw records. It holds no mutable state and
// is safe for concurrent use.
type Normalizer struct {
	schema   *Schema
	key      Field
	escape   Escape
	derivers map[string]Deriver
}

// New validates schema and returns a Normalizer for it. derivers adds to (or
// overrides) BuiltinDerivers.
func New(schema *Schema, derivers map[string]Deriver) (*Normalizer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	n := &Normalizer{
		schema:   schema,
		escape:   schema.Escape,
		derivers: make(map[string]Deriver, len(BuiltinDerivers)+len(derivers)),
	}
	if n.escape == "" {
		n.escape = EscapeNone
	}
	for name, d := range BuiltinDerivers {
		n.derivers[name] = d
	}
	for name, d := range derivers {
		n.derivers[name] = d
	}
	for _, f := range schema.Fields {
		if f.Kind == KindDerived && n.derivers[f.Derive] == nil {
			return nil, errors.Newf(parcelsync.ErrInvalidSchema, "field %q uses unknown deriver %q", f.Dest, f.Derive)
		}
	}
	n.key, _ = schema.Field(schema.Key)
	return n, nil
}

// Schema returns the schema the normalizer applies.
func (n *Normalizer) Schema() *Schema { return n.schema }

// PartitionValue returns the value column dest takes for every record of
// partition p. It is only defined for derived columns that do not read the
// raw record, such as the builtin partition derivers.
func (n *Normalizer) PartitionValue(dest string, p parcelsync.PartitionID) (interface{}, bool) {
	f, ok := n.schema.Field(dest)
	if !ok || f.Kind != KindDerived {
		return nil, false
	}
	return n.derivers[f.Derive](p, parcelsync.RawRecord{}), true
}

// Normalize coerces raw into a NormalizedRecord for partition p. The only
// failure is a missing natural key, or an integer key that is not an exact
// int64, reported as parcelsync.ErrRecordSkipped.
func (n *Normalizer) Normalize(p parcelsync.PartitionID, raw parcelsync.RawRecord) (parcelsync.NormalizedRecord, error) {
	keyText := Text(lookup(raw, n.key.Source), EscapeNone)
	if keyText == "" || isNullToken(keyText) {
		return parcelsync.NormalizedRecord{}, errors.New(parcelsync.ErrRecordSkipped, "missing natural key "+n.key.Source)
	}
	if n.key.Kind == KindInteger {
		k, ok := ParseInteger(keyText)
		if !ok {
			return parcelsync.NormalizedRecord{}, errors.New(parcelsync.ErrRecordSkipped, "natural key "+n.key.Source+"="+keyText+" is not an int64")
		}
		keyText = strconv.FormatInt(k, 10)
	}

	values := make(map[string]interface{}, len(n.schema.Fields))
	for _, f := range n.schema.Fields {
		switch f.Kind {
		case KindText:
			values[f.Dest] = Text(lookup(raw, f.Source), n.escape)
		case KindNumeric:
			values[f.Dest] = Numeric(lookup(raw, f.Source))
		case KindInteger:
			values[f.Dest] = Integer(lookup(raw, f.Source))
		case KindGeometry:
			values[f.Dest] = Geometry(lookup(raw, f.Source))
		case KindDerived:
			values[f.Dest] = n.derivers[f.Derive](p, raw)
		}
	}
	return parcelsync.NormalizedRecord{Partition: p, Key: keyText, Values: values}, nil
}

// Batch normalizes raws in order, dropping and counting records that fail.
func (n *Normalizer) Batch(p parcelsync.PartitionID, raws []parcelsync.RawRecord) (recs []parcelsync.NormalizedRecord, skipped int) {
	recs = make([]parcelsync.NormalizedRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := n.Normalize(p, raw)
		if err != nil {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	return recs, skipped
}

// lookup finds a source field by exact name, then case-insensitively.
func lookup(raw parcelsync.RawRecord, name string) interface{} {
	if v, ok := raw[name]; ok {
		return v
	}
	for k, v := range raw {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}
