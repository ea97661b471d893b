// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package normalize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/pelletier/go-toml"
)

// Kind is the destination type class of a field.
type Kind string

const (
	// KindText values are trimmed, whitespace-collapsed and escaped.
	KindText Kind = "text"
	// KindNumeric values are float64. Empty numeric becomes zero.
	KindNumeric Kind = "numeric"
	// KindInteger values are int64, truncated toward zero. Empty integer
	// becomes zero.
	KindInteger Kind = "integer"
	// KindDerived values are computed from the partition and the raw record
	// by a named Deriver.
	KindDerived Kind = "derived"
	// KindGeometry values are WKT text, or nil when the source has none.
	KindGeometry Kind = "geometry"
)

func (k Kind) valid() bool {
	switch k {
	case KindText, KindNumeric, KindInteger, KindDerived, KindGeometry:
		return true
	}
	return false
}

// Escape selects how quote characters inside text values are escaped for
// the destination format.
type Escape string

const (
	// EscapeNone leaves quotes alone; for destinations written through bind
	// parameters.
	EscapeNone Escape = "none"
	// EscapeSQL doubles single quotes, for SQL string literals.
	EscapeSQL Escape = "sql"
	// EscapeCSV doubles double quotes, for quoted CSV fields.
	EscapeCSV Escape = "csv"
)

// Field maps one source field to one destination column.
type Field struct {
	Source string `toml:"source"`
	Dest   string `toml:"dest"`
	Kind   Kind   `toml:"kind"`
	// Derive names the Deriver for KindDerived fields.
	Derive string `toml:"derive,omitempty"`
}

// StorageKind is the column type class used to store f. Derived fields
// store as integers when their deriver name ends in "int", text otherwise.
func (f Field) StorageKind() Kind {
	if f.Kind != KindDerived {
		return f.Kind
	}
	if strings.HasSuffix(f.Derive, "int") {
		return KindInteger
	}
	return KindText
}

// Schema is the declarative description of how raw records map to
// destination rows.
type Schema struct {
	// Key is the destination name of the natural key field.
	Key    string  `toml:"key"`
	Escape Escape  `toml:"escape"`
	Fields []Field `toml:"fields"`
}

var columnName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Validate checks that the schema is usable: unique, well-formed destination
// names, known kinds, and a text or integer key field that is read from the
// source.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return errors.New(parcelsync.ErrInvalidSchema, "schema has no fields")
	}
	switch s.Escape {
	case "", EscapeNone, EscapeSQL, EscapeCSV:
	default:
		return errors.Newf(parcelsync.ErrInvalidSchema, "unknown escape mode %q", s.Escape)
	}
	seen := make(map[string]bool, len(s.Fields))
	var key *Field
	for i := range s.Fields {
		f := &s.Fields[i]
		if !columnName.MatchString(f.Dest) {
			return errors.Newf(parcelsync.ErrInvalidSchema, "invalid destination name %q", f.Dest)
		}
		if seen[f.Dest] {
			return errors.Newf(parcelsync.ErrInvalidSchema, "duplicate destination name %q", f.Dest)
		}
		seen[f.Dest] = true
		if !f.Kind.valid() {
			return errors.Newf(parcelsync.ErrInvalidSchema, "field %q has unknown kind %q", f.Dest, f.Kind)
		}
		if f.Kind == KindDerived {
			if f.Derive == "" {
				return errors.Newf(parcelsync.ErrInvalidSchema, "derived field %q names no deriver", f.Dest)
			}
		} else if f.Source == "" {
			return errors.Newf(parcelsync.ErrInvalidSchema, "field %q has no source name", f.Dest)
		}
		if f.Dest == s.Key {
			key = f
		}
	}
	if key == nil {
		return errors.Newf(parcelsync.ErrInvalidSchema, "key field %q is not in the schema", s.Key)
	}
	if key.Kind != KindText && key.Kind != KindInteger {
		return errors.Newf(parcelsync.ErrInvalidSchema, "key field %q must be text or integer, not %s", s.Key, key.Kind)
	}
	return nil
}

// Columns returns destination column names in schema order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Dest
	}
	return cols
}

// Field returns the field with destination name dest.
func (s *Schema) Field(dest string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Dest == dest {
			return f, true
		}
	}
	return Field{}, false
}

const nameSpecDelimiter = "___"

// ParseField reads a compact field declaration of the form
//
//	SourceName___dest_name__kind[_arg]
//
// or, when source and destination share a name, name__kind[_arg]. The only
// argument is the deriver name of a derived field, which has no source:
//
//	___co_no__derived_partitionint
func ParseField(spec string) (Field, error) {
	var source, dest, kindspec string
	if idx3 := strings.LastIndex(spec, nameSpecDelimiter); idx3 != -1 {
		source = spec[:idx3]
		rest := spec[idx3+len(nameSpecDelimiter):]
		idx2 := strings.LastIndex(rest, "__")
		if idx2 == -1 {
			return Field{}, errors.Newf(parcelsync.ErrInvalidSchema, "no kind in field spec %q", spec)
		}
		dest, kindspec = rest[:idx2], rest[idx2+2:]
	} else {
		idx2 := strings.LastIndex(spec, "__")
		if idx2 == -1 {
			return Field{}, errors.Newf(parcelsync.ErrInvalidSchema, "no kind in field spec %q", spec)
		}
		dest, kindspec = spec[:idx2], spec[idx2+2:]
		source = dest
	}

	parts := strings.SplitN(kindspec, "_", 2)
	f := Field{Source: source, Dest: dest, Kind: Kind(strings.ToLower(parts[0]))}
	if !f.Kind.valid() {
		return Field{}, errors.Newf(parcelsync.ErrInvalidSchema, "unknown kind %q in field spec %q", parts[0], spec)
	}
	if f.Kind == KindDerived {
		f.Source = ""
		if len(parts) < 2 || parts[1] == "" {
			return Field{}, errors.Newf(parcelsync.ErrInvalidSchema, "derived field spec %q names no deriver", spec)
		}
		f.Derive = parts[1]
	} else if len(parts) > 1 {
		return Field{}, errors.Newf(parcelsync.ErrInvalidSchema, "unexpected argument %q in field spec %q", parts[1], spec)
	}
	return f, nil
}

// ParseSchema builds a schema from compact field declarations.
func ParseSchema(key string, escape Escape, specs []string) (*Schema, error) {
	s := &Schema{Key: key, Escape: escape}
	for _, spec := range specs {
		f, err := ParseField(spec)
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, f)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSchemaFile reads a TOML schema file.
func LoadSchemaFile(path string) (*Schema, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading schema file")
	}
	s := &Schema{}
	if err := toml.Unmarshal(buf, s); err != nil {
		return nil, errors.WrapCode(err, parcelsync.ErrInvalidSchema, fmt.Sprintf("decoding schema file %s", path))
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Wrapf(err, "schema file %s", path)
	}
	return s, nil
}

// FloridaParcels is the schema of the statewide Florida cadastral layer
// loaded into florida_parcels, keyed by PARCEL_ID.
func FloridaParcels() *Schema {
	s, err := ParseSchema("parcel_id", EscapeNone, []string{
		"___co_no__derived_partitionint",
		"PARCEL_ID___parcel_id__text",
		"ASMNT_YR___asmnt_yr__integer",
		"OWN_NAME___own_name__text",
		"OWN_ADDR1___own_addr1__text",
		"OWN_CITY___own_city__text",
		"OWN_STATE___own_state__text",
		"OWN_ZIPCD___own_zipcd__text",
		"PHY_ADDR1___phy_addr1__text",
		"PHY_CITY___phy_city__text",
		"PHY_ZIPCD___phy_zipcd__text",
		"DOR_UC___dor_uc__text",
		"JV___jv__numeric",
		"AV_SD___av_sd__numeric",
		"TV_SD___tv_sd__numeric",
		"LND_VAL___lnd_val__numeric",
		"BLDG_VAL___bldg_val__numeric",
		"LND_SQFOOT___lnd_sqfoot__numeric",
		"TOT_LVG_AR___tot_lvg_ar__numeric",
		"ACT_YR_BLT___act_yr_blt__integer",
		"EFF_YR_BLT___eff_yr_blt__integer",
		"NO_BULDNG___no_buldng__integer",
		"NO_RES_UNT___no_res_unt__integer",
		"SALE_PRC1___sale_prc1__numeric",
		"SALE_YR1___sale_yr1__integer",
		"SALE_MO1___sale_mo1__integer",
		"S_LEGAL___s_legal__text",
		parcelsync.GeometryField + "___shape_wkt__geometry",
	})
	if err != nil {
		panic(err)
	}
	return s
}
