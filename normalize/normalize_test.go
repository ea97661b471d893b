package normalize_test

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/normalize"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *normalize.Schema {
	t.Helper()
	s, err := normalize.ParseSchema("parcel_id", normalize.EscapeSQL, []string{
		"___co_no__derived_partitionint",
		"PARCEL_ID___parcel_id__text",
		"OWN_NAME___own_name__text",
		"JV___jv__numeric",
		"ACT_YR_BLT___act_yr_blt__integer",
		parcelsync.GeometryField + "___shape_wkt__geometry",
	})
	require.NoError(t, err)
	return s
}

func TestNormalize(t *testing.T) {
	n, err := normalize.New(testSchema(t), nil)
	require.NoError(t, err)

	rec, err := n.Normalize("11", parcelsync.RawRecord{
		"PARCEL_ID":              " 06020-001-000 ",
		"own_name":               "O'NEIL  MARY\n",
		"JV":                     "",
		"ACT_YR_BLT":             "1978",
		parcelsync.GeometryField: map[string]interface{}{"x": -82.3, "y": 29.6},
		"UNMAPPED":               "ignored",
	})
	require.NoError(t, err)

	exp := parcelsync.NormalizedRecord{
		Partition: "11",
		Key:       "06020-001-000",
		Values: map[string]interface{}{
			"co_no":      int64(11),
			"parcel_id":  "06020-001-000",
			"own_name":   "O''NEIL MARY",
			"jv":         float64(0),
			"act_yr_blt": int64(1978),
			"shape_wkt":  "POINT (-82.3 29.6)",
		},
	}
	if diff := cmp.Diff(exp, rec); diff != "" {
		t.Fatalf("unexpected record (-want +got):\n%s", diff)
	}
}

func TestNormalizeMissingKey(t *testing.T) {
	n, err := normalize.New(testSchema(t), nil)
	require.NoError(t, err)

	for i, raw := range []parcelsync.RawRecord{
		{"JV": "100"},
		{"PARCEL_ID": ""},
		{"PARCEL_ID": "   "},
		{"PARCEL_ID": nil},
		{"PARCEL_ID": "NULL"},
	} {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			_, err := n.Normalize("11", raw)
			assert.True(t, errors.Is(err, parcelsync.ErrRecordSkipped))
		})
	}
}

func TestNormalizeIntegerKey(t *testing.T) {
	s, err := normalize.ParseSchema("objectid", normalize.EscapeNone, []string{"OBJECTID___objectid__integer"})
	require.NoError(t, err)
	n, err := normalize.New(s, nil)
	require.NoError(t, err)

	rec, err := n.Normalize("11", parcelsync.RawRecord{"OBJECTID": "1,024"})
	require.NoError(t, err)
	assert.Equal(t, "1024", rec.Key)
	assert.Equal(t, int64(1024), rec.Values["objectid"])

	_, err = n.Normalize("11", parcelsync.RawRecord{"OBJECTID": "abc"})
	assert.True(t, errors.Is(err, parcelsync.ErrRecordSkipped))

	t.Run("large", func(t *testing.T) {
		a, err := n.Normalize("11", parcelsync.RawRecord{"OBJECTID": "12345678901234567"})
		require.NoError(t, err)
		b, err := n.Normalize("11", parcelsync.RawRecord{"OBJECTID": json.Number("12345678901234568")})
		require.NoError(t, err)
		assert.Equal(t, "12345678901234567", a.Key)
		assert.Equal(t, int64(12345678901234567), a.Values["objectid"])
		assert.Equal(t, "12345678901234568", b.Key)
		assert.Equal(t, int64(12345678901234568), b.Values["objectid"])
		assert.Len(t, parcelsync.Dedupe([]parcelsync.NormalizedRecord{a, b}), 2)
	})

	for i, key := range []interface{}{"99999999999999999999", "-9223372036854775809", "12.5", "1e3"} {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			_, err := n.Normalize("11", parcelsync.RawRecord{"OBJECTID": key})
			assert.True(t, errors.Is(err, parcelsync.ErrRecordSkipped))
		})
	}

	rec, err = n.Normalize("11", parcelsync.RawRecord{"OBJECTID": "2048.00"})
	require.NoError(t, err)
	assert.Equal(t, "2048", rec.Key)
}

func TestNormalizeCustomDeriver(t *testing.T) {
	s, err := normalize.ParseSchema("id", normalize.EscapeNone, []string{"id__text", "___region__derived_region"})
	require.NoError(t, err)

	_, err = normalize.New(s, nil)
	assert.True(t, errors.Is(err, parcelsync.ErrInvalidSchema))

	n, err := normalize.New(s, map[string]normalize.Deriver{
		"region": func(p parcelsync.PartitionID, _ parcelsync.RawRecord) interface{} { return "R-" + string(p) },
	})
	require.NoError(t, err)
	rec, err := n.Normalize("42", parcelsync.RawRecord{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "R-42", rec.Values["region"])
}

func TestNormalizeBatch(t *testing.T) {
	n, err := normalize.New(testSchema(t), nil)
	require.NoError(t, err)
	recs, skipped := n.Batch("11", []parcelsync.RawRecord{
		{"PARCEL_ID": "A"}, {"PARCEL_ID": ""}, {"PARCEL_ID": "B"}, {},
	})
	assert.Equal(t, 2, skipped)
	require.Len(t, recs, 2)
	assert.Equal(t, "A", recs[0].Key)
	assert.Equal(t, "B", recs[1].Key)
}

// Any record with a key normalizes, and numeric columns are never empty.
func TestNormalizeTotality(t *testing.T) {
	n, err := normalize.New(testSchema(t), nil)
	require.NoError(t, err)

	junk := []interface{}{nil, "", " ", "NULL", "n/a", "(5)", "1,000", "x", 3.5, int64(-2), "\n", "#N/A", true, []interface{}{1}}
	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		raw := parcelsync.RawRecord{
			"PARCEL_ID":              fmt.Sprintf("P%d", i),
			"OWN_NAME":               junk[rnd.Intn(len(junk))],
			"JV":                     junk[rnd.Intn(len(junk))],
			"ACT_YR_BLT":             junk[rnd.Intn(len(junk))],
			parcelsync.GeometryField: junk[rnd.Intn(len(junk))],
		}
		rec, err := n.Normalize("11", raw)
		require.NoError(t, err)
		require.IsType(t, float64(0), rec.Values["jv"])
		require.IsType(t, int64(0), rec.Values["act_yr_blt"])
		require.IsType(t, "", rec.Values["own_name"])
	}
}

func TestNormalizerPartitionValue(t *testing.T) {
	n, err := normalize.New(testSchema(t), nil)
	require.NoError(t, err)

	v, ok := n.PartitionValue("co_no", "053")
	require.True(t, ok)
	assert.Equal(t, int64(53), v)

	_, ok = n.PartitionValue("parcel_id", "11")
	assert.False(t, ok)
	_, ok = n.PartitionValue("missing", "11")
	assert.False(t, ok)
}
