package parcelsync_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(key, val string) parcelsync.NormalizedRecord {
	return parcelsync.NormalizedRecord{
		Partition: "11",
		Key:       key,
		Values:    map[string]interface{}{"parcel_id": key, "own_name": val},
	}
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		in  []parcelsync.NormalizedRecord
		exp []parcelsync.NormalizedRecord
	}{
		{
			in:  nil,
			exp: []parcelsync.NormalizedRecord{},
		},
		{
			in:  []parcelsync.NormalizedRecord{rec("P1", "A"), rec("P2", "B")},
			exp: []parcelsync.NormalizedRecord{rec("P1", "A"), rec("P2", "B")},
		},
		{
			in:  []parcelsync.NormalizedRecord{rec("P1", "A"), rec("P2", "B"), rec("P1", "C")},
			exp: []parcelsync.NormalizedRecord{rec("P1", "C"), rec("P2", "B")},
		},
		{
			in:  []parcelsync.NormalizedRecord{rec("P3", "x"), rec("P1", "A"), rec("P3", "y"), rec("P1", "B"), rec("P3", "z")},
			exp: []parcelsync.NormalizedRecord{rec("P3", "z"), rec("P1", "B")},
		},
	}

	for i, test := range tests {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			got := parcelsync.Dedupe(test.in)
			if diff := cmp.Diff(test.exp, got); diff != "" {
				t.Fatalf("unexpected dedupe result (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDedupeDoesNotModifyInput(t *testing.T) {
	in := []parcelsync.NormalizedRecord{rec("P1", "A"), rec("P1", "B")}
	_ = parcelsync.Dedupe(in)
	assert.Equal(t, "A", in[0].Values["own_name"])
	assert.Equal(t, "B", in[1].Values["own_name"])
}

func TestDedupeKeysArePartitionScoped(t *testing.T) {
	a := rec("P1", "A")
	b := rec("P1", "B")
	b.Partition = "12"
	got := parcelsync.Dedupe([]parcelsync.NormalizedRecord{a, b})
	assert.Len(t, got, 2)
}

func TestDedupeLastOccurrenceWins(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		n := rnd.Intn(200) + 1
		batch := make([]parcelsync.NormalizedRecord, n)
		last := map[string]string{}
		for j := range batch {
			key := fmt.Sprintf("P%d", rnd.Intn(n/3+1))
			val := fmt.Sprintf("v%d", j)
			batch[j] = rec(key, val)
			last[key] = val
		}

		got := parcelsync.Dedupe(batch)
		require.Len(t, got, len(last))
		seen := map[string]bool{}
		for _, r := range got {
			require.False(t, seen[r.Key], "duplicate key %s", r.Key)
			seen[r.Key] = true
			require.Equal(t, last[r.Key], r.Values["own_name"])
		}
	}
}

func TestDedupePolicy(t *testing.T) {
	in := []parcelsync.NormalizedRecord{rec("P1", "A"), rec("P2", "B"), rec("P1", "C")}

	first, err := parcelsync.ParseDedupePolicy("first")
	require.NoError(t, err)
	got := first.Apply(in)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Values["own_name"])

	last, err := parcelsync.ParseDedupePolicy("")
	require.NoError(t, err)
	assert.Equal(t, parcelsync.DedupeLastWins, last)
	assert.Equal(t, "C", last.Apply(in)[0].Values["own_name"])

	_, err = parcelsync.ParseDedupePolicy("random")
	assert.True(t, errors.Is(err, parcelsync.ErrInvalidConfig))
}

func TestResumeStatus(t *testing.T) {
	tests := []struct {
		entry parcelsync.ProgressEntry
		exp   parcelsync.Status
	}{
		{entry: parcelsync.ProgressEntry{Status: parcelsync.StatusCompleted, Cursor: 10}, exp: parcelsync.StatusCompleted},
		{entry: parcelsync.ProgressEntry{Status: parcelsync.StatusFailed, Cursor: 200}, exp: parcelsync.StatusInProgress},
		{entry: parcelsync.ProgressEntry{Status: parcelsync.StatusFailed}, exp: parcelsync.StatusPending},
		{entry: parcelsync.ProgressEntry{Status: parcelsync.StatusInProgress, Cursor: 100}, exp: parcelsync.StatusInProgress},
		{entry: parcelsync.ProgressEntry{Status: parcelsync.StatusPending}, exp: parcelsync.StatusPending},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			assert.Equal(t, test.exp, test.entry.ResumeStatus())
		})
	}
}
