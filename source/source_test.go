package source_test

import (
	"context"
	"testing"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	all, err := source.FloridaCounties.Partitions(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 67)

	got, err := source.Select(all, nil)
	require.NoError(t, err)
	assert.Len(t, got, 67)

	got, err = source.Select(all, []string{"miami-dade", "11", " 11 ", "DESOTO"})
	require.NoError(t, err)
	assert.Equal(t, []parcelsync.Partition{
		{ID: "53", Name: "MIAMI-DADE"},
		{ID: "11", Name: "ALACHUA"},
		{ID: "23", Name: "DESOTO"},
	}, got)

	_, err = source.Select(all, []string{"11", "ATLANTIS"})
	assert.True(t, errors.Is(err, parcelsync.ErrInvalidConfig))
}
