package ingest_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
	"github.com/featurebasedb/parcelsync/ratelimit"
)

func TestNewConfigValid(t *testing.T) {
	c := ingest.NewConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, ratelimit.DefaultConfig(), c.Limits())
}

func TestConfigValidate(t *testing.T) {
	for i, test := range []struct {
		mod func(c *ingest.Config)
		err string
	}{
		{mod: func(c *ingest.Config) { c.Concurrency = 0 }, err: "concurrency"},
		{mod: func(c *ingest.Config) { c.PageSize = -1 }, err: "page size"},
		{mod: func(c *ingest.Config) { c.MaxRecords = -5 }, err: "max records"},
		{mod: func(c *ingest.Config) { c.MaxFailed = -1 }, err: "max failed"},
		{mod: func(c *ingest.Config) { c.LoadAttempts = 0 }, err: "load attempts"},
		{mod: func(c *ingest.Config) { c.VerifyThreshold = 1.5 }, err: "verify threshold"},
		{mod: func(c *ingest.Config) { c.RateLimit.PerHour = -1 }, err: "rate limits"},
		{mod: func(c *ingest.Config) { c.RateLimit.BackoffMultiplier = 0.5 }, err: "backoff multiplier"},
		{mod: func(c *ingest.Config) { c.Dedupe = "middle" }, err: "dedupe"},
		{mod: func(c *ingest.Config) { c.Dedupe = parcelsync.DedupeFirstWins }},
		{mod: func(c *ingest.Config) { c.RateLimit.BackoffMultiplier = 0 }},
	} {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			c := ingest.NewConfig()
			test.mod(c)
			err := c.Validate()
			if test.err == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, parcelsync.ErrInvalidConfig))
			assert.Contains(t, err.Error(), test.err)
		})
	}
}

func TestConfigDecode(t *testing.T) {
	const file = `
concurrency = 8
page-size = 2000
dedupe = "first"
load-backoff = "2s"

[source]
url = "https://services9.arcgis.com/x/ArcGIS/rest/services/Parcels/FeatureServer/0"
attempts = 5

[rate-limit]
per-minute = 30
min-interval = "500ms"

[destination]
dialect = "mysql"
table = "parcels"
`
	c := ingest.NewConfig()
	require.NoError(t, toml.Unmarshal([]byte(file), c))
	require.NoError(t, c.Validate())

	assert.Equal(t, 8, c.Concurrency)
	assert.Equal(t, 2000, c.PageSize)
	assert.Equal(t, parcelsync.DedupeFirstWins, c.Dedupe)
	assert.Equal(t, 2*time.Second, time.Duration(c.LoadBackoff))
	assert.Equal(t, 5, c.Source.Attempts)
	// Unset keys keep their defaults.
	assert.Equal(t, "CO_NO", c.Source.PartitionField)
	assert.Equal(t, "mysql", c.Destination.Dialect)
	assert.Equal(t, "co_no", c.Destination.PartitionColumn)

	limits := c.Limits()
	assert.Equal(t, 30, limits.PerMinute)
	assert.Equal(t, 3000, limits.PerHour)
	assert.Equal(t, 500*time.Millisecond, limits.MinInterval)
}

func TestMetricsRegistered(t *testing.T) {
	before := testutil.ToFloat64(ingest.CounterRecords.WithLabelValues("fetched"))
	h := newHarness(t)
	h.src.records[testco.ID] = parcels(30, 0)
	_, err := h.orchestrator(nil).Run(context.Background(), []parcelsync.Partition{testco})
	require.NoError(t, err)
	assert.Equal(t, before+30, testutil.ToFloat64(ingest.CounterRecords.WithLabelValues("fetched")))
}
