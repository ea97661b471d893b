// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl_test

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/ctl"
	"github.com/featurebasedb/parcelsync/dialect"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
	"github.com/featurebasedb/parcelsync/tracing"
)

// workspace is a csv source, a sqlite destination and a progress file in
// one temp dir.
type workspace struct {
	dir string
	cfg *ingest.Config
}

func newWorkspace(t *testing.T, exports map[string]string) *workspace {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "exports")
	require.NoError(t, os.MkdirAll(src, 0755))
	for code, body := range exports {
		require.NoError(t, os.WriteFile(filepath.Join(src, code+".csv"), []byte(body), 0644))
	}

	cfg := ingest.NewConfig()
	cfg.Concurrency = 2
	cfg.ProgressInterval = 0
	cfg.Progress = filepath.Join(dir, "progress.json")
	cfg.Source.Kind = ingest.SourceCSV
	cfg.Source.Dir = src
	cfg.Destination.Dialect = "sqlite"
	cfg.Destination.DSN = filepath.Join(dir, "parcels.db")
	cfg.Destination.CreateTable = true
	return &workspace{dir: dir, cfg: cfg}
}

func (w *workspace) db(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := dialect.Open("sqlite", w.cfg.Destination.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const (
	alachuaCSV = "PARCEL_ID,OWN_NAME,JV\n" +
		"A-1,SMITH JOHN,\"125,000\"\n" +
		"A-2,DOE JANE,90000\n" +
		",NO KEY,1\n"
	bakerCSV = "\ufeffPARCEL_ID,OWN_NAME,JV\n" +
		"B-1,ROE RICHARD,N/A\n" +
		"B-2,  ROE   MARY ,(100)\n"
)

func runCmd(t *testing.T, cfg *ingest.Config, reset ...string) (*ctl.RunCommand, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := ctl.NewRunCommand(nil, stdout, stderr)
	cmd.Config = cfg
	cmd.Reset = reset
	err := cmd.Run(context.Background())
	return cmd, stdout.String(), err
}

func TestRunCommand(t *testing.T) {
	w := newWorkspace(t, map[string]string{"11": alachuaCSV, "12": bakerCSV})
	w.cfg.Partitions = []string{"ALACHUA", "12"}
	w.cfg.Verify = true

	cmd, out, err := runCmd(t, w.cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, cmd.Summary.Count(parcelsync.StatusCompleted))
	assert.Contains(t, out, "11 (ALACHUA)")
	assert.Contains(t, out, "12 (BAKER)")
	assert.Contains(t, out, "2 completed, 0 in progress, 0 failed")
	assert.NotContains(t, out, "needs re-run")

	var jv float64
	var owner string
	var county int64
	require.NoError(t, w.db(t).QueryRow(`SELECT co_no, own_name, jv FROM florida_parcels WHERE parcel_id = 'B-2'`).Scan(&county, &owner, &jv))
	assert.EqualValues(t, 12, county)
	assert.Equal(t, "ROE MARY", owner)
	assert.Equal(t, -100.0, jv)

	t.Run("status", func(t *testing.T) {
		stdout := &bytes.Buffer{}
		st := ctl.NewStatusCommand(nil, stdout, &bytes.Buffer{})
		st.Config = w.cfg
		require.NoError(t, st.Run(context.Background()))
		assert.Contains(t, stdout.String(), "11 (ALACHUA)")
		assert.Contains(t, stdout.String(), "2 completed, 0 in progress, 0 failed, 0 pending")
	})

	t.Run("verify", func(t *testing.T) {
		stdout := &bytes.Buffer{}
		v := ctl.NewVerifyCommand(nil, stdout, &bytes.Buffer{})
		v.Config = w.cfg
		require.NoError(t, v.Run(context.Background()))
		assert.Contains(t, stdout.String(), "2 partitions verified")
		require.Len(t, v.Report.Results, 2)
		assert.EqualValues(t, 2, v.Report.Results[0].Actual)
	})

	t.Run("rerun-skips", func(t *testing.T) {
		cmd, out, err := runCmd(t, w.cfg)
		require.NoError(t, err)
		assert.True(t, cmd.Summary.Partitions[0].AlreadyCompleted)
		assert.Contains(t, out, "completed (earlier run)")
	})

	t.Run("run-with-reset", func(t *testing.T) {
		cmd, _, err := runCmd(t, w.cfg, "BAKER")
		require.NoError(t, err)
		assert.True(t, cmd.Summary.Partitions[0].AlreadyCompleted)
		assert.False(t, cmd.Summary.Partitions[1].AlreadyCompleted)
		assert.EqualValues(t, 2, cmd.Summary.Partitions[1].Updated)
	})
}

func TestRunCommandFailedPartition(t *testing.T) {
	w := newWorkspace(t, map[string]string{"11": alachuaCSV})
	w.cfg.Partitions = []string{"11", "13"}

	cmd, out, err := runCmd(t, w.cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, parcelsync.ErrPartitionsFailed))
	assert.Contains(t, out, "needs re-run: 13")
	assert.Contains(t, out, "no export for partition 13")
	assert.Equal(t, 1, cmd.Summary.Count(parcelsync.StatusCompleted))

	stdout := &bytes.Buffer{}
	st := ctl.NewStatusCommand(nil, stdout, &bytes.Buffer{})
	st.Config = w.cfg
	require.NoError(t, st.Run(context.Background()))
	assert.Contains(t, stdout.String(), "1 completed, 0 in progress, 1 failed")

	w.cfg.MaxFailed = 1
	_, _, err = runCmd(t, w.cfg)
	assert.NoError(t, err)
}

func TestRunCommandTracing(t *testing.T) {
	mock := mocktracer.New()
	opentracing.SetGlobalTracer(mock)
	defer func() {
		opentracing.SetGlobalTracer(opentracing.NoopTracer{})
		tracing.GlobalTracer = tracing.NopTracer()
	}()

	w := newWorkspace(t, map[string]string{"11": alachuaCSV})
	w.cfg.Partitions = []string{"11"}
	_, _, err := runCmd(t, w.cfg)
	require.NoError(t, err)

	ops := map[string]int{}
	for _, sp := range mock.FinishedSpans() {
		ops[sp.OperationName]++
	}
	assert.Equal(t, 1, ops["ingest.Partition"])
	assert.Equal(t, 1, ops["loader.Load"])
}

func TestRunCommandInvalidConfig(t *testing.T) {
	w := newWorkspace(t, nil)
	w.cfg.Source.Kind = "ftp"
	_, _, err := runCmd(t, w.cfg)
	assert.True(t, errors.Is(err, parcelsync.ErrInvalidConfig))

	w = newWorkspace(t, nil)
	w.cfg.Partitions = []string{"ATLANTIS"}
	_, _, err = runCmd(t, w.cfg)
	assert.True(t, errors.Is(err, parcelsync.ErrInvalidConfig))
}

func TestVerifyCommandShort(t *testing.T) {
	w := newWorkspace(t, map[string]string{"11": alachuaCSV, "12": bakerCSV})
	w.cfg.Partitions = []string{"11", "12"}
	_, _, err := runCmd(t, w.cfg)
	require.NoError(t, err)

	_, err = w.db(t).Exec(`DELETE FROM florida_parcels WHERE co_no = 11`)
	require.NoError(t, err)

	stdout := &bytes.Buffer{}
	v := ctl.NewVerifyCommand(nil, stdout, &bytes.Buffer{})
	v.Config = w.cfg
	err = v.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, parcelsync.ErrPartitionsFailed))
	assert.Contains(t, stdout.String(), "needs re-run")
	assert.Equal(t, []parcelsync.Partition{{ID: "11", Name: "ALACHUA"}}, v.Report.NeedsRerun())

	t.Run("source-counts", func(t *testing.T) {
		// The expected count is the export's row count.
		w.cfg.Source.Count = true
		w.cfg.Partitions = []string{"12"}
		v := ctl.NewVerifyCommand(nil, &bytes.Buffer{}, &bytes.Buffer{})
		v.Config = w.cfg
		require.NoError(t, v.Run(context.Background()))
		require.Len(t, v.Report.Results, 1)
		assert.EqualValues(t, 2, v.Report.Results[0].Expected)
	})
}

func TestResetCommand(t *testing.T) {
	w := newWorkspace(t, map[string]string{"11": alachuaCSV, "12": bakerCSV})
	w.cfg.Partitions = []string{"11", "12"}
	_, _, err := runCmd(t, w.cfg)
	require.NoError(t, err)

	reset := func(all bool, parts ...string) (string, error) {
		stdout := &bytes.Buffer{}
		cmd := ctl.NewResetCommand(nil, stdout, &bytes.Buffer{})
		cmd.Config = w.cfg
		cmd.All = all
		cmd.Partitions = parts
		err := cmd.Run(context.Background())
		return stdout.String(), err
	}

	_, err = reset(false)
	assert.True(t, errors.Is(err, parcelsync.ErrInvalidConfig))

	out, err := reset(false, "alachua")
	require.NoError(t, err)
	assert.Equal(t, "reset 1 partitions\n", out)

	stdout := &bytes.Buffer{}
	st := ctl.NewStatusCommand(nil, stdout, &bytes.Buffer{})
	st.Config = w.cfg
	require.NoError(t, st.Run(context.Background()))
	assert.NotContains(t, stdout.String(), "ALACHUA")
	assert.Contains(t, stdout.String(), "12 (BAKER)")

	out, err = reset(true)
	require.NoError(t, err)
	assert.Equal(t, "reset 1 partitions\n", out)
}

func TestPartitionsCommand(t *testing.T) {
	w := newWorkspace(t, map[string]string{"11": alachuaCSV})

	stdout := &bytes.Buffer{}
	cmd := ctl.NewPartitionsCommand(nil, stdout, &bytes.Buffer{})
	cmd.Config = w.cfg
	require.NoError(t, cmd.Run(context.Background()))
	assert.Contains(t, stdout.String(), "ALACHUA")
	assert.Contains(t, stdout.String(), "WALTON")

	stdout.Reset()
	cmd = ctl.NewPartitionsCommand(nil, stdout, &bytes.Buffer{})
	cmd.Config = w.cfg
	cmd.Config.Partitions = []string{"11"}
	cmd.Count = true
	require.NoError(t, cmd.Run(context.Background()))
	assert.Contains(t, stdout.String(), "ALACHUA")
	assert.NotContains(t, stdout.String(), "WALTON")
	assert.Contains(t, stdout.String(), "3")
}

func TestConfigCommand(t *testing.T) {
	stdout := &bytes.Buffer{}
	cmd := ctl.NewConfigCommand(nil, stdout, &bytes.Buffer{})
	cmd.Config.Destination.DSN = "postgres://etl:hunter2@db/parcels"
	require.NoError(t, cmd.Run(context.Background()))

	out := stdout.String()
	assert.Contains(t, out, "page-size = 1000")
	assert.Contains(t, out, "[rate-limit]")
	assert.Contains(t, out, `load-backoff = "1s"`)
	assert.NotContains(t, out, "hunter2")
	assert.True(t, strings.Contains(out, "********"))
	assert.Equal(t, "postgres://etl:hunter2@db/parcels", cmd.Config.Destination.DSN)
}
