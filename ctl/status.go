// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/table"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
	"github.com/featurebasedb/parcelsync/progress"
)

// StatusCommand prints the checkpoint of every partition.
type StatusCommand struct {
	*parcelsync.CmdIO
	Config *ingest.Config

	Pipeline *Pipeline
}

// NewStatusCommand returns a new instance of StatusCommand.
func NewStatusCommand(stdin io.Reader, stdout, stderr io.Writer) *StatusCommand {
	return &StatusCommand{
		CmdIO:  parcelsync.NewCmdIO(stdin, stdout, stderr),
		Config: ingest.NewConfig(),
	}
}

// Run executes the status command.
func (cmd *StatusCommand) Run(ctx context.Context) error {
	p := cmd.Pipeline
	if p == nil {
		p = NewPipeline(cmd.Config, cmd.Logger())
	}
	defer p.Close()
	if err := p.OpenStore(ctx); err != nil {
		return errors.Wrap(err, "opening progress store")
	}
	entries, err := p.Store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "loading progress")
	}
	if len(entries) == 0 {
		fmt.Fprintf(cmd.Stdout, "no progress recorded in %s\n", cmd.Config.Progress)
		return nil
	}

	counts := make(map[parcelsync.Status]int)
	t := newTable(cmd.Stdout)
	t.AppendHeader(table.Row{"partition", "status", "cursor", "rows", "skipped", "failed", "batches", "updated", "last error"})
	for _, e := range progress.Sorted(entries) {
		counts[e.Status]++
		t.AppendRow(table.Row{
			partitionName(cmd.Config, e.PartitionID).String(), string(e.Status), e.Cursor,
			e.RowsProcessed, e.RowsSkipped, e.RowsFailed, e.Batches, formatTime(e.UpdatedAt), e.LastError,
		})
	}
	t.Render()
	fmt.Fprintf(cmd.Stdout, "%d completed, %d in progress, %d failed, %d pending\n",
		counts[parcelsync.StatusCompleted], counts[parcelsync.StatusInProgress],
		counts[parcelsync.StatusFailed], counts[parcelsync.StatusPending])
	return nil
}
