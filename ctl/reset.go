// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
	"github.com/featurebasedb/parcelsync/progress"
	"github.com/featurebasedb/parcelsync/source"
)

// ResetCommand clears the progress of partitions so the next run starts
// them over. Destination rows are left alone; reloading upserts over them.
type ResetCommand struct {
	*parcelsync.CmdIO
	Config *ingest.Config

	Partitions []string
	All        bool

	Pipeline *Pipeline
}

// NewResetCommand returns a new instance of ResetCommand.
func NewResetCommand(stdin io.Reader, stdout, stderr io.Writer) *ResetCommand {
	return &ResetCommand{
		CmdIO:  parcelsync.NewCmdIO(stdin, stdout, stderr),
		Config: ingest.NewConfig(),
	}
}

// Run executes the reset command.
func (cmd *ResetCommand) Run(ctx context.Context) error {
	if !cmd.All && len(cmd.Partitions) == 0 {
		return errors.New(parcelsync.ErrInvalidConfig, "name the partitions to reset, or pass --all")
	}
	p := cmd.pipeline()
	defer p.Close()
	if err := p.OpenStore(ctx); err != nil {
		return errors.Wrap(err, "opening progress store")
	}
	entries, err := p.Store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "loading progress")
	}

	var ids []parcelsync.PartitionID
	if cmd.All {
		for _, e := range progress.Sorted(entries) {
			ids = append(ids, e.PartitionID)
		}
	} else {
		parts, err := source.Select(knownPartitions(cmd.Config, entries), cmd.Partitions)
		if err != nil {
			return err
		}
		for _, part := range parts {
			ids = append(ids, part.ID)
		}
	}

	n := 0
	for _, id := range ids {
		if _, ok := entries[id]; !ok {
			continue
		}
		if err := p.Store.Reset(ctx, id); err != nil {
			return errors.Wrapf(err, "resetting %s", id)
		}
		n++
	}
	fmt.Fprintf(cmd.Stdout, "reset %d partitions\n", n)
	return nil
}

func (cmd *ResetCommand) pipeline() *Pipeline {
	if cmd.Pipeline != nil {
		return cmd.Pipeline
	}
	return NewPipeline(cmd.Config, cmd.Logger())
}

// knownPartitions lists the partitions that can be named without asking the
// source: the built-in list when configured, plus every checkpointed id.
func knownPartitions(cfg *ingest.Config, entries map[parcelsync.PartitionID]parcelsync.ProgressEntry) []parcelsync.Partition {
	var all []parcelsync.Partition
	seen := make(map[parcelsync.PartitionID]bool)
	if cfg.Source.Partitions == ingest.PartitionsFlorida {
		for _, p := range source.FloridaCounties {
			all = append(all, p)
			seen[p.ID] = true
		}
	}
	for _, e := range progress.Sorted(entries) {
		if !seen[e.PartitionID] {
			all = append(all, parcelsync.Partition{ID: e.PartitionID})
		}
	}
	return all
}

// partitionName labels id for display.
func partitionName(cfg *ingest.Config, id parcelsync.PartitionID) parcelsync.Partition {
	if cfg.Source.Partitions == ingest.PartitionsFlorida {
		for _, p := range source.FloridaCounties {
			if p.ID == id {
				return p
			}
		}
	}
	return parcelsync.Partition{ID: id}
}
