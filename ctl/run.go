// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"io"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/ingest"
)

// RunCommand ingests the configured partitions into the destination.
type RunCommand struct {
	*parcelsync.CmdIO
	Config *ingest.Config

	// Reset lists partitions whose progress is cleared before the run, so
	// they start over from the first record.
	Reset []string

	// Pipeline, when set, supplies pre-built components; anything it lacks
	// is built from Config.
	Pipeline *Pipeline
	// Summary is the outcome of the last Run.
	Summary *ingest.Summary
}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand(stdin io.Reader, stdout, stderr io.Writer) *RunCommand {
	return &RunCommand{
		CmdIO:  parcelsync.NewCmdIO(stdin, stdout, stderr),
		Config: ingest.NewConfig(),
	}
}

// Run executes the run command. It returns an error coded
// parcelsync.ErrPartitionsFailed when more partitions failed than the
// configured tolerance.
func (cmd *RunCommand) Run(ctx context.Context) error {
	if err := cmd.Config.Validate(); err != nil {
		return err
	}
	closeLog, err := setupLogger(cmd.CmdIO, cmd.Config)
	if err != nil {
		return err
	}
	defer closeLog()
	log := cmd.Logger()
	setupTracing(log)

	if bind := cmd.Config.MetricsBind; bind != "" {
		stop, err := serveMetrics(bind, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	p := cmd.Pipeline
	if p == nil {
		p = NewPipeline(cmd.Config, log)
	}
	p.Config, p.Logger = cmd.Config, log
	defer p.Close()

	if err := p.OpenSource(); err != nil {
		return errors.Wrap(err, "opening source")
	}
	if err := p.OpenDestination(ctx); err != nil {
		return errors.Wrap(err, "opening destination")
	}
	if err := p.OpenStore(ctx); err != nil {
		return errors.Wrap(err, "opening progress store")
	}

	parts, err := p.Partitions(ctx, cmd.Config.Partitions)
	if err != nil {
		return err
	}
	if len(cmd.Reset) > 0 {
		reset, err := p.Partitions(ctx, cmd.Reset)
		if err != nil {
			return err
		}
		for _, rp := range reset {
			if err := p.Store.Reset(ctx, rp.ID); err != nil {
				return errors.Wrapf(err, "resetting %s", rp)
			}
			log.Infof("reset progress of partition %s", rp)
		}
	}

	sum, err := p.Orchestrator().Run(ctx, parts)
	cmd.Summary = sum
	if sum != nil {
		writeSummary(cmd.Stdout, sum)
	}
	return err
}
