package ctl

import (
	"context"
	"io"

	"github.com/jedib0t/go-pretty/table"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/ingest"
)

// PartitionsCommand lists the partitions a run would process, with their
// source record counts when Count is set.
type PartitionsCommand struct {
	*parcelsync.CmdIO
	Config *ingest.Config
	Count  bool

	Pipeline *Pipeline
}

// NewPartitionsCommand returns a new instance of PartitionsCommand.
func NewPartitionsCommand(stdin io.Reader, stdout, stderr io.Writer) *PartitionsCommand {
	return &PartitionsCommand{
		CmdIO:  parcelsync.NewCmdIO(stdin, stdout, stderr),
		Config: ingest.NewConfig(),
	}
}

// Run executes the partitions command.
func (cmd *PartitionsCommand) Run(ctx context.Context) error {
	p := cmd.Pipeline
	if p == nil {
		p = NewPipeline(cmd.Config, cmd.Logger())
	}
	defer p.Close()
	parts, err := p.Partitions(ctx, cmd.Config.Partitions)
	if err != nil {
		return err
	}

	t := newTable(cmd.Stdout)
	header := table.Row{"code", "name"}
	if cmd.Count {
		header = append(header, "records")
	}
	t.AppendHeader(header)
	var total int64
	for _, part := range parts {
		row := table.Row{string(part.ID), part.Name}
		if cmd.Count {
			n, err := p.Counter.Count(ctx, part)
			if err != nil {
				return err
			}
			total += n
			row = append(row, n)
		}
		t.AppendRow(row)
	}
	if cmd.Count {
		t.AppendFooter(table.Row{"", "total", total})
	}
	t.Render()
	return nil
}
