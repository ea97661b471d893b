package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/featurebasedb/parcelsync/ctl"
)

func newResetCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	resetter := ctl.NewResetCommand(stdin, stdout, stderr)
	resetCmd := &cobra.Command{
		Use:   "reset [partition]...",
		Short: "Clear the progress of partitions so the next run starts them over.",
		Long: `reset removes the checkpoints of the named partitions (codes or names),
or of every partition with --all. Loaded rows are kept; the next run
upserts over them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resetter.Partitions = args
			return resetter.Run(context.Background())
		},
	}
	flags := resetCmd.Flags()
	ctl.BuildConfigFlags(flags, resetter.Config)
	flags.BoolVar(&resetter.All, "all", false, "Reset every partition.")
	return resetCmd
}

func newStatusCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	status := ctl.NewStatusCommand(stdin, stdout, stderr)
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the checkpoint of every partition.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return status.Run(context.Background())
		},
	}
	ctl.BuildConfigFlags(statusCmd.Flags(), status.Config)
	return statusCmd
}

func newVerifyCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	verifier := ctl.NewVerifyCommand(stdin, stdout, stderr)
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare stored row counts of completed partitions with their expected counts.",
		Long: `verify counts the destination rows of each completed partition and
compares them with a floor of verify-threshold times the expected count:
the source count with --source.count, or the rows the run reported
writing. Short partitions are listed and make verify exit non-zero;
nothing is deleted or corrected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return verifier.Run(context.Background())
		},
	}
	ctl.BuildConfigFlags(verifyCmd.Flags(), verifier.Config)
	return verifyCmd
}

func newPartitionsCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	lister := ctl.NewPartitionsCommand(stdin, stdout, stderr)
	partsCmd := &cobra.Command{
		Use:   "partitions",
		Short: "List the partitions a run would process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return lister.Run(context.Background())
		},
	}
	flags := partsCmd.Flags()
	ctl.BuildConfigFlags(flags, lister.Config)
	flags.BoolVar(&lister.Count, "count", false, "Ask the source for each partition's record count.")
	return partsCmd
}

func newConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	conf := ctl.NewConfigCommand(stdin, stdout, stderr)
	confCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		Long: `config prints the configuration, after applying flags, environment
and config file, as TOML to stdout. Secrets are masked.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return conf.Run(context.Background())
		},
	}
	ctl.BuildConfigFlags(confCmd.Flags(), conf.Config)
	return confCmd
}
