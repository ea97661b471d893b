// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/featurebasedb/parcelsync/ctl"
)

// Runner is global so that tests can control and verify it.
var Runner *ctl.RunCommand

func newRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	Runner = ctl.NewRunCommand(stdin, stdout, stderr)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest partitions into the destination.",
		Long: `run ingests every selected partition, resuming partitions a previous run
left in progress and skipping completed ones. It exits non-zero when more
partitions failed than --max-failed allows.

The first interrupt stops the run at the next request or write, with every
checkpoint intact; a second interrupt exits immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			c := make(chan os.Signal, 2)
			signal.Notify(c, os.Interrupt)
			defer signal.Stop(c)
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case sig := <-c:
					fmt.Fprintf(Runner.Stderr, "Received %s; stopping after in-flight requests...\n", sig)
					cancel()
				case <-done:
					return
				}
				// Second signal causes a hard exit.
				select {
				case <-c:
					os.Exit(1)
				case <-done:
				}
			}()

			return Runner.Run(ctx)
		},
	}
	flags := runCmd.Flags()
	ctl.BuildConfigFlags(flags, Runner.Config)
	flags.StringSliceVar(&Runner.Reset, "reset", nil, "Partitions whose progress is cleared before the run.")
	flags.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "max-parallel" {
			name = "concurrency"
		}
		return pflag.NormalizedName(name)
	})

	return runCmd
}
