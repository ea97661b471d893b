// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/ingest"
	toml "github.com/pelletier/go-toml"
)

// ConfigCommand represents a command for printing the effective config.
type ConfigCommand struct {
	*parcelsync.CmdIO
	Config *ingest.Config
}

// NewConfigCommand returns a new instance of ConfigCommand.
func NewConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *ConfigCommand {
	return &ConfigCommand{
		CmdIO:  parcelsync.NewCmdIO(stdin, stdout, stderr),
		Config: ingest.NewConfig(),
	}
}

// Run prints the config as TOML. Secrets are masked.
func (cmd *ConfigCommand) Run(_ context.Context) error {
	c := *cmd.Config
	if c.Source.APIKey != "" {
		c.Source.APIKey = "********"
	}
	if c.Destination.DSN != "" {
		c.Destination.DSN = "********"
	}
	buf, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Stdout, string(buf))
	return nil
}
