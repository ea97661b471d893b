// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains the parcelsync subcommand definitions.

Each new*Command function returns a cobra.Command wrapping one of the ctl
commands. Flags, environment variables (PARCELSYNC_*) and an optional TOML
file given with --config are merged by viper before the command runs, flags
taking precedence over the environment and the environment over the file.

The run command's ctl instance is global and exported so that it can be
inspected from tests.
*/
package cmd
