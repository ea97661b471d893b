package cmd_test

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/cmd"
)

// tExec executes the given `cmd`, which will be writing its output to `w`, and
// can be read from `out`. It will fail the test if the command does not return
// within 10 seconds.
func tExec(t *testing.T, cmd *cobra.Command, out io.Reader, w io.WriteCloser) (output []byte) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		var err error
		output, err = io.ReadAll(out)
		if err != nil {
			panic(err)
		}
		close(done)
	}()
	err := cmd.Execute()
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing cmd's stdout: %v", err)
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Test failed due to command execution timeout")
	}
	return output
}

// ExecNewRootCommand executes the root command with the given arguments and
// returns its output.
func ExecNewRootCommand(t *testing.T, args ...string) string {
	t.Helper()
	out, w := io.Pipe()
	rc := cmd.NewRootCommand(os.Stdin, w, w)
	rc.SetArgs(args)
	output := tExec(t, rc, out, w)
	return string(output)
}

// execErr executes the root command and returns its error.
func execErr(args ...string) error {
	buf := &bytes.Buffer{}
	rc := cmd.NewRootCommand(os.Stdin, buf, buf)
	rc.SetArgs(args)
	return rc.Execute()
}

func TestRootCommand(t *testing.T) {
	outStr := ExecNewRootCommand(t, "--help")
	for _, want := range []string{"Usage:", "Available Commands:", "--help", "run", "reset", "status", "verify"} {
		assert.Contains(t, outStr, want)
	}
}

func TestConfigPriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parcelsync.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
concurrency = 7
page-size = 500
partitions = ["11", "BAKER"]

[source]
url = "https://example.com/FeatureServer/0"

[rate-limit]
per-minute = 20
per-hour = 900

[destination]
table = "parcels"
`), 0644))
	t.Setenv("PARCELSYNC_RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("PARCELSYNC_DESTINATION_DSN", "postgres://secret@db/parcels")

	out := ExecNewRootCommand(t, "config", "--config", path, "--page-size", "250")
	for i, want := range []string{
		"concurrency = 7",              // file
		"page-size = 250",              // flag beats file
		"per-minute = 30",              // env beats file
		"per-hour = 900",               // file
		`table = "parcels"`,            // file, nested
		`partitions = ["11", "BAKER"]`, // file, list
		`url = "https://example.com/FeatureServer/0"`,
		`dsn = "********"`,
	} {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			assert.Contains(t, out, want)
		})
	}
	assert.NotContains(t, out, "secret")
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[source]\nurll = \"x\"\n"), 0644))

	for i, test := range []struct {
		args []string
		err  string
	}{
		{args: []string{"config", "--config", bad}, err: "invalid option in configuration file: source.urll"},
		{args: []string{"config", "--config", filepath.Join(dir, "missing.toml")}, err: "error reading configuration file"},
		{args: []string{"run", "--dry-run"}, err: "dry run"},
		{args: []string{"reset"}, err: "--all"},
		{args: []string{"run", "--concurrency", "0"}, err: "concurrency must be at least 1"},
	} {
		t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
			err := execErr(test.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.err)
		})
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "11.csv"), []byte("PARCEL_ID,OWN_NAME\nA-1,SMITH\nA-2,DOE\n"), 0644))
	progressPath := filepath.Join(dir, "progress.json")

	out := ExecNewRootCommand(t, "run",
		"--source.kind", "csv",
		"--source.dir", dir,
		"--destination.dialect", "sqlite",
		"--destination.dsn", filepath.Join(dir, "parcels.db"),
		"--destination.create-table",
		"--progress", progressPath,
		"--progress-interval", "0s",
		"--partitions", "ALACHUA",
		"--max-parallel", "1",
	)
	assert.Contains(t, out, "11 (ALACHUA)")
	assert.Equal(t, 1, cmd.Runner.Config.Concurrency)
	require.NotNil(t, cmd.Runner.Summary)
	assert.Equal(t, 1, cmd.Runner.Summary.Count(parcelsync.StatusCompleted))
	assert.EqualValues(t, 2, cmd.Runner.Summary.Totals().Inserted)

	out = ExecNewRootCommand(t, "status", "--progress", progressPath)
	assert.True(t, strings.Contains(out, "1 completed"), out)
}
