package ctl

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/table"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/ingest"
)

// writeSummary prints one row per partition, the totals and the partitions
// that need another run.
func writeSummary(w io.Writer, sum *ingest.Summary) {
	t := newTable(w)
	t.AppendHeader(table.Row{"partition", "status", "cursor", "fetched", "written", "skipped", "duplicates", "failed", "verified", "error"})
	for _, r := range sum.Partitions {
		status := string(r.Status)
		switch {
		case r.AlreadyCompleted:
			status += " (earlier run)"
		case r.Capped:
			status += " (capped)"
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Partition.String(), status, r.Cursor, r.Fetched, r.Written(), r.Skipped, r.Duplicates, r.Failed, verifyText(r), errText})
	}
	tot := sum.Totals()
	t.AppendFooter(table.Row{"total", "", "", tot.Fetched, tot.Written(), tot.Skipped, tot.Duplicates, tot.Failed, "", ""})
	t.Render()

	fmt.Fprintf(w, "run %s: %d completed, %d in progress, %d failed in %s\n", sum.RunID,
		sum.Count(parcelsync.StatusCompleted), sum.Count(parcelsync.StatusInProgress), sum.Count(parcelsync.StatusFailed),
		sum.Finished.Sub(sum.Started).Round(time.Millisecond))
	if st := sum.Limiter; st.Acquired > 0 {
		fmt.Fprintf(w, "source requests: %d, throttled %d times, waited %s\n", st.Acquired, st.Throttles, st.Waited)
	}
	if sum.Interrupted {
		fmt.Fprintln(w, "interrupted: run again to resume from the last checkpoints")
	}
	if rerun := sum.NeedsRerun(); len(rerun) > 0 {
		ids := make([]string, len(rerun))
		for i, p := range rerun {
			ids[i] = string(p.ID)
		}
		fmt.Fprintf(w, "needs re-run: %s\n", strings.Join(ids, ","))
	}
}

func verifyText(r ingest.PartitionResult) string {
	if !r.Verified {
		return "-"
	}
	if r.VerifyOK {
		return fmt.Sprintf("ok %d/%d", r.Actual, r.ExpectedMin)
	}
	return fmt.Sprintf("SHORT %d/%d", r.Actual, r.ExpectedMin)
}
