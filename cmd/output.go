package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/jobstore/internal/dlq"
	"github.com/sells-group/jobstore/internal/merge"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/query"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputTable, outputJSON, outputYAML:
		return nil
	default:
		return eris.Errorf("unknown output format %q (table, json, yaml)", format)
	}
}

// render writes v as json or yaml, or calls table for the default format.
func render(out io.Writer, format string, v any, table func(io.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		table(out)
		return nil
	}
}

// formatBatch writes an ingestion summary to w.
func formatBatch(out io.Writer, b *model.IngestionBatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Batch:\t%s\n", b.BatchID)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", b.Total)
	_, _ = fmt.Fprintf(w, "Inserted:\t%d\n", b.Inserted)
	_, _ = fmt.Fprintf(w, "Skipped duplicates:\t%d\n", b.SkippedDuplicates)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", b.Failed)
	_, _ = fmt.Fprintf(w, "Chunks:\t%d\n", b.Chunks)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", b.Elapsed.Round(time.Millisecond))
	if b.Halted {
		_, _ = fmt.Fprintln(w, "Halted:\tyes")
	}
	if b.Cancelled {
		_, _ = fmt.Fprintln(w, "Cancelled:\tyes")
	}
	_ = w.Flush()

	for _, e := range b.Errors {
		_, _ = fmt.Fprintf(out, "  - %s\n", e)
	}
}

// formatStats writes aggregate store statistics to w.
func formatStats(out io.Writer, s *query.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total live jobs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Observed in last %s:\t%d\n", s.Window, s.Recent)
	_, _ = fmt.Fprintln(w, "By site:\t")
	for _, k := range slices.Sorted(maps.Keys(s.BySite)) {
		_, _ = fmt.Fprintf(w, "  %s\t%d\n", k, s.BySite[k])
	}
	_, _ = fmt.Fprintln(w, "By status:\t")
	for _, k := range slices.Sorted(maps.Keys(s.ByStatus)) {
		_, _ = fmt.Fprintf(w, "  %s\t%d\n", k, s.ByStatus[k])
	}
	_ = w.Flush()
}

// formatJobs writes a tabular list of jobs to w.
func formatJobs(out io.Writer, jobs []model.JobRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tCOMPANY\tSITE\tSTATUS\tOBSERVED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t----\t------\t--------")

	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(j.ID),
			truncate(j.Title, 40),
			truncate(j.Company, 30),
			j.Site,
			j.Status,
			j.ObservedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatPassResult writes a merge pass summary to w.
func formatPassResult(out io.Writer, r *merge.PassResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Scanned:\t%d\n", r.Scanned)
	_, _ = fmt.Fprintf(w, "Clusters:\t%d\n", r.Clusters)
	_, _ = fmt.Fprintf(w, "Merged:\t%d\n", r.Merged)
	_, _ = fmt.Fprintf(w, "Absorbed:\t%d\n", r.Absorbed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", r.Failed)
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", r.Elapsed.Round(time.Millisecond))
	_ = w.Flush()

	for _, e := range r.Errors {
		_, _ = fmt.Fprintf(out, "  - %s\n", e)
	}
}

// formatDeadLetters writes a tabular list of spooled entries to w.
func formatDeadLetters(out io.Writer, entries []dlq.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tBATCH\tINDEX\tTYPE\tRETRIES\tNEXT_RETRY\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t-----\t----\t-------\t----------\t-----")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			truncateID(e.BatchID),
			e.Index,
			e.ErrorType,
			e.RetryCount, e.MaxRetries,
			e.NextRetryAt.Format("2006-01-02 15:04"),
			truncate(e.Error, 50),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
