package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobstore/internal/monitoring"
	"github.com/sells-group/jobstore/internal/query"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one health check and report alerts",
	Long:  "Collects store and dead-letter metrics once, evaluates alert thresholds and optionally delivers alerts to the configured webhook.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}
		send, _ := cmd.Flags().GetBool("send")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		spool, err := openSpool()
		if err != nil {
			return err
		}
		defer spool.Close() //nolint:errcheck

		collector := monitoring.NewCollector(query.NewService(st), spool)
		snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "monitor")
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		report := healthReport{Snapshot: snap, Alerts: alerter.Evaluate(snap)}
		if send {
			report.Sent = alerter.SendAlerts(ctx, report.Alerts)
		}
		return render(os.Stdout, output, report, func(w io.Writer) { formatHealth(w, report) })
	},
}

type healthReport struct {
	Snapshot *monitoring.MetricsSnapshot `json:"snapshot" yaml:"snapshot"`
	Alerts   []monitoring.Alert          `json:"alerts" yaml:"alerts"`
	Sent     int                         `json:"sent" yaml:"sent"`
}

func formatHealth(out io.Writer, r healthReport) {
	_, _ = fmt.Fprintf(out, "Live records: %d (%d observed in last %dh)\n",
		r.Snapshot.LiveTotal, r.Snapshot.Recent, r.Snapshot.LookbackHours)
	_, _ = fmt.Fprintf(out, "DLQ depth:    %d\n", r.Snapshot.DLQDepth)
	if len(r.Alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	for _, a := range r.Alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

// newChecker builds the background alert checker started by serve.
func newChecker(reader monitoring.StatsReader, counter monitoring.DeadLetterCounter) *monitoring.Checker {
	collector := monitoring.NewCollector(reader, counter)
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}

func init() {
	monitorCmd.Flags().Bool("send", false, "deliver triggered alerts to monitoring.webhook_url")
	monitorCmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")
	rootCmd.AddCommand(monitorCmd)
}
