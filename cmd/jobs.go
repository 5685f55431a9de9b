package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/query"
)

// -- list --

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List live job records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}
		f, err := filterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobs, err := query.NewService(st).List(ctx, f)
		if err != nil {
			return eris.Wrap(err, "list")
		}
		if len(jobs) == 0 && output == outputTable {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}
		return render(os.Stdout, output, jobs, func(w io.Writer) { formatJobs(w, jobs) })
	},
}

func filterFromFlags(cmd *cobra.Command) (query.Filter, error) {
	site, _ := cmd.Flags().GetString("site")
	search, _ := cmd.Flags().GetString("search")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	f := query.Filter{
		Site:   site,
		Search: search,
		Status: model.JobStatus(status),
		Limit:  limit,
		Offset: offset,
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, eris.Errorf("unknown status %q (new, processed, applied, merged)", status)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return f, eris.New("limit and offset must not be negative")
	}
	return f, nil
}

// -- get --

var getCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if output == outputTable {
			output = outputJSON
		}
		if err := checkOutput(output); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get")
		}
		return render(os.Stdout, output, job, nil)
	},
}

// -- stats --

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over live records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}
		window, _ := cmd.Flags().GetDuration("window")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := query.NewService(st).Stats(ctx, window)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		return render(os.Stdout, output, stats, func(w io.Writer) { formatStats(w, stats) })
	},
}

// -- purge --

var purgeCmd = &cobra.Command{
	Use:   "purge <job-id>...",
	Short: "Delete job records and the rows merged into them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var total int64
		for _, id := range args {
			n, err := st.DeleteJob(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "purge %s", id)
			}
			if n == 0 {
				fmt.Fprintf(os.Stderr, "%s: not found\n", id)
			}
			total += n
		}
		fmt.Fprintf(os.Stdout, "Deleted %d row(s).\n", total)
		return nil
	},
}

// -- sweep --

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete records not observed within the retention window",
	Long:  "Deletes records whose last observation is older than the retention window. Applied records are kept.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		days, _ := cmd.Flags().GetInt("days")
		window := cfg.Retention.Window()
		if days > 0 {
			window = time.Duration(days) * 24 * time.Hour
		}
		if window <= 0 {
			return eris.New("sweep: retention window must be positive")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cutoff := time.Now().Add(-window)
		n, err := st.SweepOlderThan(ctx, cutoff)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}
		fmt.Fprintf(os.Stdout, "Swept %d record(s) observed before %s.\n", n, cutoff.UTC().Format(time.RFC3339))
		return nil
	},
}

func init() {
	listCmd.Flags().String("site", "", "filter by source site")
	listCmd.Flags().String("search", "", "case-insensitive search over title, company and summary")
	listCmd.Flags().String("status", "", "filter by status (new, processed, applied, merged)")
	listCmd.Flags().Int("limit", 50, "max number of jobs to display")
	listCmd.Flags().Int("offset", 0, "number of jobs to skip")
	listCmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")

	getCmd.Flags().StringP("output", "o", outputJSON, "output format (json, yaml)")

	statsCmd.Flags().Duration("window", 7*24*time.Hour, "recent-activity window (e.g. 24h, 168h)")
	statsCmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")

	sweepCmd.Flags().Int("days", 0, "retention window in days (default from config)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(sweepCmd)
}
