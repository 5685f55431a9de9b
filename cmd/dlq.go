package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/dlq"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay the dead-letter spool",
	Long:  "Candidates that failed for store reasons are spooled locally and can be replayed once the store recovers.",
}

// -- dlq list --

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List spooled candidates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}
		errType, _ := cmd.Flags().GetString("type")
		due, _ := cmd.Flags().GetBool("due")
		limit, _ := cmd.Flags().GetInt("limit")

		spool, err := openSpool()
		if err != nil {
			return err
		}
		defer spool.Close() //nolint:errcheck

		entries, err := spool.List(ctx, dlq.Filter{ErrorType: errType, DueOnly: due, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 && output == outputTable {
			fmt.Fprintln(os.Stderr, "Dead-letter spool is empty.")
			return nil
		}
		return render(os.Stdout, output, entries, func(w io.Writer) { formatDeadLetters(w, entries) })
	},
}

// -- dlq retry --

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay due spooled candidates through the pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		spool, err := openSpool()
		if err != nil {
			return err
		}
		defer spool.Close() //nolint:errcheck

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Replays must not spool again; failures bump the entry's retry count.
		res, err := replayDeadLetters(ctx, spool, newPipeline(st, nil), limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Replayed %d: %d resolved, %d failed.\n", res.Attempted, res.Resolved, res.Failed)
		return nil
	},
}

type deadLetterQueue interface {
	List(ctx context.Context, f dlq.Filter) ([]dlq.Entry, error)
	IncrementRetry(ctx context.Context, id string, lastErr string) error
	Remove(ctx context.Context, id string) error
}

type replayResult struct {
	Attempted int
	Resolved  int
	Failed    int
}

// replayDeadLetters re-ingests each due entry on its own. An entry that is
// inserted or recognised as a duplicate leaves the spool; a failed replay
// pushes its next retry out.
func replayDeadLetters(ctx context.Context, q deadLetterQueue, ing batchIngester, limit int) (replayResult, error) {
	log := zap.L().With(zap.String("component", "dlq"))
	var res replayResult

	entries, err := q.List(ctx, dlq.Filter{DueOnly: true, Limit: limit})
	if err != nil {
		return res, eris.Wrap(err, "dlq retry: list")
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		b := ing.Ingest(ctx, []map[string]any{e.Payload}, 1)
		if b.Failed == 0 && b.Total > 0 {
			if err := q.Remove(ctx, e.ID); err != nil {
				return res, eris.Wrapf(err, "dlq retry: remove %s", e.ID)
			}
			res.Resolved++
			continue
		}

		res.Failed++
		msg := strings.Join(b.Errors, "; ")
		if msg == "" {
			msg = "replay failed"
		}
		log.Warn("dead letter replay failed", zap.String("id", e.ID), zap.String("error", msg))
		if err := q.IncrementRetry(ctx, e.ID, msg); err != nil {
			return res, eris.Wrapf(err, "dlq retry: increment %s", e.ID)
		}
	}
	return res, nil
}

func init() {
	dlqListCmd.Flags().String("type", "", "filter by failure type (transient, fatal)")
	dlqListCmd.Flags().Bool("due", false, "only entries due for retry")
	dlqListCmd.Flags().Int("limit", 100, "max number of entries to display")
	dlqListCmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")

	dlqRetryCmd.Flags().Int("limit", 100, "max number of entries to replay")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
