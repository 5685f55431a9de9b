package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobstore/internal/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge near-duplicate live records into canonical rows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := merge.NewService(st, newDetector(), cfg.Ingest.RetryAttempts).Run(ctx)
		if err != nil {
			return eris.Wrap(err, "merge")
		}
		return render(os.Stdout, output, res, func(w io.Writer) { formatPassResult(w, res) })
	},
}

func init() {
	mergeCmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")
	rootCmd.AddCommand(mergeCmd)
}
