package main

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobstore/internal/fetcher"
	"github.com/sells-group/jobstore/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source>...",
	Short: "Ingest candidate postings from files or URLs",
	Long: "Loads candidates from local .json, .csv or .xlsx files, http(s):// URLs or ftp:// drops " +
		"and writes them through the deduplicating pipeline. Sources are ingested concurrently.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		output, _ := cmd.Flags().GetString("output")
		if err := checkOutput(output); err != nil {
			return err
		}
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		if chunkSize <= 0 {
			chunkSize = cfg.Ingest.ChunkSize
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Ingest.Concurrency
		}
		noDLQ, _ := cmd.Flags().GetBool("no-dlq")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pipeline := newPipeline(st, nil)
		if !noDLQ {
			spool, err := openSpool()
			if err != nil {
				return err
			}
			defer spool.Close() //nolint:errcheck
			pipeline = newPipeline(st, spool)
		}

		loader := fetcher.NewLoader(fetcher.Options{
			Timeout:           cfg.Fetch.Timeout(),
			UserAgent:         cfg.Fetch.UserAgent,
			MaxRetries:        cfg.Fetch.MaxRetries,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		})

		batch := ingestSources(ctx, loader, pipeline, args, chunkSize, concurrency)
		if err := render(os.Stdout, output, batch, func(w io.Writer) { formatBatch(w, batch) }); err != nil {
			return err
		}
		if batch.Halted {
			return eris.New("ingest halted on a fatal store failure")
		}
		return nil
	},
}

type sourceLoader interface {
	Load(ctx context.Context, src string) ([]map[string]any, error)
}

type batchIngester interface {
	Ingest(ctx context.Context, candidates []map[string]any, chunkSize int) *model.IngestionBatch
}

// ingestSources loads and ingests each source with at most concurrency
// sources in flight, folding every per-source batch into one summary. A
// source that fails to load is reported in the summary and does not stop
// the others.
func ingestSources(ctx context.Context, loader sourceLoader, ing batchIngester, sources []string, chunkSize, concurrency int) *model.IngestionBatch {
	log := zap.L().With(zap.String("component", "ingest"))
	batches := make([]*model.IngestionBatch, len(sources))
	var (
		mu         sync.Mutex
		loadErrors []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, src := range sources {
		g.Go(func() error {
			candidates, err := loader.Load(gctx, src)
			if err != nil {
				log.Error("load source failed", zap.String("source", src), zap.Error(err))
				mu.Lock()
				loadErrors = append(loadErrors, "source "+src+": load failed")
				mu.Unlock()
				return nil
			}
			b := ing.Ingest(gctx, candidates, chunkSize)
			log.Info("source ingested",
				zap.String("source", src),
				zap.String("batch_id", b.BatchID),
				zap.Int("inserted", b.Inserted),
				zap.Int("skipped", b.SkippedDuplicates),
				zap.Int("failed", b.Failed),
			)
			batches[i] = b
			return nil
		})
	}
	_ = g.Wait()

	summary := &model.IngestionBatch{}
	for i, b := range batches {
		if b == nil {
			continue
		}
		if summary.BatchID == "" {
			summary.BatchID = b.BatchID
		}
		if len(sources) > 1 {
			for j := range b.Errors {
				b.Errors[j] = sources[i] + ": " + b.Errors[j]
			}
		}
		summary.Merge(b)
		summary.Elapsed = max(summary.Elapsed, b.Elapsed)
	}
	summary.Errors = append(summary.Errors, loadErrors...)
	return summary
}

func init() {
	ingestCmd.Flags().Int("chunk-size", 0, "records per transaction (default from config)")
	ingestCmd.Flags().Int("concurrency", 0, "sources ingested in parallel (default from config)")
	ingestCmd.Flags().Bool("no-dlq", false, "do not spool store failures to the dead-letter queue")
	ingestCmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")
	rootCmd.AddCommand(ingestCmd)
}
