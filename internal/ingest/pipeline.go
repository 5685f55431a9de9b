// Package ingest implements the chunked, transactional ingestion pipeline
// that turns scraper candidates into canonical job records.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/dlq"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/resilience"
	"github.com/sells-group/jobstore/internal/store"
)

// DefaultChunkSize is the number of candidates written per transaction.
const DefaultChunkSize = 50

// TierUniqueIndex marks a candidate that passed detection but lost an
// insert race to a concurrent chunk.
const TierUniqueIndex = "unique_index"

// DeadLetterSink receives candidates that failed for store reasons.
type DeadLetterSink interface {
	Enqueue(ctx context.Context, e dlq.Entry) error
}

// Pipeline ingests candidate batches. It holds no per-run state, so one
// Pipeline may serve concurrent Ingest calls.
type Pipeline struct {
	store    store.Store
	detector *dedupe.Detector
	retry    resilience.RetryConfig
	dead     DeadLetterSink
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetryAttempts sets the total attempts for a chunk that fails
// transiently.
func WithRetryAttempts(n int) Option {
	return func(p *Pipeline) {
		onRetry := p.retry.OnRetry
		p.retry = resilience.WithAttempts(n)
		p.retry.OnRetry = onRetry
	}
}

// WithRetryConfig replaces the chunk retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// WithDeadLetters spools store-failed candidates to sink.
func WithDeadLetters(sink DeadLetterSink) Option {
	return func(p *Pipeline) { p.dead = sink }
}

// New creates a Pipeline.
func New(st store.Store, d *dedupe.Detector, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		detector: d,
		retry:    resilience.DefaultRetryConfig(),
	}
	p.retry.OnRetry = resilience.RetryLogger("ingest", "chunk")
	for _, o := range opts {
		o(p)
	}
	return p
}

type item struct {
	index int
	raw   map[string]any
	rec   *model.JobRecord
}

// Ingest writes candidates in chunks of chunkSize, one transaction per
// chunk, and always returns a summary.
//
// Per-record problems (validation, a rejected insert) fail only that
// record. A chunk that fails transiently is retried and, if it still fails,
// its members are failed and the run moves on. Any other chunk failure
// rolls the chunk back, fails its members and halts the run. Cancellation
// is honored between chunks.
func (p *Pipeline) Ingest(ctx context.Context, candidates []map[string]any, chunkSize int) *model.IngestionBatch {
	start := time.Now()
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	batch := &model.IngestionBatch{BatchID: uuid.New().String()}
	log := zap.L().With(zap.String("component", "ingest"), zap.String("batch_id", batch.BatchID))

	chunkNo := 0
	for lo := 0; lo < len(candidates); lo += chunkSize {
		if ctx.Err() != nil {
			batch.Cancelled = true
			log.Warn("ingest cancelled between chunks", zap.Int("next_index", lo))
			break
		}
		chunkNo++
		hi := min(lo+chunkSize, len(candidates))

		var (
			outcomes []model.ItemOutcome
			valid    []item
		)
		for i := lo; i < hi; i++ {
			rec, err := ParseCandidate(candidates[i])
			if err != nil {
				outcomes = append(outcomes, model.ItemOutcome{
					Index:     i,
					Outcome:   model.OutcomeFailed,
					ErrorKind: string(resilience.KindValidation),
				})
				batch.Errors = append(batch.Errors,
					fmt.Sprintf("record %d: %s: %s", i, resilience.KindValidation.Label(), err.Error()))
				continue
			}
			valid = append(valid, item{index: i, raw: candidates[i], rec: rec})
		}

		// A started chunk runs to commit or rollback; cancellation only
		// takes effect at the top of the loop.
		written, err := p.writeChunk(context.WithoutCancel(ctx), valid)
		if err == nil {
			outcomes = append(outcomes, written...)
			for _, o := range written {
				if o.Outcome == model.OutcomeFailed {
					batch.Errors = append(batch.Errors,
						fmt.Sprintf("record %d: %s: rejected by store", o.Index, resilience.KindValidation.Label()))
				}
			}
			batch.Chunks++
			recordAll(batch, outcomes)
			continue
		}

		kind := resilience.Classify(err)
		if kind == resilience.KindValidation {
			kind = resilience.KindFatal
		}
		log.Error("chunk failed",
			zap.Int("chunk", chunkNo),
			zap.Int("records", len(valid)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		batch.Errors = append(batch.Errors, fmt.Sprintf("chunk %d: %s", chunkNo, kind.Label()))
		for _, it := range valid {
			outcomes = append(outcomes, model.ItemOutcome{
				Index:     it.index,
				Outcome:   model.OutcomeFailed,
				ErrorKind: string(kind),
			})
		}
		recordAll(batch, outcomes)
		p.spool(ctx, batch.BatchID, valid, kind)

		if ctx.Err() != nil {
			batch.Cancelled = true
			break
		}
		if kind == resilience.KindFatal {
			batch.Halted = true
			var rest []item
			for i := hi; i < len(candidates); i++ {
				rest = append(rest, item{index: i, raw: candidates[i]})
			}
			p.spool(ctx, batch.BatchID, rest, kind)
			log.Error("ingest halted", zap.Int("unprocessed", len(candidates)-hi))
			break
		}
	}

	batch.Elapsed = time.Since(start)
	log.Info("ingest complete",
		zap.Int("total", batch.Total),
		zap.Int("inserted", batch.Inserted),
		zap.Int("skipped_duplicates", batch.SkippedDuplicates),
		zap.Int("failed", batch.Failed),
		zap.Int("chunks", batch.Chunks),
		zap.Bool("halted", batch.Halted),
		zap.Duration("elapsed", batch.Elapsed),
	)
	return batch
}

func recordAll(batch *model.IngestionBatch, outcomes []model.ItemOutcome) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Index < outcomes[j].Index })
	for _, o := range outcomes {
		batch.Record(o)
	}
}

// writeChunk runs one chunk transaction, retrying transient failures. The
// returned outcomes belong to the attempt that committed.
func (p *Pipeline) writeChunk(ctx context.Context, items []item) ([]model.ItemOutcome, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var outcomes []model.ItemOutcome
	err := resilience.Do(ctx, p.retry, func(ctx context.Context) error {
		outcomes = outcomes[:0]
		return p.store.WithTx(ctx, func(q db.Querier) error {
			keys := make([]string, 0, len(items))
			for _, it := range items {
				keys = append(keys, it.rec.URLKey)
			}
			existing, err := p.detector.ExistingURLs(ctx, q, keys)
			if err != nil {
				return err
			}

			for _, it := range items {
				o, err := p.writeOne(ctx, q, it, existing)
				if err != nil {
					return err
				}
				outcomes = append(outcomes, o)
			}
			return nil
		})
	})
	return outcomes, err
}

// writeOne checks and inserts a single record under a savepoint. It returns
// an error only for failures that poison the whole transaction.
func (p *Pipeline) writeOne(ctx context.Context, q db.Querier, it item, existing map[string]string) (model.ItemOutcome, error) {
	o := model.ItemOutcome{Index: it.index}

	if id, ok := existing[it.rec.URLKey]; ok && it.rec.URLKey != "" {
		o.Outcome = model.OutcomeSkippedDuplicate
		o.Tier = string(dedupe.TierURL)
		o.RecordID = id
		return o, nil
	}

	m, err := p.detector.Check(ctx, q, it.rec)
	if err != nil {
		return o, err
	}
	if m.Duplicate() {
		o.Outcome = model.OutcomeSkippedDuplicate
		o.Tier = string(m.Tier)
		o.RecordID = m.ID
		return o, nil
	}

	rec := *it.rec
	err = db.Savepoint(ctx, q, "ingest_record", func() error {
		return p.store.Insert(ctx, q, &rec)
	})
	switch {
	case err == nil:
		o.Outcome = model.OutcomeInserted
		o.RecordID = rec.ID
	case db.IsUniqueViolation(err):
		o.Outcome = model.OutcomeSkippedDuplicate
		o.Tier = TierUniqueIndex
		// The savepoint is rolled back, so the row that won is visible here.
		m, err := p.detector.Check(ctx, q, it.rec)
		if err != nil {
			return o, err
		}
		o.RecordID = m.ID
	case db.IsStatementError(err):
		zap.L().Warn("record rejected by store", zap.Int("index", it.index), zap.Error(err))
		o.Outcome = model.OutcomeFailed
		o.ErrorKind = string(resilience.KindValidation)
	default:
		return o, err
	}
	return o, nil
}

func (p *Pipeline) spool(ctx context.Context, batchID string, items []item, kind resilience.Kind) {
	if p.dead == nil || len(items) == 0 {
		return
	}
	// Spool even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	for _, it := range items {
		e := dlq.Entry{
			BatchID:   batchID,
			Index:     it.index,
			Payload:   it.raw,
			Error:     kind.Label(),
			ErrorType: string(kind),
		}
		if err := p.dead.Enqueue(ctx, e); err != nil {
			zap.L().Error("dead-letter enqueue failed",
				zap.String("batch_id", batchID),
				zap.Int("index", it.index),
				zap.Error(err),
			)
		}
	}
}
