package merge

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/resilience"
	"github.com/sells-group/jobstore/internal/store"
)

// PassResult summarizes one merge pass.
type PassResult struct {
	Scanned  int           `json:"scanned" yaml:"scanned"`
	Clusters int           `json:"clusters" yaml:"clusters"`
	Merged   int           `json:"merged" yaml:"merged"`
	Absorbed int           `json:"absorbed" yaml:"absorbed"`
	Failed   int           `json:"failed" yaml:"failed"`
	Errors   []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Service runs the store-wide merge pass that resolves duplicates which
// slipped past ingestion (fuzzy titles, concurrent inserts).
type Service struct {
	store    store.Store
	detector *dedupe.Detector
	retry    resilience.RetryConfig
	now      func() time.Time
}

// NewService creates a merge Service.
func NewService(st store.Store, d *dedupe.Detector, retryAttempts int) *Service {
	retry := resilience.WithAttempts(retryAttempts)
	retry.OnRetry = resilience.RetryLogger("merge", "apply")
	return &Service{
		store:    st,
		detector: d,
		retry:    retry,
		now:      time.Now,
	}
}

// Run loads every live row, clusters them and writes each multi-member
// cluster in its own transaction. A failed cluster is recorded and skipped;
// the pass stops early only when ctx is cancelled.
func (s *Service) Run(ctx context.Context) (*PassResult, error) {
	log := zap.L().With(zap.String("component", "merge"))
	start := time.Now()
	res := &PassResult{}

	records, err := s.store.ListLive(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "merge: load live jobs")
	}
	res.Scanned = len(records)

	for i := range records {
		if records[i].TitleKey == "" && records[i].URLKey == "" {
			dedupe.ApplyKeys(&records[i])
		}
	}

	for _, cluster := range Cluster(s.detector, records) {
		if len(cluster) < 2 {
			continue
		}
		res.Clusters++

		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, eris.Wrap(err, "merge: pass cancelled")
		}

		merged, absorbed := s.plan(cluster)
		err := resilience.Do(ctx, s.retry, func(ctx context.Context) error {
			return s.store.WithTx(ctx, func(q db.Querier) error {
				return s.store.ApplyMerge(ctx, q, &merged, absorbed)
			})
		})
		if err != nil {
			kind := resilience.Classify(err)
			res.Failed++
			res.Errors = append(res.Errors, "cluster "+merged.ID+": "+kind.Label())
			log.Error("merge cluster failed",
				zap.String("base_id", merged.ID),
				zap.Strings("absorbed", absorbed),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			continue
		}

		res.Merged++
		res.Absorbed += len(absorbed)
		log.Debug("merged cluster",
			zap.String("base_id", merged.ID),
			zap.Int("size", len(cluster)),
			zap.Int("merged_from_count", merged.MergedFromCount),
		)
	}

	res.Elapsed = time.Since(start)
	log.Info("merge pass complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("clusters", res.Clusters),
		zap.Int("absorbed", res.Absorbed),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// plan merges a cluster and lists the ids the base absorbs.
func (s *Service) plan(cluster []model.JobRecord) (model.JobRecord, []string) {
	merged := Merge(cluster, s.now())
	absorbed := make([]string, 0, len(cluster)-1)
	for i := range cluster {
		if cluster[i].ID != merged.ID {
			absorbed = append(absorbed, cluster[i].ID)
		}
	}
	return merged, absorbed
}
