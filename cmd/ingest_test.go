package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobstore/internal/model"
)

type fakeLoader struct {
	sources map[string][]map[string]any
}

func (f *fakeLoader) Load(_ context.Context, src string) ([]map[string]any, error) {
	c, ok := f.sources[src]
	if !ok {
		return nil, errors.New("open " + src + ": no such file or directory")
	}
	return c, nil
}

// countingIngester marks every candidate inserted and tracks peak concurrency.
type countingIngester struct {
	mu       sync.Mutex
	chunks   []int
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingIngester) Ingest(_ context.Context, candidates []map[string]any, chunkSize int) *model.IngestionBatch {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	c.chunks = append(c.chunks, chunkSize)
	c.mu.Unlock()

	b := &model.IngestionBatch{BatchID: fmt.Sprintf("batch-%d", len(candidates)), Elapsed: time.Duration(len(candidates)) * time.Millisecond}
	for i := range candidates {
		b.Record(model.ItemOutcome{Index: i, Outcome: model.OutcomeInserted})
	}
	if len(candidates) == 3 {
		b.Errors = append(b.Errors, "record 2: validation failure: title or company required")
	}
	return b
}

func makeCandidates(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"title": fmt.Sprintf("Engineer %d", i)}
	}
	return out
}

func TestIngestSources_MergesBatches(t *testing.T) {
	loader := &fakeLoader{sources: map[string][]map[string]any{
		"a.json": makeCandidates(2),
		"b.csv":  makeCandidates(3),
	}}
	ing := &countingIngester{}

	batch := ingestSources(context.Background(), loader, ing, []string{"a.json", "b.csv"}, 25, 2)

	assert.Equal(t, 5, batch.Total)
	assert.Equal(t, 5, batch.Inserted)
	assert.Equal(t, "batch-2", batch.BatchID)
	assert.Equal(t, 3*time.Millisecond, batch.Elapsed)
	assert.Equal(t, []string{"b.csv: record 2: validation failure: title or company required"}, batch.Errors)
	assert.ElementsMatch(t, []int{25, 25}, ing.chunks)
}

func TestIngestSources_LoadFailureDoesNotStopOthers(t *testing.T) {
	loader := &fakeLoader{sources: map[string][]map[string]any{
		"good.json": makeCandidates(4),
	}}

	batch := ingestSources(context.Background(), loader, &countingIngester{}, []string{"missing.json", "good.json"}, 50, 4)

	assert.Equal(t, 4, batch.Inserted)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, "source missing.json: load failed", batch.Errors[0])
	assert.NotContains(t, batch.Errors[0], "no such file")
}

func TestIngestSources_SingleSourceErrorsUnprefixed(t *testing.T) {
	loader := &fakeLoader{sources: map[string][]map[string]any{"only.json": makeCandidates(3)}}

	batch := ingestSources(context.Background(), loader, &countingIngester{}, []string{"only.json"}, 50, 1)

	assert.Equal(t, []string{"record 2: validation failure: title or company required"}, batch.Errors)
}

func TestIngestSources_ConcurrencyLimit(t *testing.T) {
	sources := make([]string, 6)
	loader := &fakeLoader{sources: map[string][]map[string]any{}}
	for i := range sources {
		sources[i] = fmt.Sprintf("s%d.json", i)
		loader.sources[sources[i]] = makeCandidates(1)
	}
	ing := &countingIngester{}

	batch := ingestSources(context.Background(), loader, ing, sources, 50, 2)

	assert.Equal(t, 6, batch.Inserted)
	assert.LessOrEqual(t, ing.peak.Load(), int32(2))
}
