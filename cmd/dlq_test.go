package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/jobstore/internal/dlq"
	"github.com/sells-group/jobstore/internal/model"
)

// scriptedIngester resolves candidates whose title is in ok and fails the rest.
type scriptedIngester struct {
	ok   map[string]bool
	seen []map[string]any
}

func (s *scriptedIngester) Ingest(_ context.Context, candidates []map[string]any, _ int) *model.IngestionBatch {
	b := &model.IngestionBatch{}
	for i, c := range candidates {
		s.seen = append(s.seen, c)
		title, _ := c["title"].(string)
		if s.ok[title] {
			b.Record(model.ItemOutcome{Index: i, Outcome: model.OutcomeSkippedDuplicate, Tier: "url"})
			continue
		}
		b.Record(model.ItemOutcome{Index: i, Outcome: model.OutcomeFailed, ErrorKind: "transient"})
		b.Errors = append(b.Errors, "chunk 0: transient store failure")
	}
	return b
}

func newTestSpool(t *testing.T) *dlq.Spool {
	t.Helper()
	s, err := dlq.Open(filepath.Join(t.TempDir(), "dlq.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func enqueue(t *testing.T, s *dlq.Spool, id, title string, next time.Time) {
	t.Helper()
	require.NoError(t, s.Enqueue(context.Background(), dlq.Entry{
		ID:          id,
		BatchID:     "batch-1",
		Payload:     map[string]any{"title": title, "company": "Acme"},
		Error:       "transient store failure",
		ErrorType:   "transient",
		NextRetryAt: next,
	}))
}

func TestReplayDeadLetters(t *testing.T) {
	ctx := context.Background()
	s := newTestSpool(t)
	past := time.Now().Add(-time.Minute)
	enqueue(t, s, "e-1", "Engineer", past)
	enqueue(t, s, "e-2", "Analyst", past)
	enqueue(t, s, "e-3", "Designer", time.Now().Add(time.Hour))

	ing := &scriptedIngester{ok: map[string]bool{"Engineer": true}}
	res, err := replayDeadLetters(ctx, s, ing, 10)
	require.NoError(t, err)

	assert.Equal(t, replayResult{Attempted: 2, Resolved: 1, Failed: 1}, res)
	require.Len(t, ing.seen, 2)
	assert.Equal(t, "Acme", ing.seen[0]["company"])

	entries, err := s.List(ctx, dlq.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]dlq.Entry{}
	for _, e := range entries {
		byID[e.ID] = e
	}
	assert.NotContains(t, byID, "e-1")
	assert.Equal(t, 1, byID["e-2"].RetryCount)
	assert.Equal(t, "chunk 0: transient store failure", byID["e-2"].Error)
	assert.True(t, byID["e-2"].NextRetryAt.After(time.Now()))
	assert.Equal(t, 0, byID["e-3"].RetryCount)
}

func TestReplayDeadLetters_Empty(t *testing.T) {
	s := newTestSpool(t)

	res, err := replayDeadLetters(context.Background(), s, &scriptedIngester{}, 10)
	require.NoError(t, err)
	assert.Equal(t, replayResult{}, res)
}

func TestReplayDeadLetters_StopsWhenCancelled(t *testing.T) {
	s := newTestSpool(t)
	enqueue(t, s, "e-1", "Engineer", time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ing := &scriptedIngester{ok: map[string]bool{"Engineer": true}}
	_, _ = replayDeadLetters(ctx, s, ing, 10)

	assert.Empty(t, ing.seen)
}
