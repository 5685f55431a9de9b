package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/jobstore/internal/dlq"
	"github.com/sells-group/jobstore/internal/merge"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/monitoring"
	"github.com/sells-group/jobstore/internal/query"
)

func TestCheckOutput(t *testing.T) {
	for _, f := range []string{"table", "json", "yaml"} {
		assert.NoError(t, checkOutput(f))
	}
	assert.ErrorContains(t, checkOutput("xml"), "unknown output format")
}

func TestRender_Formats(t *testing.T) {
	stats := &query.Stats{
		Total:    4,
		BySite:   map[string]int64{"indeed": 3, "unknown": 1},
		ByStatus: map[string]int64{"new": 4},
		Recent:   2,
		Window:   24 * time.Hour,
	}

	var js bytes.Buffer
	require.NoError(t, render(&js, outputJSON, stats, nil))
	var decoded query.Stats
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, int64(4), decoded.Total)

	var ym bytes.Buffer
	require.NoError(t, render(&ym, outputYAML, stats, nil))
	var out map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &out))
	assert.Equal(t, 4, out["total"])
	assert.Equal(t, "24h0m0s", out["window"])

	var tbl bytes.Buffer
	called := false
	require.NoError(t, render(&tbl, outputTable, stats, func(w io.Writer) {
		called = true
		formatStats(w, stats)
	}))
	assert.True(t, called)
	assert.Contains(t, tbl.String(), "Total live jobs:")
}

func TestFormatStats_SortedKeys(t *testing.T) {
	var buf bytes.Buffer
	formatStats(&buf, &query.Stats{
		Total:    3,
		BySite:   map[string]int64{"zip": 1, "indeed": 2},
		ByStatus: map[string]int64{"processed": 1, "new": 2},
		Recent:   1,
		Window:   7 * 24 * time.Hour,
	})

	out := buf.String()
	assert.Contains(t, out, "Observed in last 168h0m0s:")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("indeed")), bytes.Index(buf.Bytes(), []byte("zip")))
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("new")), bytes.Index(buf.Bytes(), []byte("processed")))
}

func TestFormatBatch(t *testing.T) {
	var buf bytes.Buffer
	formatBatch(&buf, &model.IngestionBatch{
		BatchID:           "5f0c7a9e-0000-0000-0000-000000000000",
		Total:             100,
		Inserted:          90,
		SkippedDuplicates: 9,
		Failed:            1,
		Chunks:            2,
		Elapsed:           1500 * time.Millisecond,
		Errors:            []string{"record 3: validation failure: title or company required"},
	})

	out := buf.String()
	assert.Contains(t, out, "Inserted:")
	assert.Contains(t, out, "90")
	assert.Contains(t, out, "Skipped duplicates:")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "  - record 3: validation failure")
	assert.NotContains(t, out, "Halted")
}

func TestFormatBatch_Halted(t *testing.T) {
	var buf bytes.Buffer
	formatBatch(&buf, &model.IngestionBatch{Halted: true, Errors: []string{"chunk 2: fatal store failure"}})

	assert.Contains(t, buf.String(), "Halted:")
	assert.Contains(t, buf.String(), "chunk 2: fatal store failure")
}

func TestFormatJobs(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatJobs(&buf, []model.JobRecord{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			Title:      "Senior Backend Engineer, Payments Infrastructure Platform",
			Company:    "Acme",
			Site:       "indeed",
			Status:     model.JobStatusNew,
			ObservedAt: now,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "TITLE")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "Senior Backend Engineer, Payments Inf...")
	assert.Contains(t, out, "2026-05-01 09:30")
}

func TestFormatPassResult(t *testing.T) {
	var buf bytes.Buffer
	formatPassResult(&buf, &merge.PassResult{Scanned: 12, Clusters: 3, Merged: 3, Absorbed: 4, Errors: []string{"cluster 2: transient store failure"}})

	out := buf.String()
	assert.Contains(t, out, "Absorbed:")
	assert.Contains(t, out, "cluster 2: transient store failure")
}

func TestFormatDeadLetters(t *testing.T) {
	var buf bytes.Buffer
	formatDeadLetters(&buf, []dlq.Entry{{
		ID:          "11111111-2222-3333-4444-555555555555",
		BatchID:     "66666666-7777-8888-9999-000000000000",
		Index:       4,
		Error:       "transient store failure",
		ErrorType:   "transient",
		RetryCount:  1,
		MaxRetries:  3,
		NextRetryAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}})

	out := buf.String()
	assert.Contains(t, out, "11111111")
	assert.Contains(t, out, "66666666")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "2026-05-01 10:00")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("  a \n b ", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "abc", truncateID("abc"))
	assert.Equal(t, "abcdefgh", truncateID("abcdefghijk"))
}

func TestFormatHealth(t *testing.T) {
	snap := &monitoring.MetricsSnapshot{LiveTotal: 40, Recent: 0, DLQDepth: 12, LookbackHours: 24}

	var buf bytes.Buffer
	formatHealth(&buf, healthReport{Snapshot: snap})
	assert.Contains(t, buf.String(), "Live records: 40 (0 observed in last 24h)")
	assert.Contains(t, buf.String(), "No alerts.")

	buf.Reset()
	formatHealth(&buf, healthReport{Snapshot: snap, Alerts: []monitoring.Alert{
		{Type: monitoring.AlertIngestStalled, Severity: "medium", Message: "No postings observed in last 24h (40 live records)"},
	}})
	assert.Contains(t, buf.String(), "[medium] ingest_stalled: No postings observed")
}
