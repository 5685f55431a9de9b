package model

import "time"

// Outcome is the per-record result of an ingestion attempt.
type Outcome string

const (
	OutcomeInserted         Outcome = "inserted"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeFailed           Outcome = "failed"
)

// ItemOutcome records what happened to one submitted candidate.
type ItemOutcome struct {
	Index     int     `json:"index" yaml:"index"`
	Outcome   Outcome `json:"outcome" yaml:"outcome"`
	Tier      string  `json:"tier,omitempty" yaml:"tier,omitempty"`
	RecordID  string  `json:"record_id,omitempty" yaml:"record_id,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// IngestionBatch summarizes one pipeline run. It is returned to the caller
// and never persisted.
type IngestionBatch struct {
	BatchID           string        `json:"batch_id" yaml:"batch_id"`
	Total             int           `json:"total" yaml:"total"`
	Inserted          int           `json:"inserted" yaml:"inserted"`
	SkippedDuplicates int           `json:"skipped_duplicates" yaml:"skipped_duplicates"`
	Failed            int           `json:"failed" yaml:"failed"`
	Errors            []string      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Elapsed           time.Duration `json:"elapsed" yaml:"elapsed"`
	Chunks            int           `json:"chunks" yaml:"chunks"`
	Halted            bool          `json:"halted,omitempty" yaml:"halted,omitempty"`
	Cancelled         bool          `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Outcomes          []ItemOutcome `json:"outcomes,omitempty" yaml:"outcomes,omitempty"`
}

// Record appends an outcome and updates the aggregate counts.
func (b *IngestionBatch) Record(o ItemOutcome) {
	b.Outcomes = append(b.Outcomes, o)
	b.Total++
	switch o.Outcome {
	case OutcomeInserted:
		b.Inserted++
	case OutcomeSkippedDuplicate:
		b.SkippedDuplicates++
	case OutcomeFailed:
		b.Failed++
	}
}

// Merge folds another batch's counts and outcomes into b. Used when several
// sources are ingested under one logical run.
func (b *IngestionBatch) Merge(other *IngestionBatch) {
	if other == nil {
		return
	}
	b.Total += other.Total
	b.Inserted += other.Inserted
	b.SkippedDuplicates += other.SkippedDuplicates
	b.Failed += other.Failed
	b.Chunks += other.Chunks
	b.Errors = append(b.Errors, other.Errors...)
	b.Outcomes = append(b.Outcomes, other.Outcomes...)
	b.Halted = b.Halted || other.Halted
	b.Cancelled = b.Cancelled || other.Cancelled
}
