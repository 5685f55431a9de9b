// Package model defines the canonical job record and ingestion result types.
package model

import "time"

// JobStatus represents the lifecycle state of a stored job record.
type JobStatus string

const (
	JobStatusNew       JobStatus = "new"
	JobStatusProcessed JobStatus = "processed"
	JobStatusApplied   JobStatus = "applied"
	JobStatusMerged    JobStatus = "merged" // absorbed other rows; terminal
)

// statusRank orders the forward-only statuses. Merged sits outside the chain.
var statusRank = map[JobStatus]int{
	JobStatusNew:       0,
	JobStatusProcessed: 1,
	JobStatusApplied:   2,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	if s == JobStatusMerged {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a record may move from s to next.
// Statuses only advance along new -> processed -> applied; merged is reachable
// from any non-terminal state and nothing leaves it.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if !next.Valid() || s == JobStatusMerged {
		return false
	}
	if next == JobStatusMerged {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	return statusRank[next] >= from
}

// Predecessors returns every status from which next may be reached.
func (next JobStatus) Predecessors() []JobStatus {
	var out []JobStatus
	for _, s := range []JobStatus{JobStatusNew, JobStatusProcessed, JobStatusApplied, JobStatusMerged} {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// JobRecord is the canonical, deduplicated representation of a job posting.
type JobRecord struct {
	ID     string `json:"id" yaml:"id"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`
	URLKey string `json:"-" yaml:"-"`

	Title           string `json:"title,omitempty" yaml:"title,omitempty"`
	Company         string `json:"company,omitempty" yaml:"company,omitempty"`
	Location        string `json:"location,omitempty" yaml:"location,omitempty"`
	Summary         string `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	Requirements    string `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Benefits        string `json:"benefits,omitempty" yaml:"benefits,omitempty"`
	SalaryRange     string `json:"salary_range,omitempty" yaml:"salary_range,omitempty"`
	JobType         string `json:"job_type,omitempty" yaml:"job_type,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty" yaml:"experience_level,omitempty"`

	Skills         StringSet `json:"skills,omitempty" yaml:"skills,omitempty"`
	Keywords       StringSet `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	RequiredSkills StringSet `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`

	Site   string    `json:"site,omitempty" yaml:"site,omitempty"`
	Source string    `json:"source,omitempty" yaml:"source,omitempty"`
	Status JobStatus `json:"status" yaml:"status"`

	MatchScore         *float64 `json:"match_score,omitempty" yaml:"match_score,omitempty"`
	CompatibilityScore *float64 `json:"compatibility_score,omitempty" yaml:"compatibility_score,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`

	Sources         StringSet  `json:"sources,omitempty" yaml:"sources,omitempty"`
	SourceURLs      StringSet  `json:"source_urls,omitempty" yaml:"source_urls,omitempty"`
	SourceSites     StringSet  `json:"source_sites,omitempty" yaml:"source_sites,omitempty"`
	MergedFromCount int        `json:"merged_from_count" yaml:"merged_from_count"`
	MergedAt        *time.Time `json:"merged_at,omitempty" yaml:"merged_at,omitempty"`
	DuplicateOf     string     `json:"duplicate_of,omitempty" yaml:"duplicate_of,omitempty"`

	// Match keys, derived from the descriptive fields at the ingestion boundary.
	TitleKey    string `json:"-" yaml:"-"`
	CompanyKey  string `json:"-" yaml:"-"`
	LocationKey string `json:"-" yaml:"-"`

	ObservedAt time.Time `json:"observed_at" yaml:"observed_at"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// Superseded reports whether the record has been folded into another row.
func (r *JobRecord) Superseded() bool {
	return r.DuplicateOf != ""
}

// Observations returns the number of original observations this record carries.
func (r *JobRecord) Observations() int {
	if r.MergedFromCount < 1 {
		return 1
	}
	return r.MergedFromCount
}
