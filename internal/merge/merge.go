package merge

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/model"
)

// Merge consolidates a cluster of duplicate records. The base is the member
// with the highest completeness; ties go to the earliest member so repeated
// merges of the same input are identical. Free text takes the longest value,
// lists are unioned, scores take the maximum, and provenance accumulates
// from every member.
func Merge(cluster []model.JobRecord, now time.Time) model.JobRecord {
	if len(cluster) == 0 {
		return model.JobRecord{}
	}

	base := BaseIndex(cluster)
	out := cluster[base]

	// Copy list fields so the result never aliases an input.
	out.Skills = nil
	out.Keywords = nil
	out.RequiredSkills = nil
	out.Sources = nil
	out.SourceURLs = nil
	out.SourceSites = nil
	out.MatchScore = nil
	out.CompatibilityScore = nil
	out.Confidence = nil
	out.MergedFromCount = 0

	for i := range cluster {
		m := &cluster[i]

		fillEmpty(&out.URL, m.URL)
		fillEmpty(&out.Title, m.Title)
		fillEmpty(&out.Company, m.Company)
		fillEmpty(&out.Location, m.Location)
		fillEmpty(&out.SalaryRange, m.SalaryRange)
		fillEmpty(&out.JobType, m.JobType)
		fillEmpty(&out.ExperienceLevel, m.ExperienceLevel)
		fillEmpty(&out.Site, m.Site)
		fillEmpty(&out.Source, m.Source)

		keepLongest(&out.Description, m.Description)
		keepLongest(&out.Summary, m.Summary)
		keepLongest(&out.Requirements, m.Requirements)
		keepLongest(&out.Benefits, m.Benefits)

		out.Skills = out.Skills.Union(m.Skills)
		out.Keywords = out.Keywords.Union(m.Keywords)
		out.RequiredSkills = out.RequiredSkills.Union(m.RequiredSkills)

		out.MatchScore = maxScore(out.MatchScore, m.MatchScore)
		out.CompatibilityScore = maxScore(out.CompatibilityScore, m.CompatibilityScore)
		out.Confidence = maxScore(out.Confidence, m.Confidence)

		out.Sources = out.Sources.Union(m.Sources).Add(m.Source)
		out.SourceURLs = out.SourceURLs.Union(m.SourceURLs).Add(m.URL)
		out.SourceSites = out.SourceSites.Union(m.SourceSites).Add(m.Site)
		out.MergedFromCount += m.Observations()

		if m.ObservedAt.After(out.ObservedAt) {
			out.ObservedAt = m.ObservedAt
		}
	}

	merged := now.UTC()
	out.MergedAt = &merged
	out.Status = model.JobStatusMerged
	out.DuplicateOf = ""
	out.UpdatedAt = merged
	dedupe.ApplyKeys(&out)
	return out
}

// BaseIndex returns the index of the most complete member, preferring the
// earliest on ties.
func BaseIndex(cluster []model.JobRecord) int {
	best, bestScore := 0, -1.0
	for i := range cluster {
		if s := Completeness(&cluster[i]); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func fillEmpty(dst *string, v string) {
	if isBlank(*dst) && !isBlank(v) {
		*dst = v
	}
}

// keepLongest replaces dst with v when v is strictly longer, so the earliest
// of equally long values wins.
func keepLongest(dst *string, v string) {
	if isBlank(v) {
		return
	}
	if isBlank(*dst) || utf8.RuneCountInString(v) > utf8.RuneCountInString(*dst) {
		*dst = v
	}
}

func maxScore(cur, v *float64) *float64 {
	if v == nil {
		return cur
	}
	if cur == nil || *v > *cur {
		f := *v
		return &f
	}
	return cur
}
