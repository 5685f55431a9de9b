package ingest

import (
	"strings"

	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/model"
	"github.com/sells-group/jobstore/internal/resilience"
)

// aliases maps each record field onto the candidate keys that may carry it,
// in priority order.
var aliases = map[string][]string{
	"url":                 {"url", "link", "job_url"},
	"title":               {"title", "job_title"},
	"company":             {"company", "company_name"},
	"location":            {"location"},
	"summary":             {"summary"},
	"description":         {"description"},
	"requirements":        {"requirements"},
	"benefits":            {"benefits"},
	"salary_range":        {"salary_range", "salary"},
	"job_type":            {"job_type"},
	"experience_level":    {"experience_level"},
	"skills":              {"skills"},
	"keywords":            {"keywords"},
	"required_skills":     {"required_skills"},
	"site":                {"site", "source_site"},
	"source":              {"source"},
	"match_score":         {"match_score", "score"},
	"compatibility_score": {"compatibility_score"},
	"confidence":          {"confidence"},
	"observed_at":         {"observed_at", "scraped_at"},
}

// lookup returns the first non-empty value among the aliases of field.
func lookup(raw map[string]any, field string) any {
	for _, key := range aliases[field] {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v
	}
	return nil
}

// normalizeKeys lower-cases and trims candidate keys so "Job_Title " and
// "job_title" are the same field.
func normalizeKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		nk := strings.ToLower(strings.TrimSpace(k))
		if _, dup := out[nk]; dup && v == nil {
			continue
		}
		out[nk] = v
	}
	return out
}

// ParseCandidate converts a loosely-typed scraper candidate into a typed
// record with match keys and seed provenance. Unknown keys are ignored.
// A candidate with neither title nor company is rejected.
func ParseCandidate(raw map[string]any) (*model.JobRecord, error) {
	raw = normalizeKeys(raw)
	str := func(field string) string { return model.CoerceString(lookup(raw, field)) }
	score := func(field string) *float64 {
		if f, ok := model.CoerceFloat(lookup(raw, field)); ok {
			return &f
		}
		return nil
	}

	r := &model.JobRecord{
		URL:                str("url"),
		Title:              str("title"),
		Company:            str("company"),
		Location:           str("location"),
		Summary:            str("summary"),
		Description:        str("description"),
		Requirements:       str("requirements"),
		Benefits:           str("benefits"),
		SalaryRange:        str("salary_range"),
		JobType:            str("job_type"),
		ExperienceLevel:    str("experience_level"),
		Skills:             model.CoerceList(lookup(raw, "skills")),
		Keywords:           model.CoerceList(lookup(raw, "keywords")),
		RequiredSkills:     model.CoerceList(lookup(raw, "required_skills")),
		Site:               str("site"),
		Source:             str("source"),
		Status:             model.JobStatusNew,
		MatchScore:         score("match_score"),
		CompatibilityScore: score("compatibility_score"),
		Confidence:         score("confidence"),
		MergedFromCount:    1,
	}
	if ts, ok := model.CoerceTime(lookup(raw, "observed_at")); ok {
		r.ObservedAt = ts
	}

	if r.Title == "" && r.Company == "" {
		return nil, resilience.NewValidationError("title", "title and company are both empty")
	}

	r.Sources = model.NewStringSet(r.Source)
	r.SourceURLs = model.NewStringSet(r.URL)
	r.SourceSites = model.NewStringSet(r.Site)
	dedupe.ApplyKeys(r)
	return r, nil
}
