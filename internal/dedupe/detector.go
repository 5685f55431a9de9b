package dedupe

import (
	"context"

	"github.com/agext/levenshtein"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/jobstore/internal/db"
	"github.com/sells-group/jobstore/internal/model"
)

// Tier names the rule that decided a duplicate match.
type Tier string

const (
	TierNone          Tier = ""
	TierURL           Tier = "url"
	TierTitleCompany  Tier = "title_company"
	TierTitleLocation Tier = "title_location"
	TierFuzzyTitle    Tier = "fuzzy_title"
)

// DefaultTitleSimilarity is the minimum normalized Levenshtein similarity for
// two titles at the same company to be treated as one posting.
const DefaultTitleSimilarity = 0.85

// Match is the result of checking one candidate against stored rows.
type Match struct {
	Tier Tier
	ID   string
}

// Duplicate reports whether any tier matched.
func (m Match) Duplicate() bool { return m.Tier != TierNone }

// Detector decides whether a candidate duplicates a stored or in-memory
// record. Tiers are evaluated in order and the first hit wins; a tier whose
// keys are empty on the candidate is skipped.
type Detector struct {
	similarity float64
}

// Option configures a Detector.
type Option func(*Detector)

// WithTitleSimilarity sets the fuzzy-title threshold. Values outside (0, 1]
// are ignored.
func WithTitleSimilarity(v float64) Option {
	return func(d *Detector) {
		if v > 0 && v <= 1 {
			d.similarity = v
		}
	}
}

// NewDetector returns a Detector with the given options applied.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{similarity: DefaultTitleSimilarity}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ExistingURLs returns, for each URL key already held by a live row, the id
// of that row. One round trip regardless of len(keys).
func (d *Detector) ExistingURLs(ctx context.Context, q db.Querier, keys []string) (map[string]string, error) {
	out := make(map[string]string)
	var want []string
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		want = append(want, k)
	}
	if len(want) == 0 {
		return out, nil
	}

	rows, err := q.Query(ctx,
		`SELECT url_key, id FROM jobs WHERE url_key = ANY($1) AND duplicate_of = ''`, want)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: existing urls")
	}
	defer rows.Close()

	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, eris.Wrap(err, "dedupe: scan existing url")
		}
		out[key] = id
	}
	return out, eris.Wrap(rows.Err(), "dedupe: existing urls rows")
}

// Check runs the stored-row cascade for r: URL, then title+company, then
// title+location when r has no company. r's match keys must already be set.
func (d *Detector) Check(ctx context.Context, q db.Querier, r *model.JobRecord) (Match, error) {
	if r.URLKey != "" {
		id, err := lookup(ctx, q,
			`SELECT id FROM jobs WHERE url_key = $1 AND duplicate_of = '' LIMIT 1`, r.URLKey)
		if err != nil || id != "" {
			return Match{Tier: TierURL, ID: id}.orNone(), err
		}
	}

	if r.TitleKey == "" {
		return Match{}, nil
	}

	if r.CompanyKey != "" {
		id, err := lookup(ctx, q,
			`SELECT id FROM jobs WHERE title_key = $1 AND company_key = $2 AND duplicate_of = '' LIMIT 1`,
			r.TitleKey, r.CompanyKey)
		return Match{Tier: TierTitleCompany, ID: id}.orNone(), err
	}

	if r.LocationKey == "" {
		return Match{}, nil
	}
	id, err := lookup(ctx, q,
		`SELECT id FROM jobs WHERE title_key = $1 AND location_key = $2 AND duplicate_of = '' LIMIT 1`,
		r.TitleKey, r.LocationKey)
	return Match{Tier: TierTitleLocation, ID: id}.orNone(), err
}

func (m Match) orNone() Match {
	if m.ID == "" {
		return Match{}
	}
	return m
}

func lookup(ctx context.Context, q db.Querier, sql string, args ...any) (string, error) {
	var id string
	err := q.QueryRow(ctx, sql, args...).Scan(&id)
	if eris.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "dedupe: lookup")
	}
	return id, nil
}

// Compare applies the cascade to two in-memory records, adding the fuzzy
// title tier on top of the exact ones. It is symmetric.
func (d *Detector) Compare(a, b *model.JobRecord) Tier {
	if a.URLKey != "" && a.URLKey == b.URLKey {
		return TierURL
	}
	if a.TitleKey == "" || b.TitleKey == "" {
		return TierNone
	}

	sameCompany := a.CompanyKey != "" && a.CompanyKey == b.CompanyKey
	if a.TitleKey == b.TitleKey {
		if sameCompany {
			return TierTitleCompany
		}
		if (a.CompanyKey == "" || b.CompanyKey == "") &&
			a.LocationKey != "" && a.LocationKey == b.LocationKey {
			return TierTitleLocation
		}
	}

	if sameCompany && TitleSimilarity(a.TitleKey, b.TitleKey) >= d.similarity {
		return TierFuzzyTitle
	}
	return TierNone
}

// TitleSimilarity returns the normalized Levenshtein similarity of two titles
// in [0, 1]. Inputs are compared as given; pass normalized keys.
func TitleSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}
