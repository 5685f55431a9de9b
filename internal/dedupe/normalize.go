// Package dedupe implements the tiered duplicate-matching cascade used by the
// ingestion pipeline (against stored rows) and the merge pass (in memory).
package dedupe

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/jobstore/internal/model"
)

// trackingParams lists query keys that identify a referral or campaign rather
// than the posting itself. Keys starting with utm_ are always dropped.
var trackingParams = map[string]bool{
	"gclid":      true,
	"fbclid":     true,
	"msclkid":    true,
	"mc_cid":     true,
	"mc_eid":     true,
	"mkt_tok":    true,
	"ref":        true,
	"refid":      true,
	"referrer":   true,
	"trk":        true,
	"trkinfo":    true,
	"trackingid": true,
	"src":        true,
	"from":       true,
	"_hsenc":     true,
	"_hsmi":      true,
}

var folder = cases.Fold()

// NormalizeURL returns the identity key for a posting URL: lower-cased,
// fragment dropped, tracking parameters stripped, remaining parameters sorted
// and the trailing slash removed. Empty input yields "".
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || trackingParams[lk] {
			q.Del(k)
		}
	}

	// LinkedIn search-result URLs carry the posting id in currentJobId and
	// everything else is session noise.
	if strings.HasSuffix(u.Host, "linkedin.com") {
		keep := url.Values{}
		if v := q.Get("currentJobId"); v != "" {
			keep.Set("currentJobId", v)
		}
		q = keep
	}

	u.RawQuery = q.Encode()
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return strings.ToLower(u.String())
}

// NormalizeText folds case, strips diacritics and punctuation, and collapses
// whitespace. It is used for title, company and location keys.
func NormalizeText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}
	s = folder.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '&':
			b.WriteString(" and ")
		case r == '+' || r == '#':
			// keep "c++" and "c#" distinct from "c"
			b.WriteRune(r)
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// ApplyKeys derives the persisted match keys from the record's descriptive
// fields. Whitespace-only inputs yield empty keys, which never match.
func ApplyKeys(r *model.JobRecord) {
	r.URLKey = NormalizeURL(r.URL)
	r.TitleKey = NormalizeText(r.Title)
	r.CompanyKey = NormalizeText(r.Company)
	r.LocationKey = NormalizeText(r.Location)
}
