package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/jobstore/internal/model"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace", "   ", ""},
		{"lowercases", "HTTPS://Jobs.Example.COM/Role/123", "https://jobs.example.com/role/123"},
		{"trailing slash", "https://jobs.example.com/role/123/", "https://jobs.example.com/role/123"},
		{"drops fragment", "https://jobs.example.com/role/123#apply", "https://jobs.example.com/role/123"},
		{"strips utm", "https://jobs.example.com/role/123?utm_source=x&utm_campaign=y", "https://jobs.example.com/role/123"},
		{"strips click ids", "https://jobs.example.com/r?id=9&gclid=abc&fbclid=def", "https://jobs.example.com/r?id=9"},
		{"sorts params", "https://jobs.example.com/r?b=2&a=1", "https://jobs.example.com/r?a=1&b=2"},
		{"linkedin keeps job id", "https://www.linkedin.com/jobs/search/?currentJobId=42&keywords=go&trk=x", "https://www.linkedin.com/jobs/search?currentjobid=42"},
		{"no host", "Not A URL/", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestNormalizeURL_TrackingVariantsCollide(t *testing.T) {
	a := NormalizeURL("https://boards.example.com/acme/jobs/77?utm_medium=email")
	b := NormalizeURL("https://boards.example.com/acme/jobs/77/?ref=newsletter")
	assert.Equal(t, a, b)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", " \t\n ", ""},
		{"case and spaces", "  Senior   Data  ENGINEER ", "senior data engineer"},
		{"punctuation", "Sr. Data-Engineer (Remote)", "sr data engineer remote"},
		{"diacritics", "Développeur Café", "developpeur cafe"},
		{"ampersand", "Johnson & Johnson", "johnson and johnson"},
		{"keeps c++", "C++ Developer", "c++ developer"},
		{"company suffix kept", "Acme, Inc.", "acme inc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestApplyKeys(t *testing.T) {
	r := &model.JobRecord{
		URL:      "https://x.io/j/1?utm_source=feed",
		Title:    "Backend Engineer",
		Company:  "  ",
		Location: "New York, NY",
	}
	ApplyKeys(r)

	assert.Equal(t, "https://x.io/j/1", r.URLKey)
	assert.Equal(t, "backend engineer", r.TitleKey)
	assert.Empty(t, r.CompanyKey)
	assert.Equal(t, "new york ny", r.LocationKey)
}
