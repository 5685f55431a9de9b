// Package merge consolidates clusters of duplicate job records into one
// record and runs the store-wide merge pass.
package merge

import (
	"unicode/utf8"

	"github.com/sells-group/jobstore/internal/model"
)

// Field weights. maxWeight is their sum and normalizes scores into [0, 1].
const (
	weightTitle       = 0.20
	weightCompany     = 0.15
	weightLocation    = 0.10
	weightURL         = 0.10
	weightDescription = 0.15
	weightSummary     = 0.15
	weightSalary      = 0.05
	weightJobType     = 0.04
	weightExperience  = 0.04
	weightRequire     = 0.03
	weightBenefits    = 0.03

	maxWeight = weightTitle + weightCompany + weightLocation + weightURL +
		weightDescription + weightSummary +
		weightSalary + weightJobType + weightExperience + weightRequire + weightBenefits
)

// Completeness returns a weighted measure in [0, 1] of how much useful
// information r carries.
func Completeness(r *model.JobRecord) float64 {
	var score float64
	score += present(r.Title, weightTitle)
	score += present(r.Company, weightCompany)
	score += present(r.Location, weightLocation)
	score += present(r.URL, weightURL)
	score += weightDescription * lengthTier(r.Description)
	score += weightSummary * lengthTier(r.Summary)
	score += present(r.SalaryRange, weightSalary)
	score += present(r.JobType, weightJobType)
	score += present(r.ExperienceLevel, weightExperience)
	score += present(r.Requirements, weightRequire)
	score += present(r.Benefits, weightBenefits)
	return score / maxWeight
}

func present(s string, w float64) float64 {
	if isBlank(s) {
		return 0
	}
	return w
}

// lengthTier scores free text by length in characters.
func lengthTier(s string) float64 {
	if isBlank(s) {
		return 0
	}
	switch n := utf8.RuneCountInString(s); {
	case n > 500:
		return 1.0
	case n > 200:
		return 0.8
	case n > 50:
		return 0.5
	default:
		return 0.2
	}
}
