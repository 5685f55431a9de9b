package model

import "strings"

// StringSet is an ordered set of strings: first-seen order, no duplicates,
// no empty members. Membership is case-insensitive.
type StringSet []string

// NewStringSet builds a StringSet from values, trimming whitespace and
// dropping empties and case-insensitive duplicates.
func NewStringSet(values ...string) StringSet {
	var s StringSet
	return s.Add(values...)
}

// Add returns s with values appended when not already present.
func (s StringSet) Add(values ...string) StringSet {
	seen := make(map[string]bool, len(s)+len(values))
	for _, v := range s {
		seen[strings.ToLower(v)] = true
	}
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		s = append(s, v)
	}
	return s
}

// Union returns the members of s followed by any members of other not in s.
func (s StringSet) Union(other StringSet) StringSet {
	out := make(StringSet, 0, len(s)+len(other))
	out = append(out, s...)
	return out.Add(other...)
}

// Contains reports case-insensitive membership.
func (s StringSet) Contains(v string) bool {
	for _, m := range s {
		if strings.EqualFold(m, v) {
			return true
		}
	}
	return false
}

// Strings returns a non-nil plain slice, suitable for TEXT[] columns.
func (s StringSet) Strings() []string {
	if s == nil {
		return []string{}
	}
	return []string(s)
}
