package merge

import (
	"github.com/sells-group/jobstore/internal/dedupe"
	"github.com/sells-group/jobstore/internal/model"
)

// Cluster groups records that are transitively duplicates under d.Compare.
// Clusters are ordered by their first member and members keep input order.
// Records must carry match keys.
//
// Only records sharing a URL, title or company key can match under any tier,
// so comparisons are limited to those buckets.
func Cluster(d *dedupe.Detector, records []model.JobRecord) [][]model.JobRecord {
	uf := newUnionFind(len(records))

	buckets := make(map[string][]int)
	for i := range records {
		r := &records[i]
		if r.URLKey != "" {
			buckets["u\x00"+r.URLKey] = append(buckets["u\x00"+r.URLKey], i)
		}
		if r.TitleKey != "" {
			buckets["t\x00"+r.TitleKey] = append(buckets["t\x00"+r.TitleKey], i)
		}
		if r.CompanyKey != "" {
			buckets["c\x00"+r.CompanyKey] = append(buckets["c\x00"+r.CompanyKey], i)
		}
	}

	for _, idx := range buckets {
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				i, j := idx[a], idx[b]
				if uf.find(i) == uf.find(j) {
					continue
				}
				if d.Compare(&records[i], &records[j]) != dedupe.TierNone {
					uf.union(i, j)
				}
			}
		}
	}

	var out [][]model.JobRecord
	pos := make(map[int]int)
	for i := range records {
		root := uf.find(i)
		k, ok := pos[root]
		if !ok {
			k = len(out)
			pos[root] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], records[i])
	}
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
