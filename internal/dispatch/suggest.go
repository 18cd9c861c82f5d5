package dispatch

import "sort"

// suggest returns a short, comma-joined list of the known names most
// similar to name, for the NotFound error message. Returns
// "(no tools registered)" if candidates is empty.
func suggest(name string, candidates []string) string {
	if len(candidates) == 0 {
		return "(no tools registered)"
	}

	type scored struct {
		name string
		dist int
	}
	scores := make([]scored, len(candidates))
	for i, c := range candidates {
		scores[i] = scored{c, levenshtein(name, c)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist != scores[j].dist {
			return scores[i].dist < scores[j].dist
		}
		return scores[i].name < scores[j].name
	})

	limit := 3
	if limit > len(scores) {
		limit = len(scores)
	}
	out := ""
	for i := 0; i < limit; i++ {
		if i > 0 {
			out += ", "
		}
		out += scores[i].name
	}
	return out
}

// levenshtein computes the edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
