package storage

import (
	"math"
	"sort"
	"strings"
)

// BM25 parameters, standard defaults (Robertson/Sparck Jones).
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Corpus is a hand-rolled BM25 inverted-index scorer, exported for
// use by both internal/storage/memory and internal/storage/clustered:
// no pure-Go BM25/full-text library is wired into go.mod, and Dolt/MySQL
// (the clustered engine) has no native FTS extension available either.
// The embedded engine uses modernc.org/sqlite's FTS5 bm25() instead,
// which is a genuine library feature rather than this fallback.
type BM25Corpus struct {
	docs   map[int64][]string
	df     map[string]int
	avgLen float64
	totalN int
}

// NewBM25Corpus returns an empty scorer.
func NewBM25Corpus() *BM25Corpus {
	return &BM25Corpus{docs: make(map[int64][]string), df: make(map[string]int)}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// Add indexes one document's content under id, replacing any prior entry.
func (c *BM25Corpus) Add(id int64, content string) {
	if _, exists := c.docs[id]; exists {
		c.Remove(id)
	}
	terms := tokenize(content)
	c.docs[id] = terms
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		if !seen[t] {
			c.df[t]++
			seen[t] = true
		}
	}
	c.totalN++
	c.recomputeAvgLen()
}

// Remove drops a document from the corpus.
func (c *BM25Corpus) Remove(id int64) {
	terms, ok := c.docs[id]
	if !ok {
		return
	}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		if !seen[t] {
			c.df[t]--
			if c.df[t] <= 0 {
				delete(c.df, t)
			}
			seen[t] = true
		}
	}
	delete(c.docs, id)
	c.totalN--
	c.recomputeAvgLen()
}

func (c *BM25Corpus) recomputeAvgLen() {
	if c.totalN == 0 {
		c.avgLen = 0
		return
	}
	var sum int
	for _, terms := range c.docs {
		sum += len(terms)
	}
	c.avgLen = float64(sum) / float64(c.totalN)
}

// BM25Result is one scored document from BM25Corpus.Score.
type BM25Result struct {
	ID    int64
	Score float64
}

// Score ranks every document against query, returning results with a
// positive score, sorted descending by score then ascending by id.
func (c *BM25Corpus) Score(query string) []BM25Result {
	qTerms := tokenize(query)
	var results []BM25Result

	for id, terms := range c.docs {
		docLen := float64(len(terms))
		termFreq := make(map[string]int, len(terms))
		for _, t := range terms {
			termFreq[t]++
		}

		var score float64
		for _, qt := range qTerms {
			tf, ok := termFreq[qt]
			if !ok {
				continue
			}
			df := c.df[qt]
			idf := math.Log(1 + (float64(c.totalN)-float64(df)+0.5)/(float64(df)+0.5))
			norm := float64(tf) * (bm25K1 + 1)
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*docLen/maxAvgLen(c.avgLen))
			score += idf * norm / denom
		}
		if score > 0 {
			results = append(results, BM25Result{ID: id, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

func maxAvgLen(avgLen float64) float64 {
	if avgLen == 0 {
		return 1
	}
	return avgLen
}
