package clustered

import (
	"sort"

	"context"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
)

// VectorSearch has no native index to lean on (this Dolt version has no
// vector type), so it scans the namespace and scores with
// storage.CosineSimilarity, same brute-force approach as the embedded
// backend. Acceptable at the table sizes this memory substrate expects;
// revisit if a namespace grows past a few hundred thousand rows.
func (s *Store) VectorSearch(ctx context.Context, ns storage.Namespace, vector []float32, k int, filter storage.Filter) ([]storage.SearchHit, error) {
	if len(vector) == 0 {
		return nil, apperr.Wrap("vector_search", apperr.ErrInvalidArgument)
	}
	if k <= 0 {
		return nil, nil
	}

	it, err := s.Scan(ctx, ns, filter)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var hits []storage.SearchHit
	for it.Next(ctx) {
		rec := it.Record()
		if len(rec.Embedding) == 0 {
			continue
		}
		if len(rec.Embedding) != len(vector) {
			return nil, apperr.Wrap("vector_search", apperr.ErrEmbeddingDimMismatch)
		}
		score := storage.CosineSimilarity(vector, rec.Embedding)
		hits = append(hits, storage.SearchHit{ID: rec.ID, SemanticScore: &score, CombinedScore: score, Record: rec})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	sortHitsDesc(hits)
	return topK(hits, k), nil
}

// LexicalSearch builds a BM25 corpus from a full table scan since Dolt
// has no full-text index to query natively. Fine for the corpus sizes
// this substrate handles per project; an FTS-backed engine should
// prefer the embedded backend for large lexical workloads.
func (s *Store) LexicalSearch(ctx context.Context, ns storage.Namespace, query string, k int, filter storage.Filter) ([]storage.SearchHit, error) {
	if query == "" {
		return nil, nil
	}
	if !searchableNamespaces[ns] {
		return nil, apperr.Wrapf(apperr.ErrInvalidArgument, "namespace %s is not lexically searchable", ns)
	}
	if k <= 0 {
		return nil, nil
	}

	it, err := s.Scan(ctx, ns, filter)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	corpus := storage.NewBM25Corpus()
	byID := map[int64]storage.Record{}
	for it.Next(ctx) {
		rec := it.Record()
		corpus.Add(rec.ID, rec.Content)
		byID[rec.ID] = rec
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	var hits []storage.SearchHit
	for _, r := range corpus.Score(query) {
		rec, ok := byID[r.ID]
		if !ok {
			continue
		}
		score := r.Score
		hits = append(hits, storage.SearchHit{ID: rec.ID, LexicalScore: &score, CombinedScore: score, Record: rec})
	}
	return topK(hits, k), nil
}

// HybridSearch composes the two searches above via reciprocal rank
// fusion, same as the embedded backend, choosing to compose rather than
// rely on any backend-native combined scoring.
func (s *Store) HybridSearch(ctx context.Context, ns storage.Namespace, vector []float32, queryText string, k int, filter storage.Filter, minSimilarity float64) ([]storage.SearchHit, error) {
	var vecHits, lexHits []storage.SearchHit
	var err error

	if len(vector) > 0 {
		vecHits, err = s.VectorSearch(ctx, ns, vector, k*4, filter)
		if err != nil {
			return nil, err
		}
		if minSimilarity > 0 {
			vecHits = filterMinSimilarity(vecHits, minSimilarity)
		}
	}
	if queryText != "" && searchableNamespaces[ns] {
		lexHits, err = s.LexicalSearch(ctx, ns, queryText, k*4, filter)
		if err != nil {
			return nil, err
		}
	}
	return storage.FuseRRF(vecHits, lexHits, k), nil
}

func filterMinSimilarity(hits []storage.SearchHit, min float64) []storage.SearchHit {
	var out []storage.SearchHit
	for _, h := range hits {
		if h.SemanticScore != nil && *h.SemanticScore >= min {
			out = append(out, h)
		}
	}
	return out
}

func sortHitsDesc(hits []storage.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].CombinedScore != hits[j].CombinedScore {
			return hits[i].CombinedScore > hits[j].CombinedScore
		}
		return hits[i].ID < hits[j].ID
	})
}

func topK(hits []storage.SearchHit, k int) []storage.SearchHit {
	if k <= 0 {
		return nil
	}
	if len(hits) > k {
		return hits[:k]
	}
	return hits
}
