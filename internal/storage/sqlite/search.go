package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
)

// VectorSearch brute-force scans embeddings and ranks by cosine
// similarity. No vector-index extension for modernc.org/sqlite exists
// in the retrieved pack (DESIGN.md documents the search); this is the
// one place the embedded backend falls back to a Go loop instead of a
// library feature.
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
		return nil, wrapDBError("vector_search", err)
	}

	sortHitsDesc(hits)
	return topK(hits, k), nil
}

// LexicalSearch uses the namespace's FTS5 shadow table and its built-in
// bm25() ranking function — a genuine library feature of
// modernc.org/sqlite, not a hand-rolled scorer.
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

	fts := ftsTableName(ns)
	tbl := tableName(ns)
	// bm25() returns a negative score where more-negative is a better
	// match; negate it so higher is better, matching vector scores.
	// #nosec G201 - fts/tbl are drawn from the fixed namespaces table, not user input.
	q := fmt.Sprintf(`
		SELECT t.id, t.project_id, t.fields, t.body, t.content, t.embedding, -bm25(f) AS score
		FROM %s f
		JOIN %s t ON t.id = f.rowid
		WHERE f.content MATCH ?
		ORDER BY score DESC
		LIMIT ?`, fts, tbl)

	rows, err := s.db.QueryContext(ctx, q, query, k*4)
	if err != nil {
		return nil, wrapDBError("lexical_search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []storage.SearchHit
	for rows.Next() {
		rec, score, err := scanSearchRow(rows, ns)
		if err != nil {
			return nil, wrapDBError("lexical_search: scan", err)
		}
		if !filter.Matches(rec) {
			continue
		}
		hits = append(hits, storage.SearchHit{ID: rec.ID, LexicalScore: &score, CombinedScore: score, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("lexical_search: iterate", err)
	}

	return topK(hits, k), nil
}

func scanSearchRow(rows interface{ Scan(...any) error }, ns storage.Namespace) (storage.Record, float64, error) {
	var (
		id, projectID int64
		fieldsJSON    string
		body          []byte
		content       string
		embeddingRaw  []byte
		score         float64
	)
	if err := rows.Scan(&id, &projectID, &fieldsJSON, &body, &content, &embeddingRaw, &score); err != nil {
		return storage.Record{}, 0, err
	}
	return storage.Record{
		ID:        id,
		ProjectID: projectID,
		Fields:    decodeFields(fieldsJSON),
		Body:      body,
		Content:   content,
		Embedding: decodeEmbedding(embeddingRaw),
	}, score, nil
}

// HybridSearch composes vector_search and lexical_search via
// Reciprocal Rank Fusion, since SQLite's FTS5 bm25() and a brute-force
// cosine scan have no shared native ranking function to call instead.
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
