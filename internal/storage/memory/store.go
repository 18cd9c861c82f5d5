// Package memory implements storage.Storage entirely in-process, for
// unit tests and the "memory" storage_backend option. It has no
// durability and is not used in production deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
)

type namespaceData struct {
	mu      sync.RWMutex
	records map[int64]storage.Record
	nextID  int64
	lexical map[int64]string // ns-local copy for lexical scoring
}

// Store is an in-memory Storage implementation, guarded by one RWMutex
// per namespace so namespaces don't contend with each other.
type Store struct {
	mu   sync.Mutex
	nses map[storage.Namespace]*namespaceData
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{nses: make(map[storage.Namespace]*namespaceData)}
}

func (s *Store) ns(n storage.Namespace) *namespaceData {
	s.mu.Lock()
	defer s.mu.Unlock()
	nd, ok := s.nses[n]
	if !ok {
		nd = &namespaceData{records: make(map[int64]storage.Record), lexical: make(map[int64]string)}
		s.nses[n] = nd
	}
	return nd
}

func (s *Store) Put(_ context.Context, n storage.Namespace, rec storage.Record) (int64, error) {
	nd := s.ns(n)
	nd.mu.Lock()
	defer nd.mu.Unlock()

	if rec.ID == 0 {
		nd.nextID++
		rec.ID = nd.nextID
	} else if rec.ID > nd.nextID {
		nd.nextID = rec.ID
	}
	nd.records[rec.ID] = rec
	if rec.Content != "" {
		nd.lexical[rec.ID] = rec.Content
	}
	return rec.ID, nil
}

func (s *Store) Get(_ context.Context, n storage.Namespace, id int64) (storage.Record, error) {
	nd := s.ns(n)
	nd.mu.RLock()
	defer nd.mu.RUnlock()
	rec, ok := nd.records[id]
	if !ok {
		return storage.Record{}, apperr.Wrapf(apperr.ErrNotFound, "get %s/%d", n, id)
	}
	return rec, nil
}

func (s *Store) Delete(_ context.Context, n storage.Namespace, id int64) error {
	nd := s.ns(n)
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if _, ok := nd.records[id]; !ok {
		return apperr.Wrapf(apperr.ErrNotFound, "delete %s/%d", n, id)
	}
	delete(nd.records, id)
	delete(nd.lexical, id)
	return nil
}

type sliceIterator struct {
	records []storage.Record
	idx     int
}

func (it *sliceIterator) Next(_ context.Context) bool {
	it.idx++
	return it.idx <= len(it.records)
}

func (it *sliceIterator) Record() storage.Record {
	return it.records[it.idx-1]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

func (s *Store) Scan(_ context.Context, n storage.Namespace, filter storage.Filter) (storage.RecordIterator, error) {
	nd := s.ns(n)
	nd.mu.RLock()
	defer nd.mu.RUnlock()

	ids := make([]int64, 0, len(nd.records))
	for id := range nd.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		rec := nd.records[id]
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	return &sliceIterator{records: out}, nil
}

func (s *Store) VectorSearch(_ context.Context, n storage.Namespace, vector []float32, k int, filter storage.Filter) ([]storage.SearchHit, error) {
	if len(vector) == 0 {
		return nil, apperr.Wrap("vector_search", apperr.ErrInvalidArgument)
	}
	nd := s.ns(n)
	nd.mu.RLock()
	defer nd.mu.RUnlock()

	var hits []storage.SearchHit
	for _, rec := range nd.records {
		if !filter.Matches(rec) || len(rec.Embedding) == 0 {
			continue
		}
		if len(rec.Embedding) != len(vector) {
			return nil, apperr.Wrap("vector_search", apperr.ErrEmbeddingDimMismatch)
		}
		score := storage.CosineSimilarity(vector, rec.Embedding)
		hits = append(hits, storage.SearchHit{ID: rec.ID, SemanticScore: &score, CombinedScore: score, Record: rec})
	}
	sortHitsDesc(hits)
	return topK(hits, k), nil
}

func (s *Store) LexicalSearch(_ context.Context, n storage.Namespace, query string, k int, filter storage.Filter) ([]storage.SearchHit, error) {
	nd := s.ns(n)
	nd.mu.RLock()
	defer nd.mu.RUnlock()

	if query == "" {
		return nil, nil
	}

	corpus := buildCorpus(nd, filter)
	results := corpus.Score(query)

	hits := make([]storage.SearchHit, 0, len(results))
	for _, r := range results {
		rec := nd.records[r.ID]
		score := r.Score
		hits = append(hits, storage.SearchHit{ID: r.ID, LexicalScore: &score, CombinedScore: score, Record: rec})
	}
	return topK(hits, k), nil
}

func (s *Store) HybridSearch(ctx context.Context, n storage.Namespace, vector []float32, queryText string, k int, filter storage.Filter, minSimilarity float64) ([]storage.SearchHit, error) {
	var vecHits, lexHits []storage.SearchHit
	var err error

	if len(vector) > 0 {
		vecHits, err = s.VectorSearch(ctx, n, vector, k*4, filter)
		if err != nil {
			return nil, err
		}
		if minSimilarity > 0 {
			vecHits = filterMinSimilarity(vecHits, minSimilarity)
		}
	}
	if queryText != "" {
		lexHits, err = s.LexicalSearch(ctx, n, queryText, k*4, filter)
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

type memTx struct {
	s *Store
}

func (tx *memTx) Put(ctx context.Context, n storage.Namespace, rec storage.Record) (int64, error) {
	return tx.s.Put(ctx, n, rec)
}
func (tx *memTx) Get(ctx context.Context, n storage.Namespace, id int64) (storage.Record, error) {
	return tx.s.Get(ctx, n, id)
}
func (tx *memTx) Delete(ctx context.Context, n storage.Namespace, id int64) error {
	return tx.s.Delete(ctx, n, id)
}
func (tx *memTx) Scan(ctx context.Context, n storage.Namespace, filter storage.Filter) (storage.RecordIterator, error) {
	return tx.s.Scan(ctx, n, filter)
}

// Transaction has no isolation in the in-memory backend: writes are not
// rolled back on error. Callers that need rollback semantics should test
// against internal/storage/sqlite instead, which provides real ACID
// transactions.
func (s *Store) Transaction(ctx context.Context, fn storage.TxFunc) error {
	return fn(ctx, &memTx{s: s})
}

func (s *Store) HealthCheck(_ context.Context) error { return nil }
func (s *Store) Close() error                        { return nil }

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

func buildCorpus(nd *namespaceData, filter storage.Filter) *storage.BM25Corpus {
	c := storage.NewBM25Corpus()
	for id, content := range nd.lexical {
		rec := nd.records[id]
		if !filter.Matches(rec) {
			continue
		}
		c.Add(id, content)
	}
	return c
}
