// Package semantic implements the semantic memory layer: consolidated
// facts and concepts carrying an embedding for hybrid retrieval over
// storage.Storage's vector/lexical/hybrid search.
package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Embedder produces a vector representation of text. Retrieval and
// ingest both depend on this collaborator interface rather than a
// concrete embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Store is the semantic layer, backed by a generic storage.Storage.
type Store struct {
	db       storage.Storage
	embedder Embedder
}

// New wraps backend as the semantic layer. embedder may be nil; callers
// that never call Recall or StoreWithEmbedding don't need one.
func New(backend storage.Storage, embedder Embedder) *Store {
	return &Store{db: backend, embedder: embedder}
}

func lexicalToken(content string) string {
	fields := strings.Fields(strings.ToLower(content))
	if len(fields) > 32 {
		fields = fields[:32]
	}
	return strings.Join(fields, " ")
}

func toRecord(m *types.SemanticMemory) (storage.Record, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling semantic memory: %w", err)
	}
	return storage.Record{
		ID:        int64(m.ID),
		ProjectID: int64(m.ProjectID),
		Fields: map[string]any{
			"memory_type":  string(m.MemoryType),
			"content_hash": contentHash(m.Content),
		},
		Body:      body,
		Content:   m.Content,
		Embedding: m.Embedding,
	}, nil
}

func fromRecord(rec storage.Record) (*types.SemanticMemory, error) {
	var m types.SemanticMemory
	if err := json.Unmarshal(rec.Body, &m); err != nil {
		return nil, fmt.Errorf("unmarshalling semantic memory %d: %w", rec.ID, err)
	}
	m.ID = types.ID(rec.ID)
	return &m, nil
}

// Store persists a semantic memory. It rejects embeddings with the wrong
// dimension and derives the lexical index token from
// content. Every memory must cite at least one source event unless
// explicitly marked derived.
func (s *Store) Store(ctx context.Context, m *types.SemanticMemory) (types.ID, error) {
	if len(m.Content) > types.MaxSemanticContentBytes {
		return 0, apperr.Wrapf(apperr.ErrInvalidArgument, "semantic memory content exceeds %d bytes", types.MaxSemanticContentBytes)
	}
	if s.embedder != nil && len(m.Embedding) > 0 && len(m.Embedding) != s.embedder.Dimension() {
		return 0, apperr.Wrapf(apperr.ErrEmbeddingDimMismatch, "semantic memory embedding has dim %d, expected %d", len(m.Embedding), s.embedder.Dimension())
	}
	if len(m.SourceEventIDs) == 0 && m.DerivedFromID == 0 {
		return 0, apperr.Wrapf(apperr.ErrInvalidArgument, "semantic memory must cite a source event or be marked derived")
	}

	m.LexicalToken = lexicalToken(m.Content)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.LastAccessed = m.CreatedAt

	rec, err := toRecord(m)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSSemanticMemories, rec)
	if err != nil {
		return 0, fmt.Errorf("storing semantic memory: %w", err)
	}
	return types.ID(id), nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FindByContentHash returns the id of a semantic memory whose content
// hashes to hash, and ok=false if none exists. Used by the consolidation
// pipeline to skip re-promoting a memory it has already created from the
// same cluster content.
func (s *Store) FindByContentHash(ctx context.Context, projectID types.ID, hash string) (types.ID, bool, error) {
	filter := storage.NewFilter(int64(projectID)).With("content_hash", hash)
	it, err := s.db.Scan(ctx, storage.NSSemanticMemories, filter)
	if err != nil {
		return 0, false, fmt.Errorf("checking for existing semantic memory by content hash: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return types.ID(it.Record().ID), true, nil
	}
	return 0, false, it.Err()
}

// Get fetches a semantic memory by id and bumps its access bookkeeping.
func (s *Store) Get(ctx context.Context, id types.ID) (*types.SemanticMemory, error) {
	rec, err := s.db.Get(ctx, storage.NSSemanticMemories, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get semantic memory %d: %w", id, err)
	}
	m, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}
	m.LastAccessed = time.Now()
	m.AccessCount++
	rec2, err := toRecord(m)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Put(ctx, storage.NSSemanticMemories, rec2); err != nil {
		return nil, fmt.Errorf("updating access bookkeeping for semantic memory %d: %w", id, err)
	}
	return m, nil
}

// Delete removes a semantic memory.
func (s *Store) Delete(ctx context.Context, id types.ID) error {
	if err := s.db.Delete(ctx, storage.NSSemanticMemories, int64(id)); err != nil {
		return fmt.Errorf("delete semantic memory %d: %w", id, err)
	}
	return nil
}

// SearchVector ranks semantic memories by cosine similarity to vector.
func (s *Store) SearchVector(ctx context.Context, projectID types.ID, vector []float32, k int) ([]*types.SemanticMemory, error) {
	hits, err := s.db.VectorSearch(ctx, storage.NSSemanticMemories, vector, k, storage.NewFilter(int64(projectID)))
	if err != nil {
		return nil, fmt.Errorf("searching semantic memories by vector: %w", err)
	}
	return hitsToMemories(hits)
}

// SearchLexical ranks semantic memories by BM25 relevance to text.
func (s *Store) SearchLexical(ctx context.Context, projectID types.ID, text string, k int) ([]*types.SemanticMemory, error) {
	hits, err := s.db.LexicalSearch(ctx, storage.NSSemanticMemories, text, k, storage.NewFilter(int64(projectID)))
	if err != nil {
		return nil, fmt.Errorf("searching semantic memories lexically: %w", err)
	}
	return hitsToMemories(hits)
}

// Recall embeds queryText and performs a hybrid_search over semantic
// memory.
func (s *Store) Recall(ctx context.Context, projectID types.ID, queryText string, k int) ([]*types.SemanticMemory, error) {
	if s.embedder == nil {
		return nil, apperr.Wrap("recall", apperr.ErrEmbeddingUnavailable)
	}
	vector, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, apperr.Wrap("recall: embedding query", apperr.ErrEmbeddingUnavailable)
	}
	hits, err := s.db.HybridSearch(ctx, storage.NSSemanticMemories, vector, queryText, k, storage.NewFilter(int64(projectID)), 0)
	if err != nil {
		return nil, fmt.Errorf("recall: hybrid search: %w", err)
	}
	return hitsToMemories(hits)
}

func hitsToMemories(hits []storage.SearchHit) ([]*types.SemanticMemory, error) {
	out := make([]*types.SemanticMemory, 0, len(hits))
	for _, h := range hits {
		m, err := fromRecord(h.Record)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
