// Package meta implements the meta-memory layer: quality tracking and
// gap detection over the other layers, built on an aggregate-statistics
// query shape generalized to cross-layer quality bookkeeping.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Store is the meta-memory layer, backed by a generic storage.Storage.
type Store struct {
	db storage.Storage
}

// New wraps backend as the meta-memory layer.
func New(backend storage.Storage) *Store {
	return &Store{db: backend}
}

func toRecord(e *types.MetaMemoryEntry) (storage.Record, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling meta entry: %w", err)
	}
	return storage.Record{
		ID:        int64(e.ID),
		ProjectID: int64(e.ProjectID),
		Fields: map[string]any{
			"subject_layer": string(e.Subject.Layer),
			"subject_id":    int64(e.Subject.ID),
		},
		Body: body,
	}, nil
}

func fromRecord(rec storage.Record) (*types.MetaMemoryEntry, error) {
	var e types.MetaMemoryEntry
	if err := json.Unmarshal(rec.Body, &e); err != nil {
		return nil, fmt.Errorf("unmarshalling meta entry %d: %w", rec.ID, err)
	}
	e.ID = types.ID(rec.ID)
	return &e, nil
}

// RecordQuality attaches an observed quality score to a layer subject,
// replacing any prior entry for that exact subject.
func (s *Store) RecordQuality(ctx context.Context, projectID types.ID, subject types.SubjectRef, observedQuality float64) (types.ID, error) {
	existing, err := s.findBySubject(ctx, projectID, subject)
	if err != nil {
		return 0, err
	}

	entry := &types.MetaMemoryEntry{
		ProjectID:       projectID,
		Subject:         subject,
		QualityBaseline: types.LayerQualityBaseline[subject.Layer],
		ObservedQuality: observedQuality,
	}
	if existing != nil {
		entry.ID = existing.ID
		entry.Contradictions = existing.Contradictions
		entry.Uncertainties = existing.Uncertainties
		entry.ExpertiseScore = existing.ExpertiseScore
	}

	rec, err := toRecord(entry)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSMetaEntries, rec)
	if err != nil {
		return 0, fmt.Errorf("recording quality: %w", err)
	}
	return types.ID(id), nil
}

// QualityFor returns the observed quality score recorded for subject, and
// ok=false if no quality has ever been recorded for it. Used by the
// cascading recall orchestrator to down-weight low-quality hits.
func (s *Store) QualityFor(ctx context.Context, projectID types.ID, subject types.SubjectRef) (quality float64, ok bool, err error) {
	entry, err := s.findBySubject(ctx, projectID, subject)
	if err != nil {
		return 0, false, err
	}
	if entry == nil {
		return 0, false, nil
	}
	return entry.ObservedQuality, true, nil
}

func (s *Store) findBySubject(ctx context.Context, projectID types.ID, subject types.SubjectRef) (*types.MetaMemoryEntry, error) {
	filter := storage.NewFilter(int64(projectID)).
		With("subject_layer", string(subject.Layer)).
		With("subject_id", int64(subject.ID))
	it, err := s.db.Scan(ctx, storage.NSMetaEntries, filter)
	if err != nil {
		return nil, fmt.Errorf("looking up meta entry: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return fromRecord(it.Record())
	}
	return nil, it.Err()
}

// negationMarkers are the coarse polarity cues the contradiction
// predicate looks for. A memory is "negative polarity" if its content
// contains one of these, case-insensitively.
var negationMarkers = []string{"not ", "never ", "no longer ", "isn't ", "doesn't ", "cannot ", "can't "}

func polarity(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range negationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// contradictionThreshold is the cosine similarity above which two
// semantic memories are considered to be "about the same thing" and
// therefore eligible for a polarity conflict check.
const contradictionThreshold = 0.85

// ContradictionPredicate reports whether two pieces of content
// contradict each other. DetectGaps and the verification gateway's
// Consistency gate both evaluate contradiction and share this contract
// so the two never diverge on what "contradicts" means.
type ContradictionPredicate func(aContent string, aEmbedding []float32, bContent string, bEmbedding []float32) bool

// DefaultContradictionPredicate is the polarity-marker heuristic: two
// items contradict when they are about the same thing (cosine
// similarity above contradictionThreshold, or no embeddings to compare
// at all) and carry opposing negation polarity.
func DefaultContradictionPredicate(aContent string, aEmbedding []float32, bContent string, bEmbedding []float32) bool {
	if len(aEmbedding) > 0 && len(bEmbedding) > 0 {
		if storage.CosineSimilarity(aEmbedding, bEmbedding) < contradictionThreshold {
			return false
		}
	}
	return polarity(aContent) != polarity(bContent)
}

// DetectGaps scans a project's semantic memories for contradictions
// (high-similarity pairs with opposing polarity), flags low-confidence
// memories as uncertainties, and reports a coverage score.
func (s *Store) DetectGaps(ctx context.Context, projectID types.ID) (*types.GapReport, error) {
	memories, err := s.scanSemanticMemories(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := &types.GapReport{}

	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			a, b := memories[i], memories[j]
			if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
				continue
			}
			if !DefaultContradictionPredicate(a.Content, a.Embedding, b.Content, b.Embedding) {
				continue
			}
			sim := storage.CosineSimilarity(a.Embedding, b.Embedding)
			report.Contradictions = append(report.Contradictions, types.Contradiction{
				MemoryAID: a.ID,
				MemoryBID: b.ID,
				Reason:    fmt.Sprintf("similarity %.2f with opposing polarity markers", sim),
			})
		}
	}

	const lowConfidence = 0.4
	for _, m := range memories {
		if m.Confidence > 0 && m.Confidence < lowConfidence {
			report.Uncertainties = append(report.Uncertainties, fmt.Sprintf("memory %d has low confidence %.2f", m.ID, m.Confidence))
		}
	}

	report.Ambiguities = detectAmbiguities(memories)
	report.CoverageScore = coverageScore(memories)

	return report, nil
}

// detectAmbiguities flags groups of 3+ memories sharing the same
// lexical token with no embeddings at all, which the hybrid retrieval
// path cannot disambiguate by vector similarity.
func detectAmbiguities(memories []*types.SemanticMemory) []string {
	byToken := make(map[string]int)
	for _, m := range memories {
		if len(m.Embedding) == 0 && m.LexicalToken != "" {
			byToken[m.LexicalToken]++
		}
	}
	var out []string
	for token, count := range byToken {
		if count >= 3 {
			out = append(out, fmt.Sprintf("%d memories share token %q with no embedding to disambiguate", count, token))
		}
	}
	return out
}

func coverageScore(memories []*types.SemanticMemory) float64 {
	if len(memories) == 0 {
		return 0
	}
	embedded := 0
	for _, m := range memories {
		if len(m.Embedding) > 0 {
			embedded++
		}
	}
	return float64(embedded) / float64(len(memories))
}

func (s *Store) scanSemanticMemories(ctx context.Context, projectID types.ID) ([]*types.SemanticMemory, error) {
	it, err := s.db.Scan(ctx, storage.NSSemanticMemories, storage.NewFilter(int64(projectID)))
	if err != nil {
		return nil, fmt.Errorf("scanning semantic memories: %w", err)
	}
	defer func() { _ = it.Close() }()

	var out []*types.SemanticMemory
	for it.Next(ctx) {
		var m types.SemanticMemory
		if err := json.Unmarshal(it.Record().Body, &m); err != nil {
			return nil, fmt.Errorf("unmarshalling semantic memory %d: %w", it.Record().ID, err)
		}
		m.ID = types.ID(it.Record().ID)
		out = append(out, &m)
	}
	return out, it.Err()
}

// touchExpertise nudges a subject's expertise score, used by callers
// that observe repeated successful use of a layer subject over time.
func (s *Store) touchExpertise(ctx context.Context, projectID types.ID, subject types.SubjectRef, delta float64) error {
	existing, err := s.findBySubject(ctx, projectID, subject)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &types.MetaMemoryEntry{ProjectID: projectID, Subject: subject}
	}
	existing.ExpertiseScore += delta
	if existing.ExpertiseScore > 1 {
		existing.ExpertiseScore = 1
	}
	if existing.ExpertiseScore < 0 {
		existing.ExpertiseScore = 0
	}
	rec, err := toRecord(existing)
	if err != nil {
		return err
	}
	_, err = s.db.Put(ctx, storage.NSMetaEntries, rec)
	return err
}
