// Package retrieval implements the hybrid retrieval engine:
// embed, optionally expand, search across layers, fuse with reciprocal
// rank fusion, and score confidence, evaluating each query
// deterministically across a multi-layer, multi-variant search
// pipeline.
package retrieval

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/observability"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// QueryExpander turns a query into n alternative phrasings, used to
// widen recall when the literal query text under-matches. Always an
// external collaborator; Athena has no built-in NLG.
type QueryExpander interface {
	Expand(ctx context.Context, query string, n int) ([]string, error)
}

// RetrievalHit is one ranked result from Search.
type RetrievalHit struct {
	ID             types.ID
	Layer          types.Layer
	ContentExcerpt string
	Similarity     float64
	BM25Score      float64
	CombinedScore  float64
	Confidence     float64
	Provenance     types.Provenance
}

// Result is Search's full response: ranked hits plus flags describing
// any degraded-mode fallbacks taken along the way.
type Result struct {
	Hits              []RetrievalHit
	EmbeddingFallback bool // true if the embedding collaborator was unavailable
}

// Engine is the hybrid retrieval engine. It holds no mutable state of
// its own beyond the embedding cache; all memory lives in storage.
type Engine struct {
	db       storage.Storage
	embedder Embedder
	expander QueryExpander
	cache    *EmbeddingCache
	gate     *gateway.Engine
	metrics  *observability.Recorder
	cfg      *config.Config
}

// New builds a retrieval engine over backend. embedder and expander may
// be nil; Search degrades gracefully to lexical-only search and skips
// query expansion respectively when absent. gate may also be nil, in
// which case Search returns the fused, confidence-scored hits as-is
// without running them through any verification gate. metrics may be
// nil; Recorder's methods are nil-safe so Search never branches on it.
func New(backend storage.Storage, embedder Embedder, expander QueryExpander, cache *EmbeddingCache, gate *gateway.Engine, metrics *observability.Recorder, cfg *config.Config) *Engine {
	if cache == nil {
		cache = NewEmbeddingCache(0)
	}
	return &Engine{db: backend, embedder: embedder, expander: expander, cache: cache, gate: gate, metrics: metrics, cfg: cfg}
}

// hitExistence adapts a direct storage lookup into a gateway.ExistenceChecker:
// a retrieval hit is grounded if the id it cites still resolves in the
// namespace it was retrieved from. Tried across every namespace
// Search fans out over since the checker only receives an id, not the
// namespace it came from.
type hitExistence struct {
	db storage.Storage
}

func (h *hitExistence) Exists(ctx context.Context, _ types.ID, id types.ID) (bool, error) {
	for ns := range namespaceLayer {
		if _, err := h.db.Get(ctx, ns, int64(id)); err == nil {
			return true, nil
		}
	}
	return false, nil
}

var namespaceLayer = map[storage.Namespace]types.Layer{
	storage.NSEpisodicEvents:   types.LayerEpisodic,
	storage.NSSemanticMemories: types.LayerSemantic,
	storage.NSProcedures:       types.LayerProcedural,
	storage.NSTasks:            types.LayerProspective,
	storage.NSEntities:         types.LayerGraph,
	storage.NSMetaEntries:      types.LayerMeta,
}

// Search runs the full hybrid retrieval pipeline for queryText and
// returns up to k ranked hits.
func (e *Engine) Search(ctx context.Context, projectID types.ID, queryText string, k int, filter storage.Filter) (*Result, error) {
	start := time.Now()
	defer func() { e.metrics.RecordRetrievalLatency(ctx, float64(time.Since(start).Milliseconds())) }()

	result := &Result{}

	var queryVector []float32
	if e.embedder != nil {
		vec, err := e.cache.Embed(ctx, e.embedder, queryText)
		if err != nil {
			result.EmbeddingFallback = true
		} else {
			queryVector = vec
		}
	} else {
		result.EmbeddingFallback = true
	}

	variants := []string{queryText}
	if e.cfg != nil && e.cfg.QueryExpansionEnabled && e.expander != nil {
		n := e.cfg.QueryExpansionVariants
		if n <= 0 {
			n = 4
		}
		if expanded, err := e.expander.Expand(ctx, queryText, n); err == nil {
			variants = append(variants, expanded...)
		}
		// Expansion failures are non-fatal: fall back to the original query.
	}

	namespaces := e.targetNamespaces(queryText)
	poolCap := len(variants) * 2 * k

	var perVariantRankings [][]storage.SearchHit
	for _, variant := range variants {
		variantVector := queryVector
		if variant != queryText && e.embedder != nil {
			if vec, err := e.cache.Embed(ctx, e.embedder, variant); err == nil {
				variantVector = vec
			}
		}

		var merged []storage.SearchHit
		for _, ns := range namespaces {
			hits, err := e.db.HybridSearch(ctx, ns, variantVector, variant, 2*k, filter, 0)
			if err != nil {
				continue
			}
			for i := range hits {
				hits[i].Record.Fields = withNamespace(hits[i].Record.Fields, ns)
			}
			merged = append(merged, hits...)
		}
		sortHitsDesc(merged)
		if len(merged) > poolCap {
			merged = merged[:poolCap]
		}
		perVariantRankings = append(perVariantRankings, merged)
	}

	fused, consistency := fuseAcrossVariants(perVariantRankings, k)
	hits, err := e.scoreConfidence(fused, consistency)
	if err != nil {
		return nil, err
	}

	if e.gate != nil && len(hits) > 0 {
		hits, err = e.runGate(ctx, projectID, hits)
		if err != nil {
			return nil, err
		}
	}

	result.Hits = hits
	return result, nil
}

// runGate converts hits into gateway.Items, evaluates the registered
// content gates over them, and maps whatever survives remediation back
// onto the original RetrievalHit values (remediation only ever drops
// items; it never invents new ones, so every survivor has a match).
func (e *Engine) runGate(ctx context.Context, projectID types.ID, hits []RetrievalHit) ([]RetrievalHit, error) {
	byID := make(map[types.ID]RetrievalHit, len(hits))
	items := make([]gateway.Item, 0, len(hits))
	for _, h := range hits {
		byID[h.ID] = h
		items = append(items, gateway.Item{
			ID:         h.ID,
			SourceIDs:  h.Provenance.SourceIDs,
			Confidence: h.Confidence,
			Content:    h.ContentExcerpt,
			Score:      h.CombinedScore,
		})
	}

	outcome, survivors, err := e.gate.Evaluate(ctx, projectID, "retrieval.search", items, nil, &hitExistence{db: e.db}, nil)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordGateOutcome(ctx, outcome)

	out := make([]RetrievalHit, 0, len(survivors))
	for _, s := range survivors {
		out = append(out, byID[s.ID])
	}
	return out, nil
}

func withNamespace(fields map[string]any, ns storage.Namespace) map[string]any {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["__namespace"] = string(ns)
	return fields
}

// targetNamespaces decides which namespaces to search beyond semantic,
// which is always included. Episodic and procedural
// are added when the query text suggests the caller wants them,
// matching the heuristic keyword sets used by the cascading orchestrator.
func (e *Engine) targetNamespaces(queryText string) []storage.Namespace {
	lower := strings.ToLower(queryText)
	namespaces := []storage.Namespace{storage.NSSemanticMemories}
	if containsAny(lower, "when", "last", "recent", "error", "failed") {
		namespaces = append(namespaces, storage.NSEpisodicEvents)
	}
	if containsAny(lower, "how", "do", "build", "implement") {
		namespaces = append(namespaces, storage.NSProcedures)
	}
	return namespaces
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func sortHitsDesc(hits []storage.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].CombinedScore != hits[j].CombinedScore {
			return hits[i].CombinedScore > hits[j].CombinedScore
		}
		return hits[i].ID < hits[j].ID
	})
}

// rrfK mirrors storage.FuseRRF's constant; duplicated because that one
// is unexported and scoped to single-backend vector+lexical fusion,
// while this fuses an arbitrary number of per-variant rankings.
const rrfK = 60

// fuseAcrossVariants reciprocal-rank-fuses N per-variant ranked lists
// into one, tie-breaking by higher max combined_score then ascending id.
// It also returns each surviving id's consistency: the fraction of
// query variants whose top-k ranking surfaced that id, so a document
// found by every variant scores 1.0 and one found by a single variant
// scores 1/N for N variants.
func fuseAcrossVariants(rankings [][]storage.SearchHit, k int) ([]storage.SearchHit, map[int64]float64) {
	type acc struct {
		hit        storage.SearchHit
		score      float64
		maxScore   float64
		membership int
	}
	byID := make(map[int64]*acc)

	for _, ranking := range rankings {
		seen := make(map[int64]bool, len(ranking))
		for rank, h := range ranking {
			a, ok := byID[h.ID]
			if !ok {
				a = &acc{hit: h}
				byID[h.ID] = a
			}
			a.score += 1.0 / float64(rrfK+rank+1)
			if h.CombinedScore > a.maxScore {
				a.maxScore = h.CombinedScore
			}
			if h.SemanticScore != nil {
				a.hit.SemanticScore = h.SemanticScore
			}
			if h.LexicalScore != nil {
				a.hit.LexicalScore = h.LexicalScore
			}
			if !seen[h.ID] {
				seen[h.ID] = true
				a.membership++
			}
		}
	}

	out := make([]acc, 0, len(byID))
	for _, a := range byID {
		a.hit.CombinedScore = a.score
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].maxScore != out[j].maxScore {
			return out[i].maxScore > out[j].maxScore
		}
		return out[i].hit.ID < out[j].hit.ID
	})

	if k >= 0 && len(out) > k {
		out = out[:k]
	}

	variantCount := float64(len(rankings))
	hits := make([]storage.SearchHit, len(out))
	consistency := make(map[int64]float64, len(out))
	for i, a := range out {
		hits[i] = a.hit
		if variantCount > 0 {
			consistency[a.hit.ID] = float64(a.membership) / variantCount
		} else {
			consistency[a.hit.ID] = 1.0
		}
	}
	return hits, consistency
}

// scoreConfidence attaches the fixed multi-factor confidence formula
// to each fused hit. consistencyByID comes from fuseAcrossVariants,
// which is the only place per-variant membership is still known.
func (e *Engine) scoreConfidence(hits []storage.SearchHit, consistencyByID map[int64]float64) ([]RetrievalHit, error) {
	weights := confidenceWeights(e.cfg)

	out := make([]RetrievalHit, 0, len(hits))
	for _, h := range hits {
		layer := layerOf(h.Record)
		semanticRelevance := 0.0
		if h.SemanticScore != nil {
			semanticRelevance = *h.SemanticScore
		}
		bm25 := 0.0
		if h.LexicalScore != nil {
			bm25 = *h.LexicalScore
		}

		sourceQuality := types.LayerQualityBaseline[layer]
		recency := recencyScore(h.Record)
		consistency := consistencyByID[h.ID]
		completeness := completenessScore(h.Record)

		confidence := weights.semanticRelevance*semanticRelevance +
			weights.sourceQuality*sourceQuality +
			weights.recency*recency +
			weights.consistency*consistency +
			weights.completeness*completeness

		out = append(out, RetrievalHit{
			ID:             types.ID(h.ID),
			Layer:          layer,
			ContentExcerpt: excerptOf(h.Record),
			Similarity:     semanticRelevance,
			BM25Score:      bm25,
			CombinedScore:  h.CombinedScore,
			Confidence:     confidence,
			Provenance:     types.Provenance{Layer: layer, SourceIDs: []types.ID{types.ID(h.ID)}},
		})
	}
	return out, nil
}

type weights struct {
	semanticRelevance, sourceQuality, recency, consistency, completeness float64
}

func confidenceWeights(cfg *config.Config) weights {
	if cfg == nil {
		return weights{0.35, 0.25, 0.15, 0.15, 0.10}
	}
	return weights{
		semanticRelevance: cfg.WeightSemanticRelevance,
		sourceQuality:      cfg.WeightSourceQuality,
		recency:            cfg.WeightRecency,
		consistency:        cfg.WeightConsistency,
		completeness:       cfg.WeightCompleteness,
	}
}

func layerOf(rec storage.Record) types.Layer {
	if raw, ok := rec.Fields["__namespace"]; ok {
		if ns, ok := raw.(string); ok {
			if layer, ok := namespaceLayer[storage.Namespace(ns)]; ok {
				return layer
			}
		}
	}
	return types.LayerSemantic
}

type timestampProbe struct {
	Timestamp time.Time
	CreatedAt time.Time
}

// recencyScore decays piecewise-linear: 1 day -> 0.95, 7 days -> 0.30,
// >=30 days -> 0. Records with no discoverable
// timestamp score a neutral 0.5.
func recencyScore(rec storage.Record) float64 {
	var probe timestampProbe
	if err := json.Unmarshal(rec.Body, &probe); err != nil {
		return 0.5
	}
	ts := probe.Timestamp
	if ts.IsZero() {
		ts = probe.CreatedAt
	}
	if ts.IsZero() {
		return 0.5
	}

	age := time.Since(ts)
	day := 24 * time.Hour
	switch {
	case age <= day:
		return 1 - (1-0.95)*float64(age)/float64(day)
	case age <= 7*day:
		frac := float64(age-day) / float64(6*day)
		return 0.95 - (0.95-0.30)*frac
	case age <= 30*day:
		frac := float64(age-7*day) / float64(23*day)
		return 0.30 - 0.30*frac
	default:
		return 0
	}
}

type contentProbe struct {
	Content string
}

// expectedContentLength is the denominator in completeness
// formula; 512 bytes is a reasonable "fully fleshed out" memory length
// absent any per-layer override.
const expectedContentLength = 512

func completenessScore(rec storage.Record) float64 {
	var probe contentProbe
	content := rec.Content
	if content == "" {
		if err := json.Unmarshal(rec.Body, &probe); err == nil {
			content = probe.Content
		}
	}
	return math.Min(1, float64(len(content))/expectedContentLength)
}

func excerptOf(rec storage.Record) string {
	const maxExcerpt = 280
	content := rec.Content
	if content == "" {
		var probe contentProbe
		if err := json.Unmarshal(rec.Body, &probe); err == nil {
			content = probe.Content
		}
	}
	if len(content) > maxExcerpt {
		return content[:maxExcerpt]
	}
	return content
}
