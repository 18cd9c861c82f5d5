// Package cascade implements the cascading recall orchestrator: three
// tiers of increasing cost gated on the previous tier's
// results, each under its own time budget. A cheap, materialized-cache
// filter runs first, with an expensive enrichment pass only when the
// cheap pass found candidates, generalized here from a single SQL
// predicate to a three-stage recall pipeline across memory layers.
package cascade

import (
	"context"
	"strings"
	"time"

	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/layers/meta"
	"github.com/shawkridge/athena/internal/layers/session"
	"github.com/shawkridge/athena/internal/retrieval"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Synthesizer is the LLM collaborator used by Tier 3 to turn Tier-2 hits
// into a grounded natural-language answer. Always an
// external collaborator; Athena never synthesizes without one configured.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, hits []retrieval.RetrievalHit, planningPhase bool) (string, error)
}

// Hit is one recall result carried through the tiers, annotated with the
// quality down-weight applied in Tier 2.
type Hit struct {
	retrieval.RetrievalHit
	QualityWeight float64
}

// Tier1Result is the cheap, per-layer heuristic pass.
type Tier1Result struct {
	Hits []Hit
}

// Tier2Result is the enriched pass: cross-layer hybrid search with
// quality down-weighting and session context folded in.
type Tier2Result struct {
	Hits              []Hit
	Confidence        float64
	SessionInjected   bool
	SessionPhase      string
	RecentSessionTags []string
}

// Tier3Result is the synthesized answer produced from Tier 2's hits.
type Tier3Result struct {
	Answer                  string
	PlanningRecommendations bool
}

// Response is the orchestrator's full output, shaped.
type Response struct {
	CascadeDepth int
	Tier1        Tier1Result
	Tier2        *Tier2Result
	Tier3        *Tier3Result
	Degraded     bool
	Explanation  string
}

// Budgets are the per-tier time ceilings. Exceeding a
// tier's budget returns the best available lower tier with Degraded set.
type Budgets struct {
	Tier1 time.Duration
	Tier2 time.Duration
	Tier3 time.Duration
}

// DefaultBudgets gives each tier its default ceiling: 100ms / 300ms / 2s.
func DefaultBudgets() Budgets {
	return Budgets{Tier1: 100 * time.Millisecond, Tier2: 300 * time.Millisecond, Tier3: 2 * time.Second}
}

// Orchestrator runs the three-tier cascade over a project's memory.
type Orchestrator struct {
	db          storage.Storage
	engine      *retrieval.Engine
	meta        *meta.Store
	sessions    *session.Store
	synthesizer Synthesizer
	cfg         *config.Config
	budgets     Budgets
}

// New builds an orchestrator. synthesizer may be nil; Tier 3 is then
// unavailable and Recall never escalates past Tier 2.
func New(backend storage.Storage, engine *retrieval.Engine, metaStore *meta.Store, sessions *session.Store, synthesizer Synthesizer, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		db:          backend,
		engine:      engine,
		meta:        metaStore,
		sessions:    sessions,
		synthesizer: synthesizer,
		cfg:         cfg,
		budgets:     DefaultBudgets(),
	}
}

// WithBudgets overrides the default per-tier time budgets, primarily for
// tests that need deterministic timeout behavior.
func (o *Orchestrator) WithBudgets(b Budgets) *Orchestrator {
	o.budgets = b
	return o
}

// Options controls how far Recall is allowed to escalate.
type Options struct {
	K             int
	SynthesizeNow bool // opt in to Tier 3 regardless of Tier 2 confidence
	SessionID     types.ID
	SessionPhase  string // used for routing when no live session is passed
}

var tier1Namespaces = map[types.Layer]struct {
	ns       storage.Namespace
	keywords []string
}{
	types.LayerEpisodic:    {storage.NSEpisodicEvents, []string{"when", "last", "recent", "error", "failed"}},
	types.LayerProcedural:  {storage.NSProcedures, []string{"how", "do", "build", "implement"}},
	types.LayerProspective: {storage.NSTasks, []string{"task", "goal", "todo", "should"}},
	types.LayerGraph:       {storage.NSEntities, []string{"relates", "depends", "connected"}},
}

var tier1NamespaceLayer = map[storage.Namespace]types.Layer{
	storage.NSSemanticMemories: types.LayerSemantic,
	storage.NSEpisodicEvents:   types.LayerEpisodic,
	storage.NSProcedures:       types.LayerProcedural,
	storage.NSTasks:            types.LayerProspective,
	storage.NSEntities:         types.LayerGraph,
}

// Recall runs the cascade for queryText against projectID, escalating
// tiers gating rules and Options.
func (o *Orchestrator) Recall(ctx context.Context, projectID types.ID, queryText string, opts Options) (*Response, error) {
	k := opts.K
	if k <= 0 {
		k = 10
	}

	sessionPhase := opts.SessionPhase
	var activeSession *types.SessionContext
	if o.sessions != nil {
		if sess, err := o.sessions.GetActive(ctx, projectID); err == nil && sess != nil {
			activeSession = sess
			if sessionPhase == "" {
				sessionPhase = sess.Phase
			}
		}
	}

	resp := &Response{CascadeDepth: 1}

	tier1, ok := o.runTier1(ctx, projectID, queryText, sessionPhase, k)
	resp.Tier1 = tier1
	if !ok {
		resp.Degraded = true
		resp.Explanation = "tier 1 exceeded its time budget"
		return resp, nil
	}

	if !anyHits(tier1) {
		resp.Explanation = "tier 1 found no candidates; cascade stopped"
		return resp, nil
	}

	tier2, ok := o.runTier2(ctx, projectID, queryText, k, activeSession, opts.SessionID)
	if !ok {
		resp.Degraded = true
		resp.Explanation = "tier 2 exceeded its time budget, returning tier 1"
		return resp, nil
	}
	resp.CascadeDepth = 2
	resp.Tier2 = tier2

	threshold := 0.6
	if o.cfg != nil && o.cfg.CascadingConfidenceThreshold > 0 {
		threshold = o.cfg.CascadingConfidenceThreshold
	}
	if tier2.Confidence >= threshold && !opts.SynthesizeNow {
		return resp, nil
	}
	if o.synthesizer == nil {
		resp.Explanation = "tier 3 would trigger but no synthesizer is configured"
		return resp, nil
	}

	tier3, ok := o.runTier3(ctx, queryText, tier2, sessionPhase)
	if !ok {
		resp.Degraded = true
		resp.Explanation = "tier 3 exceeded its time budget, returning tier 2"
		return resp, nil
	}
	resp.CascadeDepth = 3
	resp.Tier3 = tier3
	return resp, nil
}

func anyHits(t Tier1Result) bool {
	return len(t.Hits) > 0
}

// runTier1 performs the fast, per-layer heuristic pass. Semantic is always queried; the rest are triggered by keyword
// rules over the query text or the session phase.
func (o *Orchestrator) runTier1(ctx context.Context, projectID types.ID, queryText, sessionPhase string, k int) (Tier1Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.budgets.Tier1)
	defer cancel()

	lower := strings.ToLower(queryText)
	namespaces := []storage.Namespace{storage.NSSemanticMemories}
	for layer, rule := range tier1Namespaces {
		if containsAny(lower, rule.keywords...) {
			namespaces = append(namespaces, rule.ns)
			continue
		}
		if layer == types.LayerEpisodic && sessionPhase == "debugging" {
			namespaces = append(namespaces, rule.ns)
		}
	}

	var hits []Hit
	filter := storage.NewFilter(int64(projectID))
	for _, ns := range namespaces {
		results, err := o.db.LexicalSearch(ctx, ns, queryText, k, filter)
		if err != nil {
			if ctx.Err() != nil {
				return Tier1Result{Hits: hits}, false
			}
			continue
		}
		for _, r := range results {
			hits = append(hits, Hit{RetrievalHit: retrieval.RetrievalHit{
				ID:             types.ID(r.ID),
				Layer:          tier1NamespaceLayer[ns],
				ContentExcerpt: excerpt(r.Record.Content),
				CombinedScore:  r.CombinedScore,
			}})
		}
		if ctx.Err() != nil {
			return Tier1Result{Hits: hits}, false
		}
	}
	return Tier1Result{Hits: hits}, true
}

// runTier2 adds cross-layer hybrid search via the retrieval engine, a
// meta-memory quality overlay that down-weights low-quality subjects,
// and session-context injection.
func (o *Orchestrator) runTier2(ctx context.Context, projectID types.ID, queryText string, k int, activeSession *types.SessionContext, sessionID types.ID) (*Tier2Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.budgets.Tier2)
	defer cancel()

	if o.engine == nil {
		return &Tier2Result{}, true
	}

	result, err := o.engine.Search(ctx, projectID, queryText, k, storage.NewFilter(int64(projectID)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		return &Tier2Result{}, true
	}

	out := &Tier2Result{}
	var confidenceSum float64
	for _, h := range result.Hits {
		weight := 1.0
		if o.meta != nil {
			if q, ok, err := o.meta.QualityFor(ctx, projectID, types.SubjectRef{Layer: h.Layer, ID: h.ID}); err == nil && ok {
				weight = q
			}
		}
		if ctx.Err() != nil {
			return nil, false
		}
		weighted := h
		weighted.Confidence *= weight
		out.Hits = append(out.Hits, Hit{RetrievalHit: weighted, QualityWeight: weight})
		confidenceSum += weighted.Confidence
	}
	if len(out.Hits) > 0 {
		out.Confidence = confidenceSum / float64(len(out.Hits))
	}

	sess := activeSession
	if sess == nil && o.sessions != nil && sessionID != 0 {
		if s, err := o.sessions.Get(ctx, sessionID); err == nil {
			sess = s
		}
	}
	if sess != nil {
		out.SessionInjected = true
		out.SessionPhase = sess.Phase
		for i := len(sess.Events) - 1; i >= 0 && len(out.RecentSessionTags) < 5; i-- {
			out.RecentSessionTags = append(out.RecentSessionTags, sess.Events[i].Type)
		}
	}

	return out, true
}

// runTier3 synthesizes a grounded answer from Tier 2's hits, adding planning recommendations when the session is in a
// planning or refactoring phase.
func (o *Orchestrator) runTier3(ctx context.Context, queryText string, tier2 *Tier2Result, sessionPhase string) (*Tier3Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, o.budgets.Tier3)
	defer cancel()

	retrievalHits := make([]retrieval.RetrievalHit, len(tier2.Hits))
	for i, h := range tier2.Hits {
		retrievalHits[i] = h.RetrievalHit
	}

	planning := sessionPhase == "planning" || sessionPhase == "refactoring"
	answer, err := o.synthesizer.Synthesize(ctx, queryText, retrievalHits, planning)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false
		}
		return &Tier3Result{Answer: ""}, true
	}
	return &Tier3Result{Answer: answer, PlanningRecommendations: planning}, true
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func excerpt(content string) string {
	const maxExcerpt = 280
	if len(content) > maxExcerpt {
		return content[:maxExcerpt]
	}
	return content
}
