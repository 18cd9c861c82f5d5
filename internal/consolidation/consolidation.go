// Package consolidation implements the two-stage consolidation pipeline:
// a fast, deterministic Stage A that clusters pending episodic events
// and proposes promotions, and a selective Stage B that asks an LLM
// collaborator to validate the proposals it is least sure about.
// Stage A fans embedding calls out over a bounded worker pool; it has
// no dry-run mode, so every Run promotes what survives. Stage B wraps an external LLM client boundary with
// retry and structured-response validation, generalized from
// single-issue summarization to cross-event cluster promotion across
// memory layers.
package consolidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/hasher"
	"github.com/shawkridge/athena/internal/layers/episodic"
	"github.com/shawkridge/athena/internal/layers/graph"
	"github.com/shawkridge/athena/internal/layers/procedural"
	"github.com/shawkridge/athena/internal/layers/semantic"
	"github.com/shawkridge/athena/internal/observability"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Embedder produces a vector representation of event content, used to
// sub-cluster by cosine similarity. Always an
// external collaborator.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ValidationVerdict is one proposal's Stage B outcome.
type ValidationVerdict string

const (
	VerdictAccept ValidationVerdict = "ACCEPT"
	VerdictMerge  ValidationVerdict = "MERGE"
	VerdictReject ValidationVerdict = "REJECT"
)

// ValidationResult is the LLM collaborator's structured response for one
// proposal. Reason is required on REJECT.
type ValidationResult struct {
	ProposalIndex int
	Verdict       ValidationVerdict
	Reason        string
}

// Validator is the Stage B LLM collaborator. It should return one
// ValidationResult per proposal passed in, each carrying that proposal's
// Index; a proposal with no matching result in the response is treated
// as malformed and rejected.
type Validator interface {
	Validate(ctx context.Context, proposals []Proposal) ([]ValidationResult, error)
}

// ProposalKind distinguishes what a cluster is being proposed as.
type ProposalKind string

const (
	ProposalProcedure ProposalKind = "PROCEDURE"
	ProposalSemantic  ProposalKind = "SEMANTIC"
	ProposalGraph     ProposalKind = "GRAPH"
)

// Proposal is one candidate promotion extracted from a sub-cluster in
// Stage A, carried through Stage B validation and into promotion.
type Proposal struct {
	Index       int
	Kind        ProposalKind
	SourceIDs   []types.ID
	Title       string
	Content     string
	Entities    []string
	Cohesion    float64 // mean pairwise cosine similarity (majority-outcome fraction without an embedder)
	Uncertainty float64 // 1 - Cohesion
	Unvalidated bool    // true if Stage B never ran or failed
	Verdict     ValidationVerdict
	Reason      string
}

// Engine runs the consolidation pipeline over a project's pending
// episodic events.
type Engine struct {
	db         storage.Storage
	episodic   *episodic.Store
	semantic   *semantic.Store
	procedural *procedural.Store
	graph      *graph.Store
	embedder   Embedder
	validator  Validator
	gate       *gateway.Engine
	metrics    *observability.Recorder
	cfg        *config.Config
	runLocks   sync.Map // project id -> *sync.Mutex; serializes Run per project
}

// New builds a consolidation engine. embedder and validator may be nil;
// a nil embedder disables embedding-based sub-clustering (falls back to
// one sub-cluster per temporal cluster) and a nil validator means every
// proposal is flagged Unvalidated rather than sent to Stage B. gate may
// also be nil, in which case promotion skips gate evaluation entirely.
// metrics may be nil; Recorder's methods are nil-safe.
func New(backend storage.Storage, episodicStore *episodic.Store, semanticStore *semantic.Store, proceduralStore *procedural.Store, graphStore *graph.Store, embedder Embedder, validator Validator, gate *gateway.Engine, metrics *observability.Recorder, cfg *config.Config) *Engine {
	return &Engine{
		db:         backend,
		episodic:   episodicStore,
		semantic:   semanticStore,
		procedural: proceduralStore,
		graph:      graphStore,
		embedder:   embedder,
		validator:  validator,
		gate:       gate,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// proposalSoundness adapts procedural/semantic content-hash lookups into
// a gateway.SoundnessChecker: a promotion proposal is unsound if its
// content hash collides with an already-promoted record whose stored
// content differs from the proposal's, which can only happen on an
// actual sha256 collision since both sides hash the same canonical
// input, but the check is cheap and guards against it regardless.
type proposalSoundness struct {
	procedural *procedural.Store
	semantic   *semantic.Store
	byIndex    map[types.ID]*Proposal
}

// episodicExistence adapts episodic.Store.Get into a gateway.ExistenceChecker
// so the Grounding gate can verify a proposal's source event ids are real
// before promotion, instead of trusting them unchecked.
type episodicExistence struct {
	episodic *episodic.Store
}

func (e *episodicExistence) Exists(ctx context.Context, _ types.ID, id types.ID) (bool, error) {
	if _, err := e.episodic.Get(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *proposalSoundness) ConflictingContent(ctx context.Context, projectID types.ID, item gateway.Item) (bool, error) {
	p, ok := c.byIndex[item.ID]
	if !ok {
		return false, nil
	}
	switch p.Kind {
	case ProposalProcedure:
		hash := hasher.HexString(hasher.Hash(hasher.CanonicalString(map[string]string{"kind": "procedure", "content": p.Content})))
		id, exists, err := c.procedural.FindByContentHash(ctx, projectID, hash)
		if err != nil || !exists {
			return false, err
		}
		existing, err := c.procedural.Get(ctx, id)
		if err != nil {
			return false, err
		}
		return existing.Description != p.Content, nil
	case ProposalSemantic:
		hash := hasher.HexString(hasher.Hash(hasher.CanonicalString(map[string]string{"kind": "semantic", "content": p.Content})))
		id, exists, err := c.semantic.FindByContentHash(ctx, projectID, hash)
		if err != nil || !exists {
			return false, err
		}
		existing, err := c.semantic.Get(ctx, id)
		if err != nil {
			return false, err
		}
		return existing.Content != p.Content, nil
	default:
		return false, nil
	}
}

const (
	defaultGapThreshold   = 5 * time.Minute
	subClusterThreshold   = 0.75
	uncertaintyThreshold  = 0.5
	minEventsForProcedure = 3
	minEventsForSemantic  = 2
)

// Run executes one consolidation pass for projectID: select candidates,
// cluster, extract proposals, validate the uncertain ones, and promote
// everything that survives, all inside one ConsolidationRun. Runs for the
// same project are mutually exclusive, whatever their trigger.
func (e *Engine) Run(ctx context.Context, projectID types.ID, trigger types.Trigger, window *types.TimeRange) (*types.ConsolidationRun, error) {
	lock, _ := e.runLocks.LoadOrStore(projectID, &sync.Mutex{})
	lock.(*sync.Mutex).Lock()
	defer lock.(*sync.Mutex).Unlock()

	run := &types.ConsolidationRun{
		ProjectID: projectID,
		Trigger:   trigger,
		Strategy:  e.strategy(),
		StartedAt: time.Now(),
	}

	events, err := e.episodic.PendingForConsolidation(ctx, projectID, window)
	if err != nil {
		return nil, fmt.Errorf("selecting candidate events: %w", err)
	}
	run.EventsConsidered = len(events)
	if len(events) == 0 {
		finished := time.Now()
		run.FinishedAt = &finished
		return run, nil
	}

	clusters := temporalCluster(events, e.gapThreshold())
	var subClusters []clusterGroup
	for _, cluster := range clusters {
		subClusters = append(subClusters, e.subCluster(ctx, cluster)...)
	}
	run.ClustersFormed = len(subClusters)

	var proposals []Proposal
	for _, sc := range subClusters {
		proposals = append(proposals, e.extractProposals(sc.events, sc.cohesion)...)
	}
	for i := range proposals {
		proposals[i].Index = i
	}

	uncertain := make([]Proposal, 0, len(proposals))
	uncertainIdx := make(map[int]int) // proposal index -> position in uncertain slice
	for _, p := range proposals {
		if p.Uncertainty > uncertaintyThreshold {
			uncertainIdx[p.Index] = len(uncertain)
			uncertain = append(uncertain, p)
		} else {
			proposals[p.Index].Verdict = VerdictAccept
		}
	}

	if len(uncertain) > 0 && e.validator != nil {
		results, err := e.validateWithRetry(ctx, uncertain)
		if err != nil {
			// Stage B failed entirely: fall back to Stage-A proposals,
			// flagged unvalidated and quality-penalized.
			for _, p := range uncertain {
				proposals[p.Index].Unvalidated = true
				proposals[p.Index].Verdict = VerdictAccept
			}
			run.ValidationCalls++
		} else {
			run.ValidationCalls++
			for _, r := range results {
				pos, ok := uncertainIdx[r.ProposalIndex]
				if !ok || pos >= len(uncertain) {
					continue // response references a proposal we never sent
				}
				idx := uncertain[pos].Index
				if r.Verdict != VerdictAccept && r.Verdict != VerdictMerge && r.Verdict != VerdictReject {
					continue // malformed verdict, handled by the fallback below
				}
				proposals[idx].Verdict = r.Verdict
				proposals[idx].Reason = r.Reason
			}
			// Any proposal the validator never returned a well-formed result
			// for is a malformed response: reject it with a recorded reason
			// rather than silently accepting.
			for _, p := range uncertain {
				if proposals[p.Index].Verdict == "" {
					proposals[p.Index].Verdict = VerdictReject
					proposals[p.Index].Reason = "malformed validator response: no well-formed verdict returned"
				}
			}
		}
	} else {
		for _, p := range uncertain {
			proposals[p.Index].Unvalidated = true
			proposals[p.Index].Verdict = VerdictAccept
		}
	}

	if e.gate != nil {
		if err := e.gateProposals(ctx, projectID, proposals); err != nil {
			return nil, fmt.Errorf("gating proposals: %w", err)
		}
	}

	if err := e.promote(ctx, projectID, proposals, run); err != nil {
		return nil, fmt.Errorf("promoting proposals: %w", err)
	}

	run.QualityScore = qualityScore(proposals, run)
	finished := time.Now()
	run.FinishedAt = &finished

	id, err := e.saveRun(ctx, run)
	if err != nil {
		return nil, err
	}
	run.ID = id
	e.metrics.RecordConsolidationRun(ctx)
	return run, nil
}

// gateProposals runs the verification gateway over every not-yet-rejected
// proposal before promotion. Any proposal the gateway drops (currently
// only Grounding carries a drop remediation) is rejected here with its
// gate-derived reason rather than being silently promoted anyway.
func (e *Engine) gateProposals(ctx context.Context, projectID types.ID, proposals []Proposal) error {
	byIndex := make(map[types.ID]*Proposal, len(proposals))
	items := make([]gateway.Item, 0, len(proposals))
	for i := range proposals {
		p := &proposals[i]
		if p.Verdict == VerdictReject {
			continue
		}
		id := types.ID(p.Index)
		byIndex[id] = p
		items = append(items, gateway.Item{
			ID:         id,
			SourceIDs:  p.SourceIDs,
			Confidence: 1 - p.Uncertainty,
			Content:    p.Content,
			Score:      p.Cohesion,
		})
	}
	if len(items) == 0 {
		return nil
	}

	soundness := &proposalSoundness{procedural: e.procedural, semantic: e.semantic, byIndex: byIndex}
	existence := &episodicExistence{episodic: e.episodic}
	outcome, survivors, err := e.gate.Evaluate(ctx, projectID, "consolidation.promote", items, nil, existence, soundness)
	if err != nil {
		return err
	}
	e.metrics.RecordGateOutcome(ctx, outcome)

	survived := make(map[types.ID]bool, len(survivors))
	for _, s := range survivors {
		survived[s.ID] = true
	}
	for id, p := range byIndex {
		if !survived[id] {
			p.Verdict = VerdictReject
			p.Reason = "dropped by verification gateway"
		}
	}
	return nil
}

func (e *Engine) strategy() types.Strategy {
	if e.cfg == nil {
		return types.StrategyBalanced
	}
	switch e.cfg.ConsolidationStrategyDefault {
	case config.StrategySpeed:
		return types.StrategySpeed
	case config.StrategyQuality:
		return types.StrategyQuality
	default:
		return types.StrategyBalanced
	}
}

func (e *Engine) gapThreshold() time.Duration {
	return defaultGapThreshold
}

// temporalCluster splits events into clusters whenever the gap to the
// next event exceeds threshold, the session changes, or the event type
// changes class. Events are assumed ordered
// by (timestamp, id), which episodic.PendingForConsolidation guarantees.
func temporalCluster(events []*types.EpisodicEvent, threshold time.Duration) [][]*types.EpisodicEvent {
	if len(events) == 0 {
		return nil
	}
	var clusters [][]*types.EpisodicEvent
	current := []*types.EpisodicEvent{events[0]}
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		gap := cur.Timestamp.Sub(prev.Timestamp)
		sessionChanged := cur.SessionID != prev.SessionID
		classChanged := eventClass(cur.EventType) != eventClass(prev.EventType)
		if gap > threshold || sessionChanged || classChanged {
			clusters = append(clusters, current)
			current = nil
		}
		current = append(current, cur)
	}
	clusters = append(clusters, current)
	return clusters
}

// eventClass groups related event types so that e.g. ACTION followed by
// OBSERVATION of the same action does not split a cluster, while ERROR
// or COMMIT do.
func eventClass(t types.EventType) string {
	switch t {
	case types.EventAction, types.EventObservation:
		return "work"
	case types.EventDecision:
		return "decision"
	case types.EventError, types.EventTest:
		return "verification"
	case types.EventCommit:
		return "commit"
	case types.EventConversation:
		return "conversation"
	default:
		return string(t)
	}
}

// clusterGroup is one sub-cluster together with its measured cohesion,
// the basis for a proposal's uncertainty.
type clusterGroup struct {
	events   []*types.EpisodicEvent
	cohesion float64
}

// subCluster splits a temporal cluster into embedding-similarity groups
//, each carrying its average pairwise cosine
// similarity as cohesion. Without an embedder configured, the whole
// cluster is treated as one sub-cluster and cohesion falls back to the
// fraction of events sharing the cluster's majority outcome, the
// cheapest signal available without re-embedding.
func (e *Engine) subCluster(ctx context.Context, cluster []*types.EpisodicEvent) []clusterGroup {
	if e.embedder == nil || len(cluster) <= 1 {
		return []clusterGroup{{events: cluster, cohesion: outcomeCohesion(cluster)}}
	}

	vectors := make([][]float32, len(cluster))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ev := range cluster {
		i, ev := i, ev
		g.Go(func() error {
			v, err := e.embedder.Embed(gctx, ev.Content)
			if err != nil {
				return err
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return []clusterGroup{{events: cluster, cohesion: outcomeCohesion(cluster)}}
	}

	assigned := make([]bool, len(cluster))
	var groups []clusterGroup
	for i := range cluster {
		if assigned[i] {
			continue
		}
		groupIdx := []int{i}
		assigned[i] = true
		for j := i + 1; j < len(cluster); j++ {
			if assigned[j] {
				continue
			}
			if storage.CosineSimilarity(vectors[i], vectors[j]) >= subClusterThreshold {
				groupIdx = append(groupIdx, j)
				assigned[j] = true
			}
		}
		events := make([]*types.EpisodicEvent, len(groupIdx))
		for k, idx := range groupIdx {
			events[k] = cluster[idx]
		}
		groups = append(groups, clusterGroup{events: events, cohesion: pairwiseCohesion(vectors, groupIdx)})
	}
	return groups
}

// pairwiseCohesion is the average cosine similarity across every pair in
// a group, the measure Stage B's uncertainty gate is computed from. A
// singleton group is maximally cohesive by convention.
func pairwiseCohesion(vectors [][]float32, idx []int) float64 {
	if len(idx) <= 1 {
		return 1.0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(idx); i++ {
		for j := i + 1; j < len(idx); j++ {
			sum += storage.CosineSimilarity(vectors[idx[i]], vectors[idx[j]])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// outcomeCohesion is the fallback cohesion measure used when no embedder
// is configured: the fraction of events in the cluster sharing its
// majority outcome.
func outcomeCohesion(cluster []*types.EpisodicEvent) float64 {
	counts := make(map[types.Outcome]int)
	for _, e := range cluster {
		counts[e.Outcome]++
	}
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	if len(cluster) == 0 {
		return 1.0
	}
	return float64(best) / float64(len(cluster))
}

// extractProposals applies Stage A's pattern-extraction rules to one
// sub-cluster, proposing at most one Procedure, one
// SemanticMemory, and one set of Graph entities/relations.
func (e *Engine) extractProposals(cluster []*types.EpisodicEvent, cohesion float64) []Proposal {
	if len(cluster) == 0 {
		return nil
	}
	ids := sourceIDs(cluster)

	var out []Proposal
	if len(cluster) >= minEventsForProcedure && sharesActionSequence(cluster) {
		out = append(out, Proposal{
			Kind:        ProposalProcedure,
			SourceIDs:   ids,
			Title:       proceduralTitle(cluster),
			Content:     proceduralSteps(cluster),
			Cohesion:    cohesion,
			Uncertainty: 1 - cohesion,
		})
	}
	if len(cluster) >= minEventsForSemantic && sharesFactualCore(cluster) {
		out = append(out, Proposal{
			Kind:        ProposalSemantic,
			SourceIDs:   ids,
			Content:     factualSummary(cluster),
			Cohesion:    cohesion,
			Uncertainty: 1 - cohesion,
		})
	}
	if entities := coOccurringEntities(cluster); len(entities) >= 2 {
		out = append(out, Proposal{
			Kind:        ProposalGraph,
			SourceIDs:   ids,
			Entities:    entities,
			Cohesion:    cohesion,
			Uncertainty: 1 - cohesion,
		})
	}
	return out
}

func sourceIDs(cluster []*types.EpisodicEvent) []types.ID {
	ids := make([]types.ID, len(cluster))
	for i, e := range cluster {
		ids[i] = e.ID
	}
	return ids
}

// sharesActionSequence reports whether the cluster looks like a
// repeatable workflow: at least two ACTION events sharing the same
// non-empty CodeEventType, the cheapest signal available without an execution
// trace comparator.
func sharesActionSequence(cluster []*types.EpisodicEvent) bool {
	counts := make(map[types.CodeEventType]int)
	for _, e := range cluster {
		if e.EventType == types.EventAction && e.CodeEventType != "" {
			counts[e.CodeEventType]++
		}
	}
	for _, c := range counts {
		if c >= 2 {
			return true
		}
	}
	return false
}

func proceduralTitle(cluster []*types.EpisodicEvent) string {
	if len(cluster) == 0 {
		return "learned procedure"
	}
	return fmt.Sprintf("procedure from session %s", cluster[0].SessionID)
}

func proceduralSteps(cluster []*types.EpisodicEvent) string {
	var steps []string
	for _, e := range cluster {
		steps = append(steps, e.Content)
	}
	return joinLines(steps)
}

// sharesFactualCore reports whether the cluster's events share a common
// outcome, a proxy for "the same fact was observed repeatedly".
func sharesFactualCore(cluster []*types.EpisodicEvent) bool {
	counts := make(map[types.Outcome]int)
	for _, e := range cluster {
		counts[e.Outcome]++
	}
	for _, c := range counts {
		if c >= minEventsForSemantic {
			return true
		}
	}
	return false
}

func factualSummary(cluster []*types.EpisodicEvent) string {
	var lines []string
	for _, e := range cluster {
		lines = append(lines, e.Content)
	}
	return joinLines(lines)
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// coOccurringEntities extracts candidate entity names from events'
// FilePath/SymbolName fields, the structured fields most likely to name
// a stable entity without running NLP over free-text content.
func coOccurringEntities(cluster []*types.EpisodicEvent) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range cluster {
		for _, name := range []string{e.FilePath, e.SymbolName} {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// validateWithRetry calls the Stage B validator with exponential backoff
//. Uses cenkalti/backoff/v4 rather than a hand-rolled retry
// loop.
func (e *Engine) validateWithRetry(ctx context.Context, proposals []Proposal) ([]ValidationResult, error) {
	var results []ValidationResult
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
	err := backoff.Retry(func() error {
		r, err := e.validator.Validate(ctx, proposals)
		if err != nil {
			return err
		}
		results = r
		return nil
	}, policy)
	return results, err
}

// promote inserts every surviving proposal atomically (one transaction
// per run), re-hashing content for idempotent dedup before insertion,
// then flips each source event's consolidation status.
func (e *Engine) promote(ctx context.Context, projectID types.ID, proposals []Proposal, run *types.ConsolidationRun) error {
	return e.db.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i := range proposals {
			p := &proposals[i]
			if p.Verdict == VerdictReject {
				continue
			}
			promoted, err := e.promoteOne(ctx, projectID, p)
			if err != nil {
				return err
			}
			if !promoted {
				continue
			}
			switch p.Kind {
			case ProposalProcedure:
				run.ProceduresCreated++
			case ProposalSemantic:
				run.MemoriesCreated++
			}
		}
		for _, p := range proposals {
			status := types.ConsolidationDone
			if p.Verdict == VerdictReject {
				status = types.ConsolidationDiscarded
			}
			for _, id := range p.SourceIDs {
				if err := e.episodic.SetConsolidationStatus(ctx, id, status, time.Now()); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// promoteOne inserts a single proposal's target record, skipping
// insertion and reporting promoted=false if the content hash already
// exists (promote still transitions the source events), guaranteeing
// the idempotent re-run property consolidation requires.
func (e *Engine) promoteOne(ctx context.Context, projectID types.ID, p *Proposal) (bool, error) {
	switch p.Kind {
	case ProposalProcedure:
		hash := hasher.HexString(hasher.Hash(hasher.CanonicalString(map[string]string{"kind": "procedure", "content": p.Content})))
		if _, exists, err := e.procedural.FindByContentHash(ctx, projectID, hash); err != nil {
			return false, fmt.Errorf("checking for existing procedure: %w", err)
		} else if exists {
			return false, nil
		}
		name := fmt.Sprintf("learned-%s", hash[:12])
		_, err := e.procedural.Create(ctx, &types.Procedure{
			ProjectID:   projectID,
			Name:        name,
			Description: p.Content,
			Source:      types.ProcedureLearned,
			Steps:       []types.Step{{ActionKind: "learned", Inputs: map[string]any{"summary": p.Content}}},
		})
		if err != nil {
			return false, fmt.Errorf("promoting procedure proposal: %w", err)
		}
		return true, nil

	case ProposalSemantic:
		hash := hasher.HexString(hasher.Hash(hasher.CanonicalString(map[string]string{"kind": "semantic", "content": p.Content})))
		if _, exists, err := e.semantic.FindByContentHash(ctx, projectID, hash); err != nil {
			return false, fmt.Errorf("checking for existing semantic memory: %w", err)
		} else if exists {
			return false, nil
		}
		_, err := e.semantic.Store(ctx, &types.SemanticMemory{
			ProjectID:      projectID,
			Content:        p.Content,
			MemoryType:     types.MemoryFact,
			SourceEventIDs: p.SourceIDs,
			Confidence:     p.Cohesion,
		})
		if err != nil {
			return false, fmt.Errorf("promoting semantic proposal: %w", err)
		}
		return true, nil

	case ProposalGraph:
		ids := make([]types.ID, 0, len(p.Entities))
		for _, name := range p.Entities {
			existing, err := e.graph.FindEntityByName(ctx, projectID, name)
			if err != nil {
				return false, fmt.Errorf("looking up entity %q: %w", name, err)
			}
			if existing != nil {
				ids = append(ids, existing.ID)
				continue
			}
			id, err := e.graph.CreateEntity(ctx, &types.Entity{ProjectID: projectID, Type: types.EntityUnknown, Name: name})
			if err != nil {
				return false, fmt.Errorf("creating entity %q: %w", name, err)
			}
			ids = append(ids, id)
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				existingRel, err := e.graph.FindRelation(ctx, projectID, ids[i], ids[j], types.RelationRelatesTo)
				if err != nil {
					return false, fmt.Errorf("checking for existing relation: %w", err)
				}
				if existingRel != nil {
					continue
				}
				if _, err := e.graph.CreateRelation(ctx, &types.Relation{
					ProjectID:    projectID,
					FromEntityID: ids[i],
					ToEntityID:   ids[j],
					Type:         types.RelationRelatesTo,
					Weight:       p.Cohesion,
				}); err != nil {
					return false, fmt.Errorf("relating entities: %w", err)
				}
			}
		}
		return true, nil
	}
	return false, nil
}

// qualityScore weighs the fraction of proposals that were either
// validated by Stage B or accepted without needing it against overall
// coverage of the events considered.
func qualityScore(proposals []Proposal, run *types.ConsolidationRun) float64 {
	if len(proposals) == 0 {
		return 0
	}
	validated := 0
	for _, p := range proposals {
		if !p.Unvalidated && p.Verdict != "" {
			validated++
		}
	}
	validationRate := float64(validated) / float64(len(proposals))

	coverage := 0.0
	if run.EventsConsidered > 0 {
		covered := run.MemoriesCreated + run.ProceduresCreated
		coverage = float64(covered) / float64(run.EventsConsidered)
		if coverage > 1 {
			coverage = 1
		}
	}
	return 0.5*validationRate + 0.5*coverage
}

func runToRecord(run *types.ConsolidationRun) (storage.Record, error) {
	body, err := json.Marshal(run)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling consolidation run: %w", err)
	}
	return storage.Record{
		ID:        int64(run.ID),
		ProjectID: int64(run.ProjectID),
		Fields: map[string]any{
			"trigger":  string(run.Trigger),
			"strategy": string(run.Strategy),
		},
		Body: body,
	}, nil
}

func (e *Engine) saveRun(ctx context.Context, run *types.ConsolidationRun) (types.ID, error) {
	rec, err := runToRecord(run)
	if err != nil {
		return 0, err
	}
	id, err := e.db.Put(ctx, storage.NSConsolidationRuns, rec)
	if err != nil {
		return 0, fmt.Errorf("saving consolidation run: %w", err)
	}
	return types.ID(id), nil
}
