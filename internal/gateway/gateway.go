// Package gateway implements a pipeline of typed quality gates applied
// to the output of retrieval, consolidation, and any tool that opts in.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/layers/meta"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Item is the minimal shape a gate needs from whatever it is
// evaluating: a retrieval hit, a consolidation proposal, or any other
// operation output with declared invariants. Callers adapt their own
// result types into Items before calling Evaluate.
type Item struct {
	ID         types.ID
	SourceIDs  []types.ID
	Confidence float64
	Content    string
	Embedding  []float32
	Score      float64 // the ranking score Coherence checks for monotonicity
}

// ExistenceChecker answers whether an id exists anywhere in a project,
// backing the Grounding gate.
type ExistenceChecker interface {
	Exists(ctx context.Context, projectID types.ID, id types.ID) (bool, error)
}

// SoundnessChecker answers whether an item's content hash collides with
// an existing memory whose content differs, backing the Soundness gate.
// Only consolidation wires one; retrieval results are never themselves
// promotion proposals.
type SoundnessChecker interface {
	ConflictingContent(ctx context.Context, projectID types.ID, item Item) (bool, error)
}

// Options carries the collaborators and thresholds a Check function may
// need. Not every gate uses every field.
type Options struct {
	ProjectID              types.ID
	ConfidenceThreshold    float64
	ExistenceChecker       ExistenceChecker
	SoundnessChecker       SoundnessChecker
	ContradictionPredicate meta.ContradictionPredicate
}

// CheckFunc evaluates items and reports whether the gate passed, plus
// the concrete violations found. It must be deterministic: same items
// and options in, same result out.
type CheckFunc func(ctx context.Context, items []Item, opts Options) (passed bool, violations []types.GateViolation)

// RemediateFunc is applied when a Check fails and a remediation handler
// is registered. It must be deterministic and idempotent: applying it
// twice to its own output must be a no-op.
type RemediateFunc func(ctx context.Context, items []Item, violations []types.GateViolation) []Item

// Gate is one typed quality gate in the pipeline.
type Gate struct {
	Name      types.GateName
	Mode      types.GateMode
	Check     CheckFunc
	Remediate RemediateFunc
}

// GateResult is the in-flight result of running one gate, before it is
// folded into a persisted types.GateOutcome.
type GateResult struct {
	Gate        types.GateName
	Mode        types.GateMode
	Passed      bool
	Violations  []types.GateViolation
	Remediation string
	Duration    time.Duration
}

// Registry holds the gates available to an Engine, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	byName map[types.GateName]*Gate
}

// NewRegistry creates an empty gate registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[types.GateName]*Gate)}
}

// Register adds a gate, replacing any existing gate of the same name.
// Unlike the hook-gate registry this allows a caller to swap in a
// custom implementation of a built-in gate (e.g. a project-specific
// Soundness check) without a separate override mechanism.
func (r *Registry) Register(g *Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[g.Name] = g
}

// Get returns a gate by name, or nil if not registered.
func (r *Registry) Get(name types.GateName) *Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// defaultOrder is the canonical evaluation order for the six content
// gates (Efficiency is evaluated separately, over the other six's
// measured durations).
var defaultOrder = []types.GateName{
	types.GateGrounding,
	types.GateConfidence,
	types.GateConsistency,
	types.GateSoundness,
	types.GateMinimality,
	types.GateCoherence,
}

// Selected returns the registered gates named in order, or all
// registered content gates in canonical order if names is empty.
func (r *Registry) Selected(names []types.GateName) []*Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = defaultOrder
	}
	out := make([]*Gate, 0, len(names))
	for _, n := range names {
		if g, ok := r.byName[n]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Engine runs the gate pipeline and persists its decisions.
type Engine struct {
	db  storage.Storage
	reg *Registry
	cfg *config.Config
}

// New builds a gateway Engine over backend with the built-in gates
// registered, modes set from cfg.VerificationStrictMode.
func New(backend storage.Storage, cfg *config.Config) *Engine {
	reg := NewRegistry()
	mode := types.GateModeSoft
	if cfg != nil && cfg.VerificationStrictMode {
		mode = types.GateModeStrict
	}
	RegisterBuiltinGates(reg, mode)
	return &Engine{db: backend, reg: reg, cfg: cfg}
}

// Registry exposes the engine's gate registry so callers can register a
// project-specific gate (e.g. a real Soundness checker) before the
// first Evaluate call.
func (e *Engine) Registry() *Registry {
	return e.reg
}

func (e *Engine) confidenceThreshold() float64 {
	if e.cfg != nil && e.cfg.VerificationConfidenceThreshold > 0 {
		return e.cfg.VerificationConfidenceThreshold
	}
	return 0.6
}

// Evaluate runs the named gates (or all six content gates if names is
// empty) over items for the given operation, applies any registered
// remediation on failure, appends the Efficiency gate's latency-budget
// check, persists the resulting types.DecisionOutcome, and returns it
// alongside the (possibly remediated) item set.
func (e *Engine) Evaluate(ctx context.Context, projectID types.ID, operation string, items []Item, names []types.GateName, existence ExistenceChecker, soundness SoundnessChecker) (*types.DecisionOutcome, []Item, error) {
	opts := Options{
		ProjectID:           projectID,
		ConfidenceThreshold: e.confidenceThreshold(),
		ExistenceChecker:    existence,
		SoundnessChecker:    soundness,
	}

	gates := e.reg.Selected(names)
	outcome := &types.DecisionOutcome{
		ProjectID: projectID,
		Operation: operation,
		Decision:  "allow",
		CreatedAt: time.Now(),
	}

	var blockReasons []string
	durations := make(map[types.GateName]time.Duration, len(gates))

	for _, g := range gates {
		start := time.Now()
		passed, violations := g.Check(ctx, items, opts)
		result := GateResult{Gate: g.Name, Mode: g.Mode, Passed: passed, Violations: violations}

		if !passed && g.Remediate != nil {
			items = g.Remediate(ctx, items, violations)
			passed, violations = g.Check(ctx, items, opts)
			result = GateResult{Gate: g.Name, Mode: g.Mode, Passed: passed, Violations: violations, Remediation: "applied"}
		}

		result.Duration = time.Since(start)
		durations[g.Name] = result.Duration
		outcome.Gates = append(outcome.Gates, toGateOutcome(result))

		if !result.Passed && result.Mode == types.GateModeStrict {
			blockReasons = append(blockReasons, fmt.Sprintf("%s: %d violation(s)", result.Gate, len(result.Violations)))
		}
	}

	outcome.Gates = append(outcome.Gates, toGateOutcome(efficiencyResult(durations, efficiencyBudget)))

	if len(blockReasons) > 0 {
		outcome.Decision = "block"
	}

	outcome.ReturnedItemIDs = itemIDs(items)
	outcome.AggregateConfidence = meanConfidence(items)

	id, err := e.save(ctx, outcome)
	if err != nil {
		return nil, items, err
	}
	outcome.ID = id
	return outcome, items, nil
}

func toGateOutcome(r GateResult) types.GateOutcome {
	return types.GateOutcome{
		Gate:        r.Gate,
		Mode:        r.Mode,
		Passed:      r.Passed,
		Violations:  r.Violations,
		Remediation: r.Remediation,
		DurationMs:  r.Duration.Milliseconds(),
	}
}

func itemIDs(items []Item) []types.ID {
	out := make([]types.ID, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func meanConfidence(items []Item) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Confidence
	}
	return sum / float64(len(items))
}

// sortedGateNames is used only by the Efficiency gate to make its
// violation ordering deterministic for tests and logs.
func sortedGateNames(durations map[types.GateName]time.Duration) []types.GateName {
	out := make([]types.GateName, 0, len(durations))
	for n := range durations {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
