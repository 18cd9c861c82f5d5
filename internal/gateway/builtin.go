package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shawkridge/athena/internal/layers/meta"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterBuiltinGates registers the six content gates on reg, all
// starting in mode. Only Grounding gets a default remediation: drop
// unsupported items and leave re-scoring to the caller, since only it
// knows how to recompute a ranking score for the surviving items. The
// other gates have no canonical drop-and-retry behavior, so their
// violations surface as-is.
func RegisterBuiltinGates(reg *Registry, mode types.GateMode) {
	reg.Register(&Gate{Name: types.GateGrounding, Mode: mode, Check: groundingCheck, Remediate: dropViolatingItems})
	reg.Register(&Gate{Name: types.GateConfidence, Mode: mode, Check: confidenceCheck})
	reg.Register(&Gate{Name: types.GateConsistency, Mode: mode, Check: consistencyCheck})
	reg.Register(&Gate{Name: types.GateSoundness, Mode: mode, Check: soundnessCheck})
	reg.Register(&Gate{Name: types.GateMinimality, Mode: mode, Check: minimalityCheck})
	reg.Register(&Gate{Name: types.GateCoherence, Mode: mode, Check: coherenceCheck})
}

// dropViolatingItems removes every item named in violations. Currently
// only Grounding uses this remediation.
func dropViolatingItems(_ context.Context, items []Item, violations []types.GateViolation) []Item {
	drop := make(map[types.ID]bool, len(violations))
	for _, v := range violations {
		drop[v.ItemID] = true
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if !drop[it.ID] {
			out = append(out, it)
		}
	}
	return out
}

// groundingCheck requires every item to cite at least one source id
// that actually exists. Absent an ExistenceChecker the gate is a no-op
// pass, since grounding can only be verified against real storage.
func groundingCheck(ctx context.Context, items []Item, opts Options) (bool, []types.GateViolation) {
	if opts.ExistenceChecker == nil {
		return true, nil
	}
	var violations []types.GateViolation
	for _, it := range items {
		if len(it.SourceIDs) == 0 {
			violations = append(violations, types.GateViolation{ItemID: it.ID, Detail: "cites no source ids"})
			continue
		}
		grounded := false
		for _, sid := range it.SourceIDs {
			ok, err := opts.ExistenceChecker.Exists(ctx, opts.ProjectID, sid)
			if err != nil {
				continue
			}
			if ok {
				grounded = true
				break
			}
		}
		if !grounded {
			violations = append(violations, types.GateViolation{ItemID: it.ID, Detail: "no cited source id exists"})
		}
	}
	return len(violations) == 0, violations
}

// confidenceCheck requires the mean item confidence to clear the
// configured threshold.
func confidenceCheck(_ context.Context, items []Item, opts Options) (bool, []types.GateViolation) {
	if len(items) == 0 {
		return true, nil
	}
	avg := meanConfidence(items)
	if avg >= opts.ConfidenceThreshold {
		return true, nil
	}
	return false, []types.GateViolation{{Detail: fmt.Sprintf("aggregate confidence %.2f below threshold %.2f", avg, opts.ConfidenceThreshold)}}
}

// consistencyCheck requires no two items to contradict each other
// under the configured (or default polarity-heuristic) predicate.
func consistencyCheck(_ context.Context, items []Item, opts Options) (bool, []types.GateViolation) {
	predicate := opts.ContradictionPredicate
	if predicate == nil {
		predicate = meta.DefaultContradictionPredicate
	}
	var violations []types.GateViolation
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if predicate(a.Content, a.Embedding, b.Content, b.Embedding) {
				violations = append(violations, types.GateViolation{ItemID: a.ID, Detail: fmt.Sprintf("contradicts item %d", b.ID)})
			}
		}
	}
	return len(violations) == 0, violations
}

// soundnessCheck requires no item's content hash to collide with an
// existing memory of different content. Absent a SoundnessChecker the
// gate passes: only consolidation promotion
// proposals have a meaningful notion of "duplicate hash, different
// content" to check.
func soundnessCheck(ctx context.Context, items []Item, opts Options) (bool, []types.GateViolation) {
	if opts.SoundnessChecker == nil {
		return true, nil
	}
	var violations []types.GateViolation
	for _, it := range items {
		conflict, err := opts.SoundnessChecker.ConflictingContent(ctx, opts.ProjectID, it)
		if err != nil {
			continue
		}
		if conflict {
			violations = append(violations, types.GateViolation{ItemID: it.ID, Detail: "content hash collides with an existing memory of different content"})
		}
	}
	return len(violations) == 0, violations
}

// minimalityRedundancyThreshold is the cosine similarity above which
// two items with the same source set are considered redundant.
const minimalityRedundancyThreshold = 0.98

// minimalityCheck requires no two items to both be near-duplicates
// (cosine ≥ 0.98) and draw on the same source set.
func minimalityCheck(_ context.Context, items []Item, _ Options) (bool, []types.GateViolation) {
	var violations []types.GateViolation
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
				continue
			}
			if storage.CosineSimilarity(a.Embedding, b.Embedding) < minimalityRedundancyThreshold {
				continue
			}
			if !sameSourceSet(a.SourceIDs, b.SourceIDs) {
				continue
			}
			violations = append(violations, types.GateViolation{ItemID: b.ID, Detail: fmt.Sprintf("redundant with item %d", a.ID)})
		}
	}
	return len(violations) == 0, violations
}

func sameSourceSet(a, b []types.ID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[types.ID]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
	}
	for _, count := range seen {
		if count != 0 {
			return false
		}
	}
	return true
}

// coherenceCheck requires the item order to be monotonic non-increasing
// by Score, the shape the caller's ranking function promised.
func coherenceCheck(_ context.Context, items []Item, _ Options) (bool, []types.GateViolation) {
	var violations []types.GateViolation
	for i := 1; i < len(items); i++ {
		if items[i].Score > items[i-1].Score {
			violations = append(violations, types.GateViolation{
				ItemID: items[i].ID,
				Detail: fmt.Sprintf("scored %.4f above preceding item %d's %.4f", items[i].Score, items[i-1].ID, items[i-1].Score),
			})
		}
	}
	return len(violations) == 0, violations
}

// efficiencyBudget is the per-gate latency budget. Exceeding it never
// blocks the return; it only records a violation.
const efficiencyBudget = 50 * time.Millisecond

// efficiencyResult builds the Efficiency gate's result from the other
// gates' measured durations. It always reports Passed=true: efficiency
// violations are telemetry, not a blocking condition.
func efficiencyResult(durations map[types.GateName]time.Duration, budget time.Duration) GateResult {
	result := GateResult{Gate: types.GateEfficiency, Mode: types.GateModeSoft, Passed: true}
	for _, name := range sortedGateNames(durations) {
		d := durations[name]
		if d > budget {
			result.Violations = append(result.Violations, types.GateViolation{
				Detail: fmt.Sprintf("gate %s took %s, over the %s budget", name, d, budget),
			})
		}
	}
	return result
}
