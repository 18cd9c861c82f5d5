package types

import "time"

// WorkingMemoryItem is a bounded-capacity scratchpad entry referencing an
// episodic event by id.
type WorkingMemoryItem struct {
	ID                  ID
	ProjectID           ID
	EventID             ID
	AddedAt             time.Time
	LastAccessed        time.Time
	RecencyScore        float64 // 0..1, decays with time
	ImportanceScore     float64 // 0..1
	DistinctivenessScore float64 // 0..1
}

// Composite computes the working-memory eviction/selection score:
// 0.4*recency + 0.35*importance + 0.25*distinctiveness.
func (w *WorkingMemoryItem) Composite() float64 {
	return 0.4*w.RecencyScore + 0.35*w.ImportanceScore + 0.25*w.DistinctivenessScore
}

// DefaultWorkingMemoryCapacity follows Miller's 7 +/- 2 working-memory limit.
const DefaultWorkingMemoryCapacity = 7

// RoutingTarget is the layer a working-memory item is routed to when
// forced out by capacity.
type RoutingTarget string

const (
	RouteProspective RoutingTarget = "PROSPECTIVE"
	RouteProcedural  RoutingTarget = "PROCEDURAL"
	RouteEpisodic    RoutingTarget = "EPISODIC"
	RouteSemantic    RoutingTarget = "SEMANTIC"
)

// RoutingDecision is the output of the working-memory controller's
// routing heuristic for a single forced-out item.
type RoutingDecision struct {
	Target     RoutingTarget
	Confidence float64
}
