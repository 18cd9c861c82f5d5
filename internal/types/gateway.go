package types

import "time"

// GateName identifies one of the verification gateway's typed quality
// gates.
type GateName string

const (
	GateGrounding   GateName = "GROUNDING"
	GateConfidence  GateName = "CONFIDENCE"
	GateConsistency GateName = "CONSISTENCY"
	GateSoundness   GateName = "SOUNDNESS"
	GateMinimality  GateName = "MINIMALITY"
	GateCoherence   GateName = "COHERENCE"
	GateEfficiency  GateName = "EFFICIENCY"
)

// GateMode determines whether a failed gate blocks the operation
// outright or only warns.
type GateMode string

const (
	GateModeStrict GateMode = "STRICT"
	GateModeSoft   GateMode = "SOFT"
)

// GateViolation is one concrete problem a gate found with a specific
// item in the evaluated set.
type GateViolation struct {
	ItemID ID
	Detail string
}

// GateOutcome is the persisted result of running a single gate, folded
// into a DecisionOutcome.
type GateOutcome struct {
	Gate        GateName
	Mode        GateMode
	Passed      bool
	Violations  []GateViolation
	Remediation string // non-empty if a remediation handler altered the result set
	DurationMs  int64
}

// DecisionOutcome is the gateway's audit record of one evaluation pass
// over an operation's output. It is the unit record_outcome later
// attaches ground truth to.
type DecisionOutcome struct {
	ID                  ID
	ProjectID           ID
	Operation           string // e.g. "retrieval.search", "consolidation.run"
	Decision            string // "allow" or "block"
	Gates               []GateOutcome
	ReturnedItemIDs     []ID
	AggregateConfidence float64
	CreatedAt           time.Time

	// Feedback, populated later by record_outcome.
	WasCorrect *bool
	Lessons    []string
	ResolvedAt *time.Time
}
