package types

import "time"

// EventType classifies the kind of happening an episodic event records.
type EventType string

const (
	EventAction       EventType = "ACTION"
	EventObservation  EventType = "OBSERVATION"
	EventDecision     EventType = "DECISION"
	EventError        EventType = "ERROR"
	EventTest         EventType = "TEST"
	EventCommit       EventType = "COMMIT"
	EventConversation EventType = "CONVERSATION"
)

// CodeEventType further classifies code-related events.
type CodeEventType string

const (
	CodeEdit   CodeEventType = "EDIT"
	CodeReview CodeEventType = "REVIEW"
	CodeRun    CodeEventType = "RUN"
	CodeDiff   CodeEventType = "DIFF"
)

// Outcome records how an event resolved.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeBlocked Outcome = "BLOCKED"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// ConsolidationStatus tracks an episodic event's progress through the
// consolidation pipeline.
type ConsolidationStatus string

const (
	ConsolidationPending    ConsolidationStatus = "PENDING"
	ConsolidationInProgress ConsolidationStatus = "IN_PROGRESS"
	ConsolidationDone       ConsolidationStatus = "CONSOLIDATED"
	ConsolidationDiscarded  ConsolidationStatus = "DISCARDED"
)

// EventContext is the nested situational context of an event.
type EventContext struct {
	Cwd    string   `json:"cwd,omitempty"`
	Files  []string `json:"files,omitempty"`
	Task   string   `json:"task,omitempty"`
	Phase  string   `json:"phase,omitempty"`
	Branch string   `json:"branch,omitempty"`
}

// EventMetrics captures quantitative facts about an event's execution.
type EventMetrics struct {
	DurationMs   int64 `json:"duration_ms,omitempty"`
	FilesChanged int   `json:"files_changed,omitempty"`
	LinesAdded   int   `json:"lines_added,omitempty"`
	LinesDeleted int   `json:"lines_deleted,omitempty"`
}

// EventQuality carries quality annotations attached at ingest or by
// later consolidation passes.
type EventQuality struct {
	PerformanceMetrics map[string]float64 `json:"performance_metrics,omitempty"`
	CodeQualityScore   float64            `json:"code_quality_score,omitempty"`
	Confidence         float64            `json:"confidence"`
}

// EpisodicEvent is an observed happening, the atomic unit of ingest.
//
// (project_id, content_hash) is unique: ingest of a duplicate returns the
// existing id rather than erroring.
type EpisodicEvent struct {
	ID        ID
	ProjectID ID
	SessionID string
	Timestamp time.Time // monotonic, microsecond resolution
	EventType EventType

	CodeEventType CodeEventType // optional
	Content       string        // <= 64 KiB
	Outcome       Outcome
	Context       EventContext

	// Code fields
	FilePath   string
	SymbolName string
	SymbolType string
	Language   string
	Diff       string

	// Version-control fields
	GitCommit string
	GitAuthor string

	Metrics EventMetrics

	// Test fields
	TestName   string
	TestPassed *bool
	ErrorType  string
	StackTrace string

	Quality EventQuality

	ContentHash [32]byte // excludes ID, ConsolidationStatus, ConsolidatedAt

	ConsolidationStatus ConsolidationStatus
	ConsolidatedAt      *time.Time
}

// MaxContentBytes is the invariant cap on EpisodicEvent.Content.
const MaxContentBytes = 64 * 1024
