package types

import "time"

// TaskStatus is the lifecycle state of a prospective task.
type TaskStatus string

const (
	TaskPending     TaskStatus = "PENDING"
	TaskActive      TaskStatus = "ACTIVE"
	TaskInProgress  TaskStatus = "IN_PROGRESS"
	TaskBlocked     TaskStatus = "BLOCKED"
	TaskCompleted   TaskStatus = "COMPLETED"
	TaskFailed      TaskStatus = "FAILED"
	TaskSuspended   TaskStatus = "SUSPENDED"
)

// Priority is a task's scheduling priority. Named constants carry the
// fixed numeric weights scheduling compares against.
type Priority int

const (
	PriorityLow      Priority = 3
	PriorityMedium   Priority = 5
	PriorityHigh     Priority = 7
	PriorityCritical Priority = 9
)

// Milestone is a named checkpoint within a task's progress.
type Milestone struct {
	Name      string
	Reached   bool
	ReachedAt time.Time
}

// TaskMetrics tracks health/velocity signals for a prospective task.
type TaskMetrics struct {
	Errors      int
	Blockers    int
	HealthScore float64
	Velocity    float64
}

// ProspectiveTask is intended future work. Goals are tasks with
// hierarchical parent/child links via ParentID.
type ProspectiveTask struct {
	ID           ID
	ProjectID    ID
	Title        string
	Status       TaskStatus
	Priority     Priority
	Deadline     *time.Time
	Dependencies []ID
	Owner        string
	Progress     int // 0-100
	Milestones   []Milestone
	Metrics      TaskMetrics
	ParentID     ID // 0 if top-level
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ConflictKind enumerates the typed conflicts prospective.DetectConflicts
// can report.
type ConflictKind string

const (
	ConflictResourceContention ConflictKind = "RESOURCE_CONTENTION"
	ConflictDependencyCycle    ConflictKind = "DEPENDENCY_CYCLE"
	ConflictTiming             ConflictKind = "TIMING_CONFLICT"
	ConflictPriority           ConflictKind = "PRIORITY_CONFLICT"
	ConflictCapacityOverload   ConflictKind = "CAPACITY_OVERLOAD"
)

// TaskConflict describes one detected conflict among prospective tasks.
type TaskConflict struct {
	Kind        ConflictKind
	TaskIDs     []ID
	CyclePath   []ID // populated only for ConflictDependencyCycle
	Description string
}
