// Package prospective implements the prospective memory layer: intended
// future work, goals, and conflict detection, detecting dependency
// cycles with a DFS generalized from issue dependency graphs to task
// dependency graphs.
package prospective

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Store is the prospective layer, backed by a generic storage.Storage.
type Store struct {
	db storage.Storage
}

// New wraps backend as the prospective layer.
func New(backend storage.Storage) *Store {
	return &Store{db: backend}
}

func toRecord(t *types.ProspectiveTask) (storage.Record, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling prospective task: %w", err)
	}
	return storage.Record{
		ID:        int64(t.ID),
		ProjectID: int64(t.ProjectID),
		Fields: map[string]any{
			"status":    string(t.Status),
			"parent_id": int64(t.ParentID),
		},
		Body:    body,
		Content: t.Title,
	}, nil
}

func fromRecord(rec storage.Record) (*types.ProspectiveTask, error) {
	var t types.ProspectiveTask
	if err := json.Unmarshal(rec.Body, &t); err != nil {
		return nil, fmt.Errorf("unmarshalling prospective task %d: %w", rec.ID, err)
	}
	t.ID = types.ID(rec.ID)
	return &t, nil
}

// CreateTask persists a new task or goal (goals are tasks with a
// ParentID forming the hierarchy).
func (s *Store) CreateTask(ctx context.Context, t *types.ProspectiveTask) (types.ID, error) {
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	rec, err := toRecord(t)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSTasks, rec)
	if err != nil {
		return 0, fmt.Errorf("creating prospective task: %w", err)
	}
	return types.ID(id), nil
}

// Get fetches a task by id.
func (s *Store) Get(ctx context.Context, id types.ID) (*types.ProspectiveTask, error) {
	rec, err := s.db.Get(ctx, storage.NSTasks, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get prospective task %d: %w", id, err)
	}
	return fromRecord(rec)
}

// Activate transitions a task to ACTIVE. Fails PreconditionFailed if any
// dependency is not yet COMPLETED.
func (s *Store) Activate(ctx context.Context, id types.ID) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	for _, depID := range t.Dependencies {
		dep, err := s.Get(ctx, depID)
		if err != nil {
			return err
		}
		if dep.Status != types.TaskCompleted {
			return apperr.Wrapf(apperr.ErrPreconditionFailed, "task %d depends on unsatisfied task %d (status %s)", id, depID, dep.Status)
		}
	}

	t.Status = types.TaskActive
	t.UpdatedAt = time.Now()
	return s.save(ctx, t)
}

// UpdateStatus sets a task's status directly, bypassing the dependency
// check Activate enforces (used for transitions like BLOCKED/SUSPENDED
// that don't imply readiness).
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, status types.TaskStatus) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return s.save(ctx, t)
}

// Complete marks a task finished with the given outcome status
// (COMPLETED or FAILED).
func (s *Store) Complete(ctx context.Context, id types.ID, outcome types.TaskStatus) error {
	if outcome != types.TaskCompleted && outcome != types.TaskFailed {
		return apperr.Wrapf(apperr.ErrInvalidArgument, "complete: outcome must be COMPLETED or FAILED, got %s", outcome)
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	t.Status = outcome
	t.Progress = 100
	t.UpdatedAt = time.Now()
	return s.save(ctx, t)
}

func (s *Store) save(ctx context.Context, t *types.ProspectiveTask) error {
	rec, err := toRecord(t)
	if err != nil {
		return err
	}
	if _, err := s.db.Put(ctx, storage.NSTasks, rec); err != nil {
		return fmt.Errorf("saving prospective task %d: %w", t.ID, err)
	}
	return nil
}

// GetHierarchy returns every task in projectID, with parent/child links
// intact via ParentID, for callers to build a tree view.
func (s *Store) GetHierarchy(ctx context.Context, projectID types.ID) ([]*types.ProspectiveTask, error) {
	it, err := s.db.Scan(ctx, storage.NSTasks, storage.NewFilter(int64(projectID)))
	if err != nil {
		return nil, fmt.Errorf("scanning prospective tasks: %w", err)
	}
	defer func() { _ = it.Close() }()

	var out []*types.ProspectiveTask
	for it.Next(ctx) {
		t, err := fromRecord(it.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, it.Err()
}

// DetectConflicts scans projectID's tasks for dependency cycles, priority
// inversions, capacity overload, timing conflicts, and resource
// contention. Dependency cycles are found by DFS over the dependency
// graph.
func (s *Store) DetectConflicts(ctx context.Context, projectID types.ID) ([]types.TaskConflict, error) {
	tasks, err := s.GetHierarchy(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var conflicts []types.TaskConflict
	conflicts = append(conflicts, detectDependencyCycles(tasks)...)
	conflicts = append(conflicts, detectPriorityConflicts(tasks)...)
	conflicts = append(conflicts, detectCapacityOverload(tasks)...)
	conflicts = append(conflicts, detectTimingConflicts(tasks)...)
	conflicts = append(conflicts, detectResourceContention(tasks)...)
	return conflicts, nil
}

func byID(tasks []*types.ProspectiveTask) map[types.ID]*types.ProspectiveTask {
	m := make(map[types.ID]*types.ProspectiveTask, len(tasks))
	for _, t := range tasks {
		m[t.ID] = t
	}
	return m
}

// detectDependencyCycles finds circular task dependencies via DFS with a
// recursion-stack set, same shape as DoltStore.DetectCycles: walk every
// unvisited node, and when a neighbor is already on the active recursion
// stack, the path slice from that neighbor onward is the cycle.
func detectDependencyCycles(tasks []*types.ProspectiveTask) []types.TaskConflict {
	graph := make(map[types.ID][]types.ID)
	for _, t := range tasks {
		graph[t.ID] = append(graph[t.ID], t.Dependencies...)
	}

	var conflicts []types.TaskConflict
	visited := make(map[types.ID]bool)
	onStack := make(map[types.ID]bool)
	var path []types.ID

	var dfs func(node types.ID) bool
	dfs = func(node types.ID) bool {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)

		for _, neighbor := range graph[node] {
			if !visited[neighbor] {
				if dfs(neighbor) {
					return true
				}
			} else if onStack[neighbor] {
				cycleStart := -1
				for i, n := range path {
					if n == neighbor {
						cycleStart = i
						break
					}
				}
				if cycleStart >= 0 {
					cycle := append([]types.ID{}, path[cycleStart:]...)
					conflicts = append(conflicts, types.TaskConflict{
						Kind:        types.ConflictDependencyCycle,
						TaskIDs:     cycle,
						CyclePath:   cycle,
						Description: fmt.Sprintf("dependency cycle involving %d tasks", len(cycle)),
					})
				}
			}
		}

		path = path[:len(path)-1]
		onStack[node] = false
		return false
	}

	for id := range graph {
		if !visited[id] {
			dfs(id)
		}
	}
	return conflicts
}

// detectPriorityConflicts flags each task that depends on a not yet
// completed task of lower priority, i.e. a lower-priority task blocks a
// higher-priority one.
func detectPriorityConflicts(tasks []*types.ProspectiveTask) []types.TaskConflict {
	index := byID(tasks)
	var conflicts []types.TaskConflict
	for _, t := range tasks {
		for _, depID := range t.Dependencies {
			dep, ok := index[depID]
			if !ok {
				continue
			}
			if dep.Priority < t.Priority && dep.Status != types.TaskCompleted {
				conflicts = append(conflicts, types.TaskConflict{
					Kind:        types.ConflictPriority,
					TaskIDs:     []types.ID{t.ID, dep.ID},
					Description: fmt.Sprintf("higher priority task %d blocked by lower priority task %d", t.ID, dep.ID),
				})
			}
		}
	}
	return conflicts
}

// detectCapacityOverload flags an owner with more than 5 simultaneously
// active tasks.
func detectCapacityOverload(tasks []*types.ProspectiveTask) []types.TaskConflict {
	const maxActivePerOwner = 5
	byOwner := make(map[string][]types.ID)
	for _, t := range tasks {
		if t.Owner == "" {
			continue
		}
		if t.Status == types.TaskActive || t.Status == types.TaskInProgress {
			byOwner[t.Owner] = append(byOwner[t.Owner], t.ID)
		}
	}
	var conflicts []types.TaskConflict
	for owner, ids := range byOwner {
		if len(ids) > maxActivePerOwner {
			conflicts = append(conflicts, types.TaskConflict{
				Kind:        types.ConflictCapacityOverload,
				TaskIDs:     ids,
				Description: fmt.Sprintf("owner %q has %d active tasks, exceeding %d", owner, len(ids), maxActivePerOwner),
			})
		}
	}
	return conflicts
}

// detectTimingConflicts flags a task whose deadline falls before the
// deadline of a task it depends on, an unsatisfiable ordering.
func detectTimingConflicts(tasks []*types.ProspectiveTask) []types.TaskConflict {
	index := byID(tasks)
	var conflicts []types.TaskConflict
	for _, t := range tasks {
		if t.Deadline == nil {
			continue
		}
		for _, depID := range t.Dependencies {
			dep, ok := index[depID]
			if !ok || dep.Deadline == nil {
				continue
			}
			if dep.Deadline.After(*t.Deadline) {
				conflicts = append(conflicts, types.TaskConflict{
					Kind:        types.ConflictTiming,
					TaskIDs:     []types.ID{t.ID, dep.ID},
					Description: fmt.Sprintf("task %d deadline precedes dependency %d's deadline", t.ID, dep.ID),
				})
			}
		}
	}
	return conflicts
}

// detectResourceContention flags tasks sharing the same owner and
// overlapping via a shared parent, both active at once — a coarse
// stand-in for real resource modeling, which is out of this layer's
// scope.
func detectResourceContention(tasks []*types.ProspectiveTask) []types.TaskConflict {
	type key struct {
		owner    string
		parentID types.ID
	}
	groups := make(map[key][]types.ID)
	for _, t := range tasks {
		if t.Owner == "" || t.ParentID == 0 {
			continue
		}
		if t.Status != types.TaskActive && t.Status != types.TaskInProgress {
			continue
		}
		k := key{owner: t.Owner, parentID: t.ParentID}
		groups[k] = append(groups[k], t.ID)
	}
	var conflicts []types.TaskConflict
	for k, ids := range groups {
		if len(ids) > 1 {
			conflicts = append(conflicts, types.TaskConflict{
				Kind:        types.ConflictResourceContention,
				TaskIDs:     ids,
				Description: fmt.Sprintf("owner %q has %d concurrently active siblings under task %d", k.owner, len(ids), k.parentID),
			})
		}
	}
	return conflicts
}
