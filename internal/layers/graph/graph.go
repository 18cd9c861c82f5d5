// Package graph implements the knowledge graph layer: entities and
// directed relations with bounded-depth traversal and deterministic
// community detection, walking the graph breadth-first the same way a
// dependency tree is walked, generalized here to a general-purpose
// entity graph.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Store is the graph layer, backed by a generic storage.Storage.
type Store struct {
	db storage.Storage
}

// New wraps backend as the graph layer.
func New(backend storage.Storage) *Store {
	return &Store{db: backend}
}

func entityToRecord(e *types.Entity) (storage.Record, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling entity: %w", err)
	}
	return storage.Record{
		ID:        int64(e.ID),
		ProjectID: int64(e.ProjectID),
		Fields:    map[string]any{"type": string(e.Type), "name": e.Name},
		Body:      body,
		Content:   e.Name,
	}, nil
}

func entityFromRecord(rec storage.Record) (*types.Entity, error) {
	var e types.Entity
	if err := json.Unmarshal(rec.Body, &e); err != nil {
		return nil, fmt.Errorf("unmarshalling entity %d: %w", rec.ID, err)
	}
	e.ID = types.ID(rec.ID)
	return &e, nil
}

func relationToRecord(r *types.Relation) (storage.Record, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling relation: %w", err)
	}
	return storage.Record{
		ID:        int64(r.ID),
		ProjectID: int64(r.ProjectID),
		Fields: map[string]any{
			"from_entity_id": int64(r.FromEntityID),
			"to_entity_id":   int64(r.ToEntityID),
			"type":           string(r.Type),
		},
		Body: body,
	}, nil
}

func relationFromRecord(rec storage.Record) (*types.Relation, error) {
	var r types.Relation
	if err := json.Unmarshal(rec.Body, &r); err != nil {
		return nil, fmt.Errorf("unmarshalling relation %d: %w", rec.ID, err)
	}
	r.ID = types.ID(rec.ID)
	return &r, nil
}

// CreateEntity persists a new graph node.
func (s *Store) CreateEntity(ctx context.Context, e *types.Entity) (types.ID, error) {
	if len(e.Observations) > types.MaxObservations {
		return 0, apperr.Wrapf(apperr.ErrInvalidArgument, "entity observations exceed %d", types.MaxObservations)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	rec, err := entityToRecord(e)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSEntities, rec)
	if err != nil {
		return 0, fmt.Errorf("creating entity: %w", err)
	}
	return types.ID(id), nil
}

// FindEntityByName returns the first entity named name in projectID, or
// nil if none exists. Used by callers (e.g. consolidation) that want to
// upsert rather than duplicate entities observed across runs.
func (s *Store) FindEntityByName(ctx context.Context, projectID types.ID, name string) (*types.Entity, error) {
	it, err := s.db.Scan(ctx, storage.NSEntities, storage.NewFilter(int64(projectID)).With("name", name))
	if err != nil {
		return nil, fmt.Errorf("looking up entity by name: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return entityFromRecord(it.Record())
	}
	return nil, it.Err()
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id types.ID) (*types.Entity, error) {
	rec, err := s.db.Get(ctx, storage.NSEntities, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get entity %d: %w", id, err)
	}
	return entityFromRecord(rec)
}

// CreateRelation persists a directed edge. Self-loops are rejected;
// no relation type currently allows them.
func (s *Store) CreateRelation(ctx context.Context, r *types.Relation) (types.ID, error) {
	if r.FromEntityID == r.ToEntityID {
		return 0, apperr.Wrapf(apperr.ErrInvalidArgument, "relation cannot be a self-loop on entity %d", r.FromEntityID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	rec, err := relationToRecord(r)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSRelations, rec)
	if err != nil {
		return 0, fmt.Errorf("creating relation: %w", err)
	}
	return types.ID(id), nil
}

// FindRelation returns an existing relation of type relType between
// fromID and toID, or nil if none exists. Used by callers (e.g.
// consolidation) that want to avoid creating duplicate edges across
// repeated runs over the same source material.
func (s *Store) FindRelation(ctx context.Context, projectID types.ID, fromID, toID types.ID, relType types.RelationType) (*types.Relation, error) {
	filter := storage.NewFilter(int64(projectID)).
		With("from_entity_id", int64(fromID)).
		With("to_entity_id", int64(toID)).
		With("type", string(relType))
	it, err := s.db.Scan(ctx, storage.NSRelations, filter)
	if err != nil {
		return nil, fmt.Errorf("looking up relation: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return relationFromRecord(it.Record())
	}
	return nil, it.Err()
}

func (s *Store) allRelations(ctx context.Context, projectID types.ID) ([]*types.Relation, error) {
	it, err := s.db.Scan(ctx, storage.NSRelations, storage.NewFilter(int64(projectID)))
	if err != nil {
		return nil, fmt.Errorf("scanning relations: %w", err)
	}
	defer func() { _ = it.Close() }()

	var out []*types.Relation
	for it.Next(ctx) {
		r, err := relationFromRecord(it.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, it.Err()
}

// Neighbors returns entities reachable from entityID within depth hops
// in the given direction, breadth-first with a visited set, in discovery
// order. depth is clamped to types.MaxTraversalDepth.
func (s *Store) Neighbors(ctx context.Context, projectID types.ID, entityID types.ID, direction types.Direction, depth int) ([]types.ID, error) {
	if depth > types.MaxTraversalDepth {
		depth = types.MaxTraversalDepth
	}
	relations, err := s.allRelations(ctx, projectID)
	if err != nil {
		return nil, err
	}

	adj := adjacency(relations, direction)

	visited := map[types.ID]bool{entityID: true}
	queue := []types.ID{entityID}
	var order []types.ID

	for d := 0; d < depth && len(queue) > 0; d++ {
		var next []types.ID
		for _, node := range queue {
			for _, neighbor := range adj[node] {
				if !visited[neighbor] {
					visited[neighbor] = true
					order = append(order, neighbor)
					next = append(next, neighbor)
				}
			}
		}
		queue = next
	}
	return order, nil
}

func adjacency(relations []*types.Relation, direction types.Direction) map[types.ID][]types.ID {
	adj := make(map[types.ID][]types.ID)
	for _, r := range relations {
		switch direction {
		case types.DirectionOut:
			adj[r.FromEntityID] = append(adj[r.FromEntityID], r.ToEntityID)
		case types.DirectionIn:
			adj[r.ToEntityID] = append(adj[r.ToEntityID], r.FromEntityID)
		default: // BOTH
			adj[r.FromEntityID] = append(adj[r.FromEntityID], r.ToEntityID)
			adj[r.ToEntityID] = append(adj[r.ToEntityID], r.FromEntityID)
		}
	}
	return adj
}

// Path finds a shortest path from fromID to toID within maxDepth hops
// using breadth-first search, returning nil if no path exists.
func (s *Store) Path(ctx context.Context, projectID types.ID, fromID, toID types.ID, maxDepth int) ([]types.ID, error) {
	if maxDepth > types.MaxTraversalDepth {
		maxDepth = types.MaxTraversalDepth
	}
	relations, err := s.allRelations(ctx, projectID)
	if err != nil {
		return nil, err
	}
	adj := adjacency(relations, types.DirectionOut)

	if fromID == toID {
		return []types.ID{fromID}, nil
	}

	type frame struct {
		id   types.ID
		path []types.ID
	}
	visited := map[types.ID]bool{fromID: true}
	queue := []frame{{id: fromID, path: []types.ID{fromID}}}

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var next []frame
		for _, f := range queue {
			for _, neighbor := range adj[f.id] {
				if visited[neighbor] {
					continue
				}
				path := append(append([]types.ID{}, f.path...), neighbor)
				if neighbor == toID {
					return path, nil
				}
				visited[neighbor] = true
				next = append(next, frame{id: neighbor, path: path})
			}
		}
		queue = next
	}
	return nil, nil
}

// Communities groups entities via label propagation: every node starts
// with its own id as a label, then repeatedly adopts the most common
// label among its neighbors (ties broken by smallest label id) until
// stable or a fixed iteration cap is reached, keeping the algorithm
// deterministic.
func (s *Store) Communities(ctx context.Context, projectID types.ID) (map[types.ID][]types.ID, error) {
	const maxIterations = 20

	relations, err := s.allRelations(ctx, projectID)
	if err != nil {
		return nil, err
	}
	adj := adjacency(relations, types.DirectionBoth)

	nodes := map[types.ID]bool{}
	for n := range adj {
		nodes[n] = true
	}
	ids := make([]types.ID, 0, len(nodes))
	for n := range nodes {
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	label := make(map[types.ID]types.ID, len(ids))
	for _, id := range ids {
		label[id] = id
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for _, id := range ids {
			counts := map[types.ID]int{}
			for _, neighbor := range adj[id] {
				counts[label[neighbor]]++
			}
			if len(counts) == 0 {
				continue
			}
			best := label[id]
			bestCount := -1
			candidates := make([]types.ID, 0, len(counts))
			for l := range counts {
				candidates = append(candidates, l)
			}
			sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
			for _, l := range candidates {
				if counts[l] > bestCount {
					bestCount = counts[l]
					best = l
				}
			}
			if best != label[id] {
				label[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	communities := make(map[types.ID][]types.ID)
	for _, id := range ids {
		l := label[id]
		communities[l] = append(communities[l], id)
	}
	return communities, nil
}
