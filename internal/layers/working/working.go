// Package working implements the working-memory layer: a small,
// per-project scratchpad of recently touched episodic events with
// capacity-triggered eviction, using an in-memory, mutex-protected,
// capacity-bound eviction shape generalized from TTL+LRU cache entries
// to composite-score-ranked memory items routed to a longer-term layer
// on eviction.
package working

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shawkridge/athena/internal/types"
)

// Consolidator receives items evicted from working memory so they can
// be routed into a longer-term layer. Athena's scheduler wires this to
// the consolidation pipeline; tests may use a no-op.
type Consolidator interface {
	Consolidate(ctx context.Context, item types.WorkingMemoryItem, decision types.RoutingDecision)
}

// Store is an in-memory, per-project bounded working-memory controller.
// It is not backed by storage.Storage: working memory is explicitly a
// volatile scratchpad, rebuilt each session from episodic
// recall rather than persisted.
type Store struct {
	mu           sync.Mutex
	capacity     int
	consolidator Consolidator
	items        map[types.ID]map[types.ID]*types.WorkingMemoryItem // projectID -> itemID -> item
	nextID       types.ID
}

// New creates a working-memory controller with the given capacity
// (types.DefaultWorkingMemoryCapacity if capacity <= 0). consolidator
// may be nil; evictions are then silently dropped.
func New(capacity int, consolidator Consolidator) *Store {
	if capacity <= 0 {
		capacity = types.DefaultWorkingMemoryCapacity
	}
	return &Store{
		capacity:     capacity,
		consolidator: consolidator,
		items:        make(map[types.ID]map[types.ID]*types.WorkingMemoryItem),
	}
}

// Add inserts an item into projectID's working set, evicting the lowest
// composite-score item if the set is already at capacity. The returned
// bool reports whether that eviction happened, i.e. whether this push
// triggered a consolidation routing.
func (s *Store) Add(ctx context.Context, item types.WorkingMemoryItem) (types.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.items[item.ProjectID]
	if !ok {
		bucket = make(map[types.ID]*types.WorkingMemoryItem)
		s.items[item.ProjectID] = bucket
	}

	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now()
	}
	item.LastAccessed = item.AddedAt

	s.nextID++
	item.ID = s.nextID
	bucket[item.ID] = &item

	evicted := false
	if len(bucket) > s.capacity {
		evicted = s.evictLowestLocked(ctx, item.ProjectID, bucket)
	}
	return item.ID, evicted
}

// evictLowestLocked removes the lowest-composite-score item from bucket
// and routes it out via the consolidator, reporting whether an item was
// actually evicted. Must be called with s.mu held.
func (s *Store) evictLowestLocked(ctx context.Context, projectID types.ID, bucket map[types.ID]*types.WorkingMemoryItem) bool {
	var lowestID types.ID
	var lowest *types.WorkingMemoryItem
	for id, item := range bucket {
		if lowest == nil || item.Composite() < lowest.Composite() {
			lowestID = id
			lowest = item
		}
	}
	if lowest == nil {
		return false
	}
	delete(bucket, lowestID)

	decision := route(*lowest)
	if s.consolidator != nil {
		s.consolidator.Consolidate(ctx, *lowest, decision)
	}
	return true
}

// route picks a longer-term layer for an evicted item based on which
// score dominated its composite: distinctiveness at least as high as
// both other scores routes to semantic (worth generalizing); otherwise
// importance at least as high as recency routes to procedural; otherwise
// a positive recency routes to episodic (just log it); an item with no
// positive score defaults to prospective at confidence 0.5.
func route(item types.WorkingMemoryItem) types.RoutingDecision {
	switch {
	case item.DistinctivenessScore >= item.RecencyScore && item.DistinctivenessScore >= item.ImportanceScore:
		return types.RoutingDecision{Target: types.RouteSemantic, Confidence: item.DistinctivenessScore}
	case item.ImportanceScore >= item.RecencyScore:
		return types.RoutingDecision{Target: types.RouteProcedural, Confidence: item.ImportanceScore}
	case item.RecencyScore > 0:
		return types.RoutingDecision{Target: types.RouteEpisodic, Confidence: item.RecencyScore}
	default:
		return types.RoutingDecision{Target: types.RouteProspective, Confidence: 0.5}
	}
}

// Touch refreshes an item's recency score and last-accessed time,
// keeping it from being the next eviction candidate.
func (s *Store) Touch(projectID, itemID types.ID, recencyScore float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.items[projectID]
	if !ok {
		return false
	}
	item, ok := bucket[itemID]
	if !ok {
		return false
	}
	item.RecencyScore = recencyScore
	item.LastAccessed = time.Now()
	return true
}

// List returns projectID's current working set, ordered by descending
// composite score.
func (s *Store) List(projectID types.ID) []types.WorkingMemoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.items[projectID]
	out := make([]types.WorkingMemoryItem, 0, len(bucket))
	for _, item := range bucket {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Composite() > out[j].Composite() })
	return out
}

// Len reports how many items are currently held for projectID.
func (s *Store) Len(projectID types.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[projectID])
}

// decayFloor is the composite score below which a decayed item is
// evicted on the next DecayTick rather than left to linger until
// capacity forces it out.
const decayFloor = 0.05

// DecayTick recomputes every held item's recency score from its
// time-since-last-access against halfLife, then evicts anything whose
// composite score has decayed below decayFloor. Intended to be called
// periodically by the scheduler so long-idle items get routed to a
// longer-term layer instead of silently growing stale.
func (s *Store) DecayTick(ctx context.Context, halfLife time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if halfLife <= 0 {
		return 0
	}

	now := time.Now()
	evicted := 0
	for _, bucket := range s.items {
		var stale []types.ID
		for id, item := range bucket {
			elapsed := now.Sub(item.LastAccessed)
			item.RecencyScore = math.Exp(-math.Ln2 * elapsed.Seconds() / halfLife.Seconds())
			if item.Composite() < decayFloor {
				stale = append(stale, id)
			}
		}
		for _, id := range stale {
			item := bucket[id]
			delete(bucket, id)
			decision := route(*item)
			if s.consolidator != nil {
				s.consolidator.Consolidate(ctx, *item, decision)
			}
			evicted++
		}
	}
	return evicted
}
