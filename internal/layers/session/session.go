// Package session manages agent session lifecycle: at most one active
// session per project, a timeline of lightweight events, and
// consolidation history, using a TTL-reaping idiom generalized from
// cached storage handles to session context records.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Store is the session layer, backed by a generic storage.Storage.
type Store struct {
	db storage.Storage
}

// New wraps backend as the session layer.
func New(backend storage.Storage) *Store {
	return &Store{db: backend}
}

func toRecord(s *types.SessionContext) (storage.Record, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling session: %w", err)
	}
	return storage.Record{
		ID:        int64(s.ID),
		ProjectID: int64(s.ProjectID),
		Fields: map[string]any{
			"session_id": s.SessionID,
			"active":     s.Active(),
		},
		Body: body,
	}, nil
}

func fromRecord(rec storage.Record) (*types.SessionContext, error) {
	var s types.SessionContext
	if err := json.Unmarshal(rec.Body, &s); err != nil {
		return nil, fmt.Errorf("unmarshalling session %d: %w", rec.ID, err)
	}
	s.ID = types.ID(rec.ID)
	return &s, nil
}

// Start begins a new session for projectID. Fails Conflict if an active
// session already exists for the project.
func (s *Store) Start(ctx context.Context, projectID types.ID, sessionID, task string) (types.ID, error) {
	active, err := s.findActive(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if active != nil {
		return 0, apperr.Wrapf(apperr.ErrConflict, "project %d already has an active session %q", projectID, active.SessionID)
	}

	sess := &types.SessionContext{
		ProjectID: projectID,
		SessionID: sessionID,
		Task:      task,
		StartedAt: time.Now(),
	}
	rec, err := toRecord(sess)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSSessionContexts, rec)
	if err != nil {
		return 0, fmt.Errorf("starting session: %w", err)
	}
	return types.ID(id), nil
}

// GetActive returns the current active session for projectID, or nil if
// none is active. Used by the cascading recall orchestrator to inject
// session phase and recent events as soft context.
func (s *Store) GetActive(ctx context.Context, projectID types.ID) (*types.SessionContext, error) {
	return s.findActive(ctx, projectID)
}

func (s *Store) findActive(ctx context.Context, projectID types.ID) (*types.SessionContext, error) {
	filter := storage.NewFilter(int64(projectID)).With("active", true)
	it, err := s.db.Scan(ctx, storage.NSSessionContexts, filter)
	if err != nil {
		return nil, fmt.Errorf("scanning active sessions: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return fromRecord(it.Record())
	}
	return nil, it.Err()
}

// Get fetches a session by id.
func (s *Store) Get(ctx context.Context, id types.ID) (*types.SessionContext, error) {
	rec, err := s.db.Get(ctx, storage.NSSessionContexts, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return fromRecord(rec)
}

// RecordEvent appends a lightweight timeline entry to an active session.
func (s *Store) RecordEvent(ctx context.Context, id types.ID, eventType string, data map[string]any) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return apperr.Wrapf(apperr.ErrPreconditionFailed, "session %d has already ended", id)
	}
	sess.Events = append(sess.Events, types.SessionEvent{Type: eventType, Data: data, Recorded: time.Now()})
	return s.save(ctx, sess)
}

// RecordConsolidation appends a consolidation run reference to a
// session's history, called by the consolidation pipeline when it
// finishes a run tied to this session.
func (s *Store) RecordConsolidation(ctx context.Context, id types.ID, runID types.ID) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.ConsolidationHistory = append(sess.ConsolidationHistory, types.ConsolidationRef{RunID: runID, At: time.Now()})
	return s.save(ctx, sess)
}

// UpdateContext updates an active session's task and/or phase, leaving a
// field unchanged when passed "".
func (s *Store) UpdateContext(ctx context.Context, id types.ID, task, phase string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return apperr.Wrapf(apperr.ErrPreconditionFailed, "session %d has already ended", id)
	}
	if task != "" {
		sess.Task = task
	}
	if phase != "" {
		sess.Phase = phase
	}
	return s.save(ctx, sess)
}

// RecoverContext returns the active session if there is one. Otherwise
// it builds an unsaved context from the last of events (in the order
// given): its Context.Task and its Timestamp as StartedAt. The phase is
// not recovered and no pattern matching is done over the events.
func (s *Store) RecoverContext(ctx context.Context, projectID types.ID, events []*types.EpisodicEvent) (*types.SessionContext, error) {
	active, err := s.findActive(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}
	if len(events) == 0 {
		return nil, apperr.Wrapf(apperr.ErrNotFound, "no recent events to recover context from")
	}
	last := events[len(events)-1]
	return &types.SessionContext{
		ProjectID: projectID,
		Task:      last.Context.Task,
		StartedAt: last.Timestamp,
	}, nil
}

// End closes an active session. Idempotent: ending an already-ended
// session is a no-op.
func (s *Store) End(ctx context.Context, id types.ID) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Active() {
		return nil
	}
	now := time.Now()
	sess.EndedAt = &now
	return s.save(ctx, sess)
}

func (s *Store) save(ctx context.Context, sess *types.SessionContext) error {
	rec, err := toRecord(sess)
	if err != nil {
		return err
	}
	if _, err := s.db.Put(ctx, storage.NSSessionContexts, rec); err != nil {
		return fmt.Errorf("saving session %d: %w", sess.ID, err)
	}
	return nil
}

// ReapStale ends any session that has been active for longer than
// maxAge without a new event, returning the ids it closed. Intended to
// be called periodically by the scheduler as a TTL sweep.
func (s *Store) ReapStale(ctx context.Context, projectID types.ID, maxAge time.Duration) ([]types.ID, error) {
	it, err := s.db.Scan(ctx, storage.NSSessionContexts, storage.NewFilter(int64(projectID)).With("active", true))
	if err != nil {
		return nil, fmt.Errorf("scanning sessions for reap: %w", err)
	}
	defer func() { _ = it.Close() }()

	var stale []*types.SessionContext
	for it.Next(ctx) {
		sess, err := fromRecord(it.Record())
		if err != nil {
			return nil, err
		}
		stale = append(stale, sess)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	var reaped []types.ID
	for _, sess := range stale {
		lastActivity := sess.StartedAt
		if len(sess.Events) > 0 {
			lastActivity = sess.Events[len(sess.Events)-1].Recorded
		}
		if now.Sub(lastActivity) > maxAge {
			if err := s.End(ctx, sess.ID); err != nil {
				return nil, err
			}
			reaped = append(reaped, sess.ID)
		}
	}
	return reaped, nil
}
