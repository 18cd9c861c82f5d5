// Package episodic implements the episodic memory layer: the atomic,
// append-mostly log of observed happenings ingest writes into, built on
// a plain CRUD-plus-query shape generalized to Athena's event model.
package episodic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/hasher"
	"github.com/shawkridge/athena/internal/pii"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Store is the episodic layer, backed by a generic storage.Storage.
type Store struct {
	db  storage.Storage
	pii *pii.Profile
}

// New wraps backend as the episodic layer. piiProfile governs the
// PASS_THROUGH/TRUNCATE/HASH/TOKENIZE/REDACT transform applied to each
// event's PII-bearing fields before the content hash is computed; a nil
// profile falls back to pii.DefaultProfile (pass everything through).
func New(backend storage.Storage, piiProfile *pii.Profile) *Store {
	if piiProfile == nil {
		piiProfile = pii.DefaultProfile()
	}
	return &Store{db: backend, pii: piiProfile}
}

// applyPII runs the configured policy over every field that might carry
// PII, ahead of hashing and persistence.
func (s *Store) applyPII(e *types.EpisodicEvent) {
	e.Content = s.pii.Apply("content", e.Content)
	e.FilePath = s.pii.Apply("file_path", e.FilePath)
	e.Diff = s.pii.Apply("diff", e.Diff)
	e.StackTrace = s.pii.Apply("stack_trace", e.StackTrace)
	e.GitAuthor = s.pii.Apply("git_author", e.GitAuthor)
	e.Context.Cwd = s.pii.Apply("cwd", e.Context.Cwd)
}

func toRecord(e *types.EpisodicEvent) (storage.Record, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling episodic event: %w", err)
	}
	return storage.Record{
		ID:        int64(e.ID),
		ProjectID: int64(e.ProjectID),
		Fields: map[string]any{
			"session_id":           e.SessionID,
			"event_type":           string(e.EventType),
			"content_hash":         hasher.HexString(e.ContentHash),
			"consolidation_status": string(e.ConsolidationStatus),
		},
		Body:    body,
		Content: e.Content,
	}, nil
}

func fromRecord(rec storage.Record) (*types.EpisodicEvent, error) {
	var e types.EpisodicEvent
	if err := json.Unmarshal(rec.Body, &e); err != nil {
		return nil, fmt.Errorf("unmarshalling episodic event %d: %w", rec.ID, err)
	}
	e.ID = types.ID(rec.ID)
	return &e, nil
}

// CreateEvent computes the content hash, checks for an existing event
// with the same (project_id, content_hash), and either returns the
// existing id or inserts a new record.
func (s *Store) CreateEvent(ctx context.Context, e *types.EpisodicEvent) (types.ID, error) {
	if len(e.Content) > types.MaxContentBytes {
		return 0, apperr.Wrapf(apperr.ErrInvalidArgument, "episodic event content exceeds %d bytes", types.MaxContentBytes)
	}

	s.applyPII(e)
	e.ContentHash = hasher.ContentHash(e)
	hashHex := hasher.HexString(e.ContentHash)

	if existing, ok, err := s.findByHash(ctx, e.ProjectID, hashHex); err != nil {
		return 0, err
	} else if ok {
		return existing, nil
	}

	if e.ConsolidationStatus == "" {
		e.ConsolidationStatus = types.ConsolidationPending
	}
	rec, err := toRecord(e)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSEpisodicEvents, rec)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeConflict {
			if existing, ok, ferr := s.findByHash(ctx, e.ProjectID, hashHex); ferr == nil && ok {
				return existing, nil
			}
		}
		return 0, fmt.Errorf("creating episodic event: %w", err)
	}
	return types.ID(id), nil
}

func (s *Store) findByHash(ctx context.Context, projectID types.ID, hashHex string) (types.ID, bool, error) {
	filter := storage.NewFilter(int64(projectID)).With("content_hash", hashHex)
	it, err := s.db.Scan(ctx, storage.NSEpisodicEvents, filter)
	if err != nil {
		return 0, false, fmt.Errorf("checking for duplicate episodic event: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return types.ID(it.Record().ID), true, nil
	}
	return 0, false, it.Err()
}

// BatchCreate ingests events as a single atomic unit: either every event
// is created (or deduplicated to an existing id) or none are: batch
// creation is atomic.
func (s *Store) BatchCreate(ctx context.Context, events []*types.EpisodicEvent) ([]types.ID, error) {
	ids := make([]types.ID, len(events))
	err := s.db.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		for i, e := range events {
			if len(e.Content) > types.MaxContentBytes {
				return apperr.Wrapf(apperr.ErrInvalidArgument, "episodic event %d content exceeds %d bytes", i, types.MaxContentBytes)
			}
			s.applyPII(e)
			e.ContentHash = hasher.ContentHash(e)
			filter := storage.NewFilter(int64(e.ProjectID)).With("content_hash", hasher.HexString(e.ContentHash))
			it, err := tx.Scan(ctx, storage.NSEpisodicEvents, filter)
			if err != nil {
				return fmt.Errorf("batch create: event %d: %w", i, err)
			}
			if it.Next(ctx) {
				ids[i] = types.ID(it.Record().ID)
				_ = it.Close()
				continue
			}
			scanErr := it.Err()
			_ = it.Close()
			if scanErr != nil {
				return fmt.Errorf("batch create: event %d: %w", i, scanErr)
			}
			if e.ConsolidationStatus == "" {
				e.ConsolidationStatus = types.ConsolidationPending
			}
			rec, err := toRecord(e)
			if err != nil {
				return err
			}
			id, err := tx.Put(ctx, storage.NSEpisodicEvents, rec)
			if err != nil {
				return fmt.Errorf("batch create: event %d: %w", i, err)
			}
			ids[i] = types.ID(id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Get fetches a single episodic event by id.
func (s *Store) Get(ctx context.Context, id types.ID) (*types.EpisodicEvent, error) {
	rec, err := s.db.Get(ctx, storage.NSEpisodicEvents, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get episodic event %d: %w", id, err)
	}
	return fromRecord(rec)
}

// Delete removes an episodic event.
func (s *Store) Delete(ctx context.Context, id types.ID) error {
	if err := s.db.Delete(ctx, storage.NSEpisodicEvents, int64(id)); err != nil {
		return fmt.Errorf("delete episodic event %d: %w", id, err)
	}
	return nil
}

// RecallByTime returns events in projectID within timeRange, optionally
// filtered to a single event type, ordered (timestamp ASC, id ASC).
func (s *Store) RecallByTime(ctx context.Context, projectID types.ID, window types.TimeRange, eventType *types.EventType) ([]*types.EpisodicEvent, error) {
	events, err := s.scanAll(ctx, projectID, nil)
	if err != nil {
		return nil, err
	}
	var out []*types.EpisodicEvent
	for _, e := range events {
		if !window.Contains(e.Timestamp) {
			continue
		}
		if eventType != nil && e.EventType != *eventType {
			continue
		}
		out = append(out, e)
	}
	sortByTimeThenID(out)
	return out, nil
}

// RecallBySession returns every event recorded under sessionID, ordered
// (timestamp ASC, id ASC).
func (s *Store) RecallBySession(ctx context.Context, projectID types.ID, sessionID string) ([]*types.EpisodicEvent, error) {
	filter := storage.NewFilter(int64(projectID)).With("session_id", sessionID)
	events, err := s.scanAll(ctx, projectID, filter.Equals)
	if err != nil {
		return nil, err
	}
	sortByTimeThenID(events)
	return events, nil
}

// Timeline returns a lazily-ordered view of events within window, the
// same ordering Timeline/RecallByTime share.
func (s *Store) Timeline(ctx context.Context, projectID types.ID, window types.TimeRange) ([]*types.EpisodicEvent, error) {
	return s.RecallByTime(ctx, projectID, window, nil)
}

func (s *Store) scanAll(ctx context.Context, projectID types.ID, extra map[string]any) ([]*types.EpisodicEvent, error) {
	filter := storage.NewFilter(int64(projectID))
	for k, v := range extra {
		if k == "project_id" {
			continue
		}
		filter = filter.With(k, v)
	}
	it, err := s.db.Scan(ctx, storage.NSEpisodicEvents, filter)
	if err != nil {
		return nil, fmt.Errorf("scanning episodic events: %w", err)
	}
	defer func() { _ = it.Close() }()

	var out []*types.EpisodicEvent
	for it.Next(ctx) {
		e, err := fromRecord(it.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, it.Err()
}

func sortByTimeThenID(events []*types.EpisodicEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

// MarkConsolidated flips an event's consolidation status, called by the
// consolidation pipeline once a batch has been promoted.
func (s *Store) MarkConsolidated(ctx context.Context, id types.ID, at time.Time) error {
	return s.SetConsolidationStatus(ctx, id, types.ConsolidationDone, at)
}

// SetConsolidationStatus moves an event to status, called by the
// consolidation pipeline to mark events CONSOLIDATED or DISCARDED once a
// run finishes with them.
func (s *Store) SetConsolidationStatus(ctx context.Context, id types.ID, status types.ConsolidationStatus, at time.Time) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	e.ConsolidationStatus = status
	e.ConsolidatedAt = &at
	rec, err := toRecord(e)
	if err != nil {
		return err
	}
	if _, err := s.db.Put(ctx, storage.NSEpisodicEvents, rec); err != nil {
		return fmt.Errorf("setting episodic event %d consolidation status: %w", id, err)
	}
	return nil
}

// PendingForConsolidation returns every PENDING event in projectID,
// optionally bounded to a time window, ordered (timestamp ASC, id ASC) so
// the consolidation pipeline can cluster by adjacent timestamp gap.
func (s *Store) PendingForConsolidation(ctx context.Context, projectID types.ID, window *types.TimeRange) ([]*types.EpisodicEvent, error) {
	events, err := s.scanAll(ctx, projectID, map[string]any{"consolidation_status": string(types.ConsolidationPending)})
	if err != nil {
		return nil, err
	}
	var out []*types.EpisodicEvent
	for _, e := range events {
		if window != nil && !window.Contains(e.Timestamp) {
			continue
		}
		out = append(out, e)
	}
	sortByTimeThenID(out)
	return out, nil
}
