// Package procedural implements the procedural memory layer: versioned,
// executable workflows on a CRUD-plus-ranked-query store shape,
// generalized to procedure versioning and execution bookkeeping.
package procedural

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// Executor hands a procedure's steps off to whatever actually runs them.
// Athena only records outcomes; it never executes steps itself.
type Executor interface {
	Execute(ctx context.Context, steps []types.Step, kwargs map[string]any) (outcome types.Outcome, durationMs int64, err error)
}

// Store is the procedural layer, backed by a generic storage.Storage.
type Store struct {
	db       storage.Storage
	executor Executor
}

// New wraps backend as the procedural layer. executor may be nil; callers
// that never call Execute don't need one.
func New(backend storage.Storage, executor Executor) *Store {
	return &Store{db: backend, executor: executor}
}

func toRecord(p *types.Procedure) (storage.Record, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling procedure: %w", err)
	}
	return storage.Record{
		ID:        int64(p.ID),
		ProjectID: int64(p.ProjectID),
		Fields: map[string]any{
			"name":         p.Name,
			"category":     p.Category,
			"content_hash": contentHash(p.Description),
		},
		Body:    body,
		Content: p.Name + " " + p.Description,
	}, nil
}

func fromRecord(rec storage.Record) (*types.Procedure, error) {
	var p types.Procedure
	if err := json.Unmarshal(rec.Body, &p); err != nil {
		return nil, fmt.Errorf("unmarshalling procedure %d: %w", rec.ID, err)
	}
	p.ID = types.ID(rec.ID)
	return &p, nil
}

// Create persists a new procedure. Name must be unique within the
// project.
func (s *Store) Create(ctx context.Context, p *types.Procedure) (types.ID, error) {
	existing, err := s.findByName(ctx, p.ProjectID, p.Name)
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return 0, apperr.Wrapf(apperr.ErrConflict, "procedure %q already exists in project %d", p.Name, p.ProjectID)
	}

	if p.Version == 0 {
		p.Version = 1
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	rec, err := toRecord(p)
	if err != nil {
		return 0, err
	}
	id, err := s.db.Put(ctx, storage.NSProcedures, rec)
	if err != nil {
		return 0, fmt.Errorf("creating procedure: %w", err)
	}
	return types.ID(id), nil
}

func (s *Store) findByName(ctx context.Context, projectID types.ID, name string) (types.ID, error) {
	filter := storage.NewFilter(int64(projectID)).With("name", name)
	it, err := s.db.Scan(ctx, storage.NSProcedures, filter)
	if err != nil {
		return 0, fmt.Errorf("checking for existing procedure: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return types.ID(it.Record().ID), nil
	}
	return 0, it.Err()
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FindByContentHash returns the id of a procedure whose description
// hashes to hash, and ok=false if none exists. Used by the consolidation
// pipeline to skip re-promoting a procedure it has already created from
// the same cluster content.
func (s *Store) FindByContentHash(ctx context.Context, projectID types.ID, hash string) (types.ID, bool, error) {
	filter := storage.NewFilter(int64(projectID)).With("content_hash", hash)
	it, err := s.db.Scan(ctx, storage.NSProcedures, filter)
	if err != nil {
		return 0, false, fmt.Errorf("checking for existing procedure by content hash: %w", err)
	}
	defer func() { _ = it.Close() }()
	if it.Next(ctx) {
		return types.ID(it.Record().ID), true, nil
	}
	return 0, false, it.Err()
}

// Get fetches a procedure by id.
func (s *Store) Get(ctx context.Context, id types.ID) (*types.Procedure, error) {
	rec, err := s.db.Get(ctx, storage.NSProcedures, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get procedure %d: %w", id, err)
	}
	return fromRecord(rec)
}

// FindApplicable returns procedures in projectID ranked by
// (applicable_match_count DESC, success_rate DESC, recency DESC), where
// applicable_match_count counts how many of contextTags appear in a
// procedure's Category or Name.
func (s *Store) FindApplicable(ctx context.Context, projectID types.ID, contextTags []string) ([]*types.Procedure, error) {
	it, err := s.db.Scan(ctx, storage.NSProcedures, storage.NewFilter(int64(projectID)))
	if err != nil {
		return nil, fmt.Errorf("scanning procedures: %w", err)
	}
	defer func() { _ = it.Close() }()

	type scored struct {
		p     *types.Procedure
		match int
	}
	var candidates []scored
	for it.Next(ctx) {
		p, err := fromRecord(it.Record())
		if err != nil {
			return nil, err
		}
		match := matchCount(p, contextTags)
		candidates = append(candidates, scored{p: p, match: match})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.match != b.match {
			return a.match > b.match
		}
		if a.p.SuccessRate != b.p.SuccessRate {
			return a.p.SuccessRate > b.p.SuccessRate
		}
		return a.p.UpdatedAt.After(b.p.UpdatedAt)
	})

	out := make([]*types.Procedure, len(candidates))
	for i, c := range candidates {
		out[i] = c.p
	}
	return out, nil
}

func matchCount(p *types.Procedure, tags []string) int {
	n := 0
	for _, tag := range tags {
		if tag == p.Category || tag == p.Name {
			n++
		}
	}
	return n
}

// Execute hands the procedure's steps off to the configured executor,
// records the outcome, and updates executions/success_rate/avg_duration_ms
// atomically via a storage transaction.
func (s *Store) Execute(ctx context.Context, id types.ID, kwargs map[string]any) (types.Outcome, error) {
	if s.executor == nil {
		return "", apperr.Wrapf(apperr.ErrPreconditionFailed, "no executor collaborator configured")
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	outcome, durationMs, execErr := s.executor.Execute(ctx, p.Steps, kwargs)

	err = s.db.Transaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		rec, err := tx.Get(ctx, storage.NSProcedures, int64(id))
		if err != nil {
			return err
		}
		p, err := fromRecord(rec)
		if err != nil {
			return err
		}
		p.Executions++
		successes := p.SuccessRate * float64(p.Executions-1)
		if outcome == types.OutcomeSuccess {
			successes++
		}
		p.SuccessRate = successes / float64(p.Executions)
		p.AvgDurationMs = (p.AvgDurationMs*float64(p.Executions-1) + float64(durationMs)) / float64(p.Executions)
		p.UpdatedAt = time.Now()

		newRec, err := toRecord(p)
		if err != nil {
			return err
		}
		_, err = tx.Put(ctx, storage.NSProcedures, newRec)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("recording procedure execution: %w", err)
	}
	return outcome, execErr
}

// RollbackTo creates a new version from a historical version's steps and
// makes it active, never rewriting history.
func (s *Store) RollbackTo(ctx context.Context, id types.ID, version int) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var target *types.ProcedureVersion
	for i := range p.PreviousVersions {
		if p.PreviousVersions[i].Version == version {
			target = &p.PreviousVersions[i]
			break
		}
	}
	if target == nil {
		return apperr.Wrapf(apperr.ErrNotFound, "procedure %d has no version %d in history", id, version)
	}

	p.PreviousVersions = append(p.PreviousVersions, types.ProcedureVersion{
		Version:    p.Version,
		Steps:      p.Steps,
		GitHash:    p.GitHash,
		ArchivedAt: time.Now(),
	})
	if len(p.PreviousVersions) > types.MaxVersionHistory {
		p.PreviousVersions = p.PreviousVersions[len(p.PreviousVersions)-types.MaxVersionHistory:]
	}

	p.Steps = target.Steps
	p.GitHash = target.GitHash
	p.Version++
	p.UpdatedAt = time.Now()

	rec, err := toRecord(p)
	if err != nil {
		return err
	}
	if _, err := s.db.Put(ctx, storage.NSProcedures, rec); err != nil {
		return fmt.Errorf("rolling back procedure %d: %w", id, err)
	}
	return nil
}
