package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

func decisionToRecord(o *types.DecisionOutcome) (storage.Record, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshalling decision outcome: %w", err)
	}
	return storage.Record{
		ID:        int64(o.ID),
		ProjectID: int64(o.ProjectID),
		Fields: map[string]any{
			"operation": o.Operation,
			"decision":  o.Decision,
		},
		Body: body,
	}, nil
}

func decisionFromRecord(rec storage.Record) (*types.DecisionOutcome, error) {
	var o types.DecisionOutcome
	if err := json.Unmarshal(rec.Body, &o); err != nil {
		return nil, fmt.Errorf("unmarshalling decision outcome %d: %w", rec.ID, err)
	}
	o.ID = types.ID(rec.ID)
	return &o, nil
}

func (e *Engine) save(ctx context.Context, o *types.DecisionOutcome) (types.ID, error) {
	rec, err := decisionToRecord(o)
	if err != nil {
		return 0, err
	}
	id, err := e.db.Put(ctx, storage.NSDecisionLog, rec)
	if err != nil {
		return 0, fmt.Errorf("recording decision outcome: %w", err)
	}
	return types.ID(id), nil
}

// Decision fetches a previously recorded decision outcome.
func (e *Engine) Decision(ctx context.Context, id types.ID) (*types.DecisionOutcome, error) {
	rec, err := e.db.Get(ctx, storage.NSDecisionLog, int64(id))
	if err != nil {
		return nil, fmt.Errorf("get decision outcome %d: %w", id, err)
	}
	return decisionFromRecord(rec)
}

// RecordOutcome attaches ground truth to a decision after the fact, the
// record_outcome half of the verification feedback loop.
func (e *Engine) RecordOutcome(ctx context.Context, id types.ID, wasCorrect bool, lessons []string) error {
	outcome, err := e.Decision(ctx, id)
	if err != nil {
		return err
	}
	outcome.WasCorrect = &wasCorrect
	outcome.Lessons = lessons
	now := time.Now()
	outcome.ResolvedAt = &now

	rec, err := decisionToRecord(outcome)
	if err != nil {
		return err
	}
	if _, err := e.db.Put(ctx, storage.NSDecisionLog, rec); err != nil {
		return fmt.Errorf("recording outcome for decision %d: %w", id, err)
	}
	return nil
}

// HealthReport summarizes decision outcomes for a project: resolution
// accuracy and per-gate violation counts. It does not itself learn new
// thresholds; a caller wanting threshold tuning reads this report and
// decides.
type HealthReport struct {
	TotalDecisions    int
	BlockedDecisions  int
	ResolvedDecisions int
	Accuracy          float64
	ViolationsByGate  map[types.GateName]int
}

// Health aggregates every decision outcome recorded for projectID.
func (e *Engine) Health(ctx context.Context, projectID types.ID) (*HealthReport, error) {
	it, err := e.db.Scan(ctx, storage.NSDecisionLog, storage.NewFilter(int64(projectID)))
	if err != nil {
		return nil, fmt.Errorf("scanning decision log: %w", err)
	}
	defer func() { _ = it.Close() }()

	report := &HealthReport{ViolationsByGate: make(map[types.GateName]int)}
	var correct int
	for it.Next(ctx) {
		o, err := decisionFromRecord(it.Record())
		if err != nil {
			return nil, err
		}
		report.TotalDecisions++
		if o.Decision == "block" {
			report.BlockedDecisions++
		}
		for _, g := range o.Gates {
			report.ViolationsByGate[g.Gate] += len(g.Violations)
		}
		if o.WasCorrect != nil {
			report.ResolvedDecisions++
			if *o.WasCorrect {
				correct++
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if report.ResolvedDecisions > 0 {
		report.Accuracy = float64(correct) / float64(report.ResolvedDecisions)
	}
	return report, nil
}
