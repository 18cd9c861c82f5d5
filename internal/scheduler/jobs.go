package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shawkridge/athena/internal/types"
)

// ProjectLister enumerates the projects a per-project background job
// must sweep. Satisfied by a thin adapter over storage.Storage's
// projects namespace.
type ProjectLister interface {
	ListActive(ctx context.Context) ([]types.ID, error)
}

// WorkingMemoryDecayer is the subset of working.Store a decay job needs.
type WorkingMemoryDecayer interface {
	DecayTick(ctx context.Context, halfLife time.Duration) int
}

// ConsolidationRunner is the subset of consolidation.Engine a scheduled
// job needs.
type ConsolidationRunner interface {
	Run(ctx context.Context, projectID types.ID, trigger types.Trigger, window *types.TimeRange) (*types.ConsolidationRun, error)
}

// SessionReaper is the subset of session.Store a reap job needs.
type SessionReaper interface {
	ReapStale(ctx context.Context, projectID types.ID, maxAge time.Duration) ([]types.ID, error)
}

// WorkingMemoryDecayJob builds the periodic working-memory decay tick:
// recency scores decay for every held item and anything that falls
// below the eviction floor routes out to its longer-term layer.
func WorkingMemoryDecayJob(store WorkingMemoryDecayer, halfLife, interval time.Duration, logger *slog.Logger) Job {
	if logger == nil {
		logger = slog.Default()
	}
	return Job{
		Name:     "working_memory_decay",
		Interval: interval,
		Run: func(ctx context.Context) error {
			evicted := store.DecayTick(ctx, halfLife)
			if evicted > 0 {
				logger.Info("working memory decay evicted items", "count", evicted)
			}
			return nil
		},
	}
}

// ScheduledConsolidationJob builds the periodic consolidation sweep: one
// SCHEDULED run per active project, independent of any single project's
// failure.
func ScheduledConsolidationJob(projects ProjectLister, engine ConsolidationRunner, interval time.Duration, logger *slog.Logger) Job {
	if logger == nil {
		logger = slog.Default()
	}
	return Job{
		Name:     "scheduled_consolidation",
		Interval: interval,
		Run: func(ctx context.Context) error {
			ids, err := projects.ListActive(ctx)
			if err != nil {
				return err
			}
			for _, projectID := range ids {
				if _, err := engine.Run(ctx, projectID, types.TriggerScheduled, nil); err != nil {
					logger.Error("scheduled consolidation failed", "project_id", projectID, "error", err)
				}
			}
			return nil
		},
	}
}

// SessionReaperJob builds the periodic stale-session sweep: one
// ReapStale call per active project.
func SessionReaperJob(projects ProjectLister, reaper SessionReaper, maxIdle, interval time.Duration, logger *slog.Logger) Job {
	if logger == nil {
		logger = slog.Default()
	}
	return Job{
		Name:     "session_reaper",
		Interval: interval,
		Run: func(ctx context.Context) error {
			ids, err := projects.ListActive(ctx)
			if err != nil {
				return err
			}
			for _, projectID := range ids {
				reaped, err := reaper.ReapStale(ctx, projectID, maxIdle)
				if err != nil {
					logger.Error("session reap failed", "project_id", projectID, "error", err)
					continue
				}
				if len(reaped) > 0 {
					logger.Info("reaped stale sessions", "project_id", projectID, "count", len(reaped))
				}
			}
			return nil
		},
	}
}
