// Package tools holds the built-in tools every Athena deployment
// registers regardless of project-specific tool schemas: health and
// metrics introspection RPC operations.
package tools

import (
	"context"
	"time"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/observability"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterSystemTools registers system.health and system.metrics on
// reg. Neither mutates state, so neither needs a ResourceKeyFunc.
func RegisterSystemTools(reg *dispatch.Registry, health observability.HealthSource, metrics observability.MetricsSource, startedAt time.Time) {
	reg.Register(&dispatch.ToolSpec{
		Name:     "system.health",
		Category: "system",
		Returns:  &dispatch.ParamSpec{Name: "health", Type: dispatch.ParamObject},
		Cost:     "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			if health == nil {
				return &dispatch.HandlerResult{Data: map[string]any{"status": "unknown"}, Degraded: true}, nil
			}
			report, err := health.Health(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: report}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "system.metrics",
		Category: "system",
		Returns:  &dispatch.ParamSpec{Name: "metrics", Type: dispatch.ParamObject},
		Cost:     "cheap",
		TimeoutMs: 5_000,
		Handler: func(_ context.Context, _ types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			if metrics == nil {
				return &dispatch.HandlerResult{Data: observability.MetricsSnapshot{UptimeSeconds: time.Since(startedAt).Seconds()}, Degraded: true}, nil
			}
			snap := metrics.Snapshot()
			snap.UptimeSeconds = time.Since(startedAt).Seconds()
			return &dispatch.HandlerResult{Data: snap}, nil
		},
	})
}
