package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/working"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterWorkingTools registers the working-memory controller's
// operations: working.push, working.touch, and working.list.
func RegisterWorkingTools(reg *dispatch.Registry, store *working.Store) {
	reg.Register(&dispatch.ToolSpec{
		Name:     "working.push",
		Category: "working",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "event_id", Type: dispatch.ParamInt, Required: false},
			{Name: "importance", Type: dispatch.ParamFloat, Required: false, Default: 0.0},
			{Name: "distinctiveness", Type: dispatch.ParamFloat, Required: false, Default: 0.0},
			{Name: "recency", Type: dispatch.ParamFloat, Required: false, Default: 1.0},
		},
		Returns: &dispatch.ParamSpec{Name: "result", Type: dispatch.ParamObject, Fields: map[string]*dispatch.ParamSpec{
			"id":                      {Name: "id", Type: dispatch.ParamInt},
			"consolidation_triggered": {Name: "consolidation_triggered", Type: dispatch.ParamBool},
		}},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id, evicted := store.Add(ctx, types.WorkingMemoryItem{
				ProjectID:            projectID,
				EventID:              types.ID(getInt(args, "event_id", 0)),
				ImportanceScore:      getFloat(args, "importance", 0),
				DistinctivenessScore: getFloat(args, "distinctiveness", 0),
				RecencyScore:         getFloat(args, "recency", 1.0),
			})
			return &dispatch.HandlerResult{Data: map[string]any{"id": id, "consolidation_triggered": evicted}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "working.touch",
		Category: "working",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
			{Name: "recency", Type: dispatch.ParamFloat, Required: true},
		},
		Returns:   &dispatch.ParamSpec{Name: "touched", Type: dispatch.ParamBool},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			ok := store.Touch(projectID, types.ID(getInt(args, "id", 0)), getFloat(args, "recency", 0))
			return &dispatch.HandlerResult{Data: map[string]any{"touched": ok}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:      "working.list",
		Category:  "working",
		Returns:   &dispatch.ParamSpec{Name: "items", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			items := store.List(projectID)
			return &dispatch.HandlerResult{Data: map[string]any{"items": items}}, nil
		},
	})
}
