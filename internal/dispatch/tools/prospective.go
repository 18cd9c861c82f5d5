package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/prospective"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterProspectiveTools registers the prospective-memory layer's
// task lifecycle and conflict-detection operations: goal.create,
// goal.activate, goal.complete, goal.hierarchy and goal.conflicts.
func RegisterProspectiveTools(reg *dispatch.Registry, store *prospective.Store) {
	one := 1
	reg.Register(&dispatch.ToolSpec{
		Name:     "goal.create",
		Category: "prospective",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "title", Type: dispatch.ParamString, Required: true, MinLength: &one},
			{Name: "priority", Type: dispatch.ParamInt, Required: false, Default: int(types.PriorityMedium)},
			{Name: "parent_id", Type: dispatch.ParamInt, Required: false},
			{Name: "owner", Type: dispatch.ParamString, Required: false},
			{Name: "dependencies", Type: dispatch.ParamArray, Required: false, Elem: &dispatch.ParamSpec{Type: dispatch.ParamInt}},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			deps := getIntSlice(args, "dependencies")
			depIDs := make([]types.ID, 0, len(deps))
			for _, d := range deps {
				depIDs = append(depIDs, types.ID(d))
			}
			task := &types.ProspectiveTask{
				ProjectID:    projectID,
				Title:        getString(args, "title"),
				Priority:     types.Priority(getInt(args, "priority", int(types.PriorityMedium))),
				ParentID:     types.ID(getInt(args, "parent_id", 0)),
				Owner:        getString(args, "owner"),
				Dependencies: depIDs,
			}
			id, err := store.CreateTask(ctx, task)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "goal.activate",
		Category: "prospective",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
		},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			if err := store.Activate(ctx, types.ID(getInt(args, "id", 0))); err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"activated": true}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "goal.complete",
		Category: "prospective",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
			{Name: "outcome", Type: dispatch.ParamEnum, Required: false, Default: string(types.TaskCompleted), Enum: []string{
				string(types.TaskCompleted), string(types.TaskFailed),
			}},
		},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			outcome := types.TaskStatus(getString(args, "outcome"))
			if outcome == "" {
				outcome = types.TaskCompleted
			}
			if err := store.Complete(ctx, types.ID(getInt(args, "id", 0)), outcome); err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"completed": true}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:      "goal.hierarchy",
		Category:  "prospective",
		Returns:   &dispatch.ParamSpec{Name: "tasks", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			tasks, err := store.GetHierarchy(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"tasks": tasks}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:      "goal.conflicts",
		Category:  "prospective",
		Returns:   &dispatch.ParamSpec{Name: "conflicts", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		Cost:      "moderate",
		TimeoutMs: 10_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			conflicts, err := store.DetectConflicts(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"conflicts": conflicts}}, nil
		},
	})
}
