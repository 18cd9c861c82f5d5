package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/procedural"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterProceduralTools registers the procedural-memory layer's
// authoring and execution operations: procedure.create,
// procedure.find_applicable, procedure.execute and procedure.rollback_to.
func RegisterProceduralTools(reg *dispatch.Registry, store *procedural.Store) {
	one := 1
	reg.Register(&dispatch.ToolSpec{
		Name:     "procedure.create",
		Category: "procedural",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "name", Type: dispatch.ParamString, Required: true, MinLength: &one},
			{Name: "category", Type: dispatch.ParamString, Required: false},
			{Name: "description", Type: dispatch.ParamString, Required: false},
			{Name: "steps", Type: dispatch.ParamArray, Required: true, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id, err := store.Create(ctx, &types.Procedure{
				ProjectID:   projectID,
				Name:        getString(args, "name"),
				Category:    getString(args, "category"),
				Description: getString(args, "description"),
				Source:      types.ProcedureAuthored,
				Steps:       parseSteps(args["steps"]),
			})
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "procedure.find_applicable",
		Category: "procedural",
		Parameters: []*dispatch.ParamSpec{
			{Name: "context_tags", Type: dispatch.ParamArray, Required: false, Elem: &dispatch.ParamSpec{Type: dispatch.ParamString}},
		},
		Returns:   &dispatch.ParamSpec{Name: "procedures", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			procs, err := store.FindApplicable(ctx, projectID, getStringSlice(args, "context_tags"))
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"procedures": procs}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "procedure.execute",
		Category: "procedural",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
			{Name: "kwargs", Type: dispatch.ParamObject, Required: false},
		},
		Returns:   &dispatch.ParamSpec{Name: "outcome", Type: dispatch.ParamString},
		Cost:      "expensive",
		TimeoutMs: 60_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			kwargs, _ := args["kwargs"].(map[string]any)
			outcome, err := store.Execute(ctx, types.ID(getInt(args, "id", 0)), kwargs)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"outcome": string(outcome)}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "procedure.rollback_to",
		Category: "procedural",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
			{Name: "version", Type: dispatch.ParamInt, Required: true},
		},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			if err := store.RollbackTo(ctx, types.ID(getInt(args, "id", 0)), getInt(args, "version", 0)); err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"rolled_back": true}}, nil
		},
	})
}

// parseSteps converts the JSON-decoded steps argument into typed Steps.
// Each entry's retry_policy is optional; absent fields default to zero.
func parseSteps(raw any) []types.Step {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]types.Step, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		step := types.Step{
			ActionKind: getString(m, "action_kind"),
		}
		if in, ok := m["inputs"].(map[string]any); ok {
			step.Inputs = in
		}
		if out2, ok := m["outputs"].(map[string]any); ok {
			step.Outputs = out2
		}
		if rp, ok := m["retry_policy"].(map[string]any); ok {
			step.RetryPolicy = types.RetryPolicy{
				MaxAttempts: getInt(rp, "max_attempts", 0),
				BackoffMs:   int64(getInt(rp, "backoff_ms", 0)),
			}
		}
		out = append(out, step)
	}
	return out
}
