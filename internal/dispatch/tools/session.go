package tools

import (
	"context"
	"strconv"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/episodic"
	"github.com/shawkridge/athena/internal/layers/session"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterSessionTools registers the session-context lifecycle a coding
// assistant drives across a working session: session.start,
// session.update_context, session.record_event,
// session.record_consolidation, session.end, session.active and
// session.recover_context. episodicStore backs recover_context's
// fallback scan when no session is currently active.
func RegisterSessionTools(reg *dispatch.Registry, store *session.Store, episodicStore *episodic.Store) {
	one := 1
	reg.Register(&dispatch.ToolSpec{
		Name:     "session.start",
		Category: "session",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "session_id", Type: dispatch.ParamString, Required: true, MinLength: &one},
			{Name: "task", Type: dispatch.ParamString, Required: false},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id, err := store.Start(ctx, projectID, getString(args, "session_id"), getString(args, "task"))
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "session.end",
		Category: "session",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
		},
		Cost:        "cheap",
		TimeoutMs:   5_000,
		ResourceKey: func(args map[string]any) string { return strconv.Itoa(getInt(args, "id", 0)) },
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id := types.ID(getInt(args, "id", 0))
			if err := store.End(ctx, id); err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"ended": true}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:      "session.active",
		Category:  "session",
		Returns:   &dispatch.ParamSpec{Name: "session", Type: dispatch.ParamObject},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			sess, err := store.GetActive(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: sess}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "session.update_context",
		Category: "session",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
			{Name: "task", Type: dispatch.ParamString, Required: false},
			{Name: "phase", Type: dispatch.ParamString, Required: false},
		},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id := types.ID(getInt(args, "id", 0))
			if err := store.UpdateContext(ctx, id, getString(args, "task"), getString(args, "phase")); err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"updated": true}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "session.record_event",
		Category: "session",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
			{Name: "type", Type: dispatch.ParamString, Required: true},
			{Name: "data", Type: dispatch.ParamObject, Required: false},
		},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			data, _ := args["data"].(map[string]any)
			if err := store.RecordEvent(ctx, types.ID(getInt(args, "id", 0)), getString(args, "type"), data); err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"recorded": true}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "session.record_consolidation",
		Category: "session",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "id", Type: dispatch.ParamInt, Required: true},
			{Name: "run_id", Type: dispatch.ParamInt, Required: true},
		},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			err := store.RecordConsolidation(ctx, types.ID(getInt(args, "id", 0)), types.ID(getInt(args, "run_id", 0)))
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"recorded": true}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:      "session.recover_context",
		Category:  "session",
		Returns:   &dispatch.ParamSpec{Name: "session", Type: dispatch.ParamObject},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			events, err := episodicStore.Timeline(ctx, projectID, types.TimeRange{})
			if err != nil {
				return nil, err
			}
			sess, err := store.RecoverContext(ctx, projectID, events)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: sess}, nil
		},
	})
}
