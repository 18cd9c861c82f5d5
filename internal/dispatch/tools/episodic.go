package tools

import (
	"context"
	"time"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/episodic"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterEpisodicTools registers memory.record_event and
// memory.batch_record_events (the episodic ingest entry points), and
// memory.timeline/memory.recall_by_time for replaying recorded events.
func RegisterEpisodicTools(reg *dispatch.Registry, store *episodic.Store) {
	one := 1
	maxContent := types.MaxContentBytes

	eventParams := []*dispatch.ParamSpec{
		{Name: "session_id", Type: dispatch.ParamString, Required: true, MinLength: &one},
		{Name: "event_type", Type: dispatch.ParamEnum, Required: true, Enum: []string{
			string(types.EventAction), string(types.EventObservation), string(types.EventDecision),
			string(types.EventError), string(types.EventTest), string(types.EventCommit),
			string(types.EventConversation),
		}},
		{Name: "content", Type: dispatch.ParamString, Required: true, MinLength: &one, MaxLength: &maxContent},
		{Name: "outcome", Type: dispatch.ParamEnum, Required: false, Default: string(types.OutcomeUnknown), Enum: []string{
			string(types.OutcomeSuccess), string(types.OutcomeFailure), string(types.OutcomePartial),
			string(types.OutcomeBlocked), string(types.OutcomeUnknown),
		}},
		{Name: "file_path", Type: dispatch.ParamString, Required: false},
		{Name: "cwd", Type: dispatch.ParamString, Required: false},
		{Name: "task", Type: dispatch.ParamString, Required: false},
		{Name: "branch", Type: dispatch.ParamString, Required: false},
		{Name: "files", Type: dispatch.ParamArray, Required: false, Elem: &dispatch.ParamSpec{Type: dispatch.ParamString}},
	}

	reg.Register(&dispatch.ToolSpec{
		Name:        "memory.record_event",
		Category:    "episodic",
		Mutating:    true,
		Parameters:  eventParams,
		Returns:     &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:        "cheap",
		TimeoutMs:   5_000,
		ResourceKey: func(args map[string]any) string { return getString(args, "session_id") },
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id, err := store.CreateEvent(ctx, eventFromArgs(projectID, args))
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.batch_record_events",
		Category: "episodic",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "events", Type: dispatch.ParamArray, Required: true, MinLength: &one, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		},
		Returns:   &dispatch.ParamSpec{Name: "ids", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamInt}},
		Cost:      "cheap",
		TimeoutMs: 10_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			raw, _ := args["events"].([]any)
			events := make([]*types.EpisodicEvent, 0, len(raw))
			for _, e := range raw {
				m, ok := e.(map[string]any)
				if !ok {
					continue
				}
				events = append(events, eventFromArgs(projectID, m))
			}
			ids, err := store.BatchCreate(ctx, events)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"ids": ids}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.recall_by_time",
		Category: "episodic",
		Parameters: []*dispatch.ParamSpec{
			{Name: "start", Type: dispatch.ParamString, Required: false},
			{Name: "end", Type: dispatch.ParamString, Required: false},
			{Name: "event_type", Type: dispatch.ParamString, Required: false},
		},
		Returns:   &dispatch.ParamSpec{Name: "events", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			window := types.TimeRange{Start: getTime(args, "start"), End: getTime(args, "end")}
			var eventType *types.EventType
			if et := getString(args, "event_type"); et != "" {
				typed := types.EventType(et)
				eventType = &typed
			}
			events, err := store.RecallByTime(ctx, projectID, window, eventType)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"events": events}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.timeline",
		Category: "episodic",
		Parameters: []*dispatch.ParamSpec{
			{Name: "session_id", Type: dispatch.ParamString, Required: false},
			{Name: "limit", Type: dispatch.ParamInt, Required: false, Default: 50},
		},
		Returns:   &dispatch.ParamSpec{Name: "events", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamObject}},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			limit := getInt(args, "limit", 50)
			var (
				events []*types.EpisodicEvent
				err    error
			)
			if sessionID := getString(args, "session_id"); sessionID != "" {
				events, err = store.RecallBySession(ctx, projectID, sessionID)
			} else {
				events, err = store.Timeline(ctx, projectID, types.TimeRange{})
			}
			if err != nil {
				return nil, err
			}
			if len(events) > limit {
				events = events[len(events)-limit:]
			}
			return &dispatch.HandlerResult{Data: map[string]any{"events": events}}, nil
		},
	})
}

// eventFromArgs builds an EpisodicEvent from one event's argument map,
// shared by memory.record_event's single-event args and
// memory.batch_record_events' per-entry maps.
func eventFromArgs(projectID types.ID, args map[string]any) *types.EpisodicEvent {
	outcome := types.Outcome(getString(args, "outcome"))
	if outcome == "" {
		outcome = types.OutcomeUnknown
	}
	return &types.EpisodicEvent{
		ProjectID: projectID,
		SessionID: getString(args, "session_id"),
		Timestamp: time.Now(),
		EventType: types.EventType(getString(args, "event_type")),
		Content:   getString(args, "content"),
		Outcome:   outcome,
		FilePath:  getString(args, "file_path"),
		Context: types.EventContext{
			Cwd:    getString(args, "cwd"),
			Task:   getString(args, "task"),
			Branch: getString(args, "branch"),
			Files:  getStringSlice(args, "files"),
		},
	}
}
