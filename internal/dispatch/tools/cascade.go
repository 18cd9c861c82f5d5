package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/cascade"
	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterCascadeTools registers memory.recall, the tiered recall
// pipeline (a keyword-routed per-layer lexical pass, then hybrid
// retrieval with session context, then on-demand synthesis) that backs assistant-facing recall calls
// memory.search's plain retrieval is too narrow for.
func RegisterCascadeTools(reg *dispatch.Registry, orchestrator *cascade.Orchestrator) {
	one := 1
	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.recall",
		Category: "retrieval",
		Parameters: []*dispatch.ParamSpec{
			{Name: "query", Type: dispatch.ParamString, Required: true, MinLength: &one},
			{Name: "k", Type: dispatch.ParamInt, Required: false, Default: 10},
			{Name: "session_id", Type: dispatch.ParamInt, Required: false},
			{Name: "synthesize_now", Type: dispatch.ParamBool, Required: false, Default: false},
		},
		Returns:   &dispatch.ParamSpec{Name: "response", Type: dispatch.ParamObject},
		Cost:      "moderate",
		TimeoutMs: 15_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			synthNow, _ := args["synthesize_now"].(bool)
			opts := cascade.Options{
				K:             getInt(args, "k", 10),
				SynthesizeNow: synthNow,
				SessionID:     types.ID(getInt(args, "session_id", 0)),
			}
			resp, err := orchestrator.Recall(ctx, projectID, getString(args, "query"), opts)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: resp}, nil
		},
	})
}
