package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterGatewayTools registers memory.record_outcome, the feedback
// hook callers use to tell the verification gateway whether a past
// decision turned out correct.
func RegisterGatewayTools(reg *dispatch.Registry, engine *gateway.Engine) {
	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.record_outcome",
		Category: "gateway",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "decision_id", Type: dispatch.ParamInt, Required: true},
			{Name: "was_correct", Type: dispatch.ParamBool, Required: true},
			{Name: "lessons", Type: dispatch.ParamArray, Required: false, Elem: &dispatch.ParamSpec{Type: dispatch.ParamString}},
		},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id := types.ID(getInt(args, "decision_id", 0))
			wasCorrect, _ := args["was_correct"].(bool)
			lessons := getStringSlice(args, "lessons")
			if err := engine.RecordOutcome(ctx, id, wasCorrect, lessons); err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"recorded": true}}, nil
		},
	})
}
