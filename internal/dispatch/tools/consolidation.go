package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/consolidation"
	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterConsolidationTools registers memory.consolidate, the manual
// trigger for running the consolidation engine on demand.
func RegisterConsolidationTools(reg *dispatch.Registry, engine *consolidation.Engine) {
	reg.Register(&dispatch.ToolSpec{
		Name:      "memory.consolidate",
		Category:  "consolidation",
		Mutating:  true,
		Returns:   &dispatch.ParamSpec{Name: "run", Type: dispatch.ParamObject},
		Cost:      "expensive",
		TimeoutMs: 60_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			run, err := engine.Run(ctx, projectID, types.TriggerManual, nil)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: run}, nil
		},
	})
}
