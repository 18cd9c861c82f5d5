package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/retrieval"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterRetrievalTools registers memory.search, the hybrid-retrieval
// entry point.
func RegisterRetrievalTools(reg *dispatch.Registry, engine *retrieval.Engine) {
	one := 1
	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.search",
		Category: "retrieval",
		Parameters: []*dispatch.ParamSpec{
			{Name: "query", Type: dispatch.ParamString, Required: true, MinLength: &one},
			{Name: "k", Type: dispatch.ParamInt, Required: false, Default: 10},
		},
		Returns:   &dispatch.ParamSpec{Name: "result", Type: dispatch.ParamObject},
		Cost:      "moderate",
		TimeoutMs: 10_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			k := getInt(args, "k", 10)
			result, err := engine.Search(ctx, projectID, getString(args, "query"), k, storage.NewFilter(int64(projectID)))
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: result, Degraded: result.EmbeddingFallback}, nil
		},
	})
}
