package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/semantic"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterSemanticTools registers memory.store, the direct semantic-memory
// write path used when content is authored or curated rather than
// promoted through consolidation.
func RegisterSemanticTools(reg *dispatch.Registry, store *semantic.Store) {
	one := 1
	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.store",
		Category: "semantic",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "content", Type: dispatch.ParamString, Required: true, MinLength: &one},
			{Name: "memory_type", Type: dispatch.ParamEnum, Required: false, Default: string(types.MemoryFact), Enum: []string{
				string(types.MemoryFact), string(types.MemoryConcept), string(types.MemoryRelation), string(types.MemoryConstraint),
			}},
			{Name: "source_event_ids", Type: dispatch.ParamArray, Required: false, Elem: &dispatch.ParamSpec{Type: dispatch.ParamInt}},
			{Name: "derived_from_id", Type: dispatch.ParamInt, Required: false},
			{Name: "confidence", Type: dispatch.ParamFloat, Required: false, Default: 1.0},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			sourceIDs := getIntSlice(args, "source_event_ids")
			sources := make([]types.ID, 0, len(sourceIDs))
			for _, id := range sourceIDs {
				sources = append(sources, types.ID(id))
			}
			memoryType := types.MemoryType(getString(args, "memory_type"))
			if memoryType == "" {
				memoryType = types.MemoryFact
			}
			id, err := store.Store(ctx, &types.SemanticMemory{
				ProjectID:      projectID,
				Content:        getString(args, "content"),
				MemoryType:     memoryType,
				SourceEventIDs: sources,
				DerivedFromID:  types.ID(getInt(args, "derived_from_id", 0)),
				Confidence:     getFloat(args, "confidence", 1.0),
			})
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})
}
