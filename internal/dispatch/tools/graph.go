package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/graph"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterGraphTools registers the knowledge-graph layer's entity and
// relation operations: graph.create_entity, graph.create_relation,
// graph.neighbors, graph.path and graph.communities.
func RegisterGraphTools(reg *dispatch.Registry, store *graph.Store) {
	one := 1
	reg.Register(&dispatch.ToolSpec{
		Name:     "graph.create_entity",
		Category: "graph",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "name", Type: dispatch.ParamString, Required: true, MinLength: &one},
			{Name: "type", Type: dispatch.ParamEnum, Required: false, Default: string(types.EntityUnknown), Enum: []string{
				string(types.EntityConcept), string(types.EntityFile), string(types.EntitySymbol),
				string(types.EntityPerson), string(types.EntityTool), string(types.EntityUnknown),
			}},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			entityType := types.EntityType(getString(args, "type"))
			if entityType == "" {
				entityType = types.EntityUnknown
			}
			id, err := store.CreateEntity(ctx, &types.Entity{
				ProjectID: projectID,
				Type:      entityType,
				Name:      getString(args, "name"),
			})
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "graph.create_relation",
		Category: "graph",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "from_id", Type: dispatch.ParamInt, Required: true},
			{Name: "to_id", Type: dispatch.ParamInt, Required: true},
			{Name: "type", Type: dispatch.ParamEnum, Required: true, Enum: []string{
				string(types.RelationDependsOn), string(types.RelationRelatesTo),
				string(types.RelationPartOf), string(types.RelationCauses), string(types.RelationRefersTo),
			}},
			{Name: "weight", Type: dispatch.ParamFloat, Required: false, Default: 1.0},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			id, err := store.CreateRelation(ctx, &types.Relation{
				ProjectID:    projectID,
				FromEntityID: types.ID(getInt(args, "from_id", 0)),
				ToEntityID:   types.ID(getInt(args, "to_id", 0)),
				Type:         types.RelationType(getString(args, "type")),
				Weight:       getFloat(args, "weight", 1.0),
			})
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "graph.neighbors",
		Category: "graph",
		Parameters: []*dispatch.ParamSpec{
			{Name: "entity_id", Type: dispatch.ParamInt, Required: true},
			{Name: "direction", Type: dispatch.ParamEnum, Required: false, Default: string(types.DirectionBoth), Enum: []string{
				string(types.DirectionOut), string(types.DirectionIn), string(types.DirectionBoth),
			}},
			{Name: "depth", Type: dispatch.ParamInt, Required: false, Default: 1},
		},
		Returns:   &dispatch.ParamSpec{Name: "entity_ids", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamInt}},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			direction := types.Direction(getString(args, "direction"))
			if direction == "" {
				direction = types.DirectionBoth
			}
			depth := getInt(args, "depth", 1)
			if depth > types.MaxTraversalDepth {
				depth = types.MaxTraversalDepth
			}
			ids, err := store.Neighbors(ctx, projectID, types.ID(getInt(args, "entity_id", 0)), direction, depth)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"entity_ids": ids}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:     "graph.path",
		Category: "graph",
		Parameters: []*dispatch.ParamSpec{
			{Name: "from_id", Type: dispatch.ParamInt, Required: true},
			{Name: "to_id", Type: dispatch.ParamInt, Required: true},
			{Name: "max_depth", Type: dispatch.ParamInt, Required: false, Default: types.MaxTraversalDepth},
		},
		Returns:   &dispatch.ParamSpec{Name: "entity_ids", Type: dispatch.ParamArray, Elem: &dispatch.ParamSpec{Type: dispatch.ParamInt}},
		Cost:      "moderate",
		TimeoutMs: 10_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			maxDepth := getInt(args, "max_depth", types.MaxTraversalDepth)
			if maxDepth > types.MaxTraversalDepth {
				maxDepth = types.MaxTraversalDepth
			}
			path, err := store.Path(ctx, projectID, types.ID(getInt(args, "from_id", 0)), types.ID(getInt(args, "to_id", 0)), maxDepth)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"entity_ids": path}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:      "graph.communities",
		Category:  "graph",
		Returns:   &dispatch.ParamSpec{Name: "communities", Type: dispatch.ParamObject},
		Cost:      "moderate",
		TimeoutMs: 10_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			communities, err := store.Communities(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"communities": communities}}, nil
		},
	})
}
