package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterProjectTools registers system.create_project, the one
// bootstrap operation every other tool's project_id argument depends
// on. Projects are created once and are otherwise immutable except for
// name, so there is no corresponding update tool.
func RegisterProjectTools(reg *dispatch.Registry, backend storage.Storage) {
	one := 1
	maxName := 128
	reg.Register(&dispatch.ToolSpec{
		Name:     "system.create_project",
		Category: "system",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "name", Type: dispatch.ParamString, Required: true, MinLength: &one, MaxLength: &maxName},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, _ types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			proj := types.Project{Name: getString(args, "name"), CreatedAt: time.Now()}
			body, err := json.Marshal(proj)
			if err != nil {
				return nil, fmt.Errorf("marshalling project: %w", err)
			}
			id, err := backend.Put(ctx, storage.NSProjects, storage.Record{
				Fields: map[string]any{"name": proj.Name},
				Body:   body,
			})
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})
}
