package tools

import (
	"context"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/layers/meta"
	"github.com/shawkridge/athena/internal/types"
)

// RegisterMetaTools registers the meta-memory layer's quality tracking
// and gap-detection operations: memory.record_quality and
// memory.detect_gaps.
func RegisterMetaTools(reg *dispatch.Registry, store *meta.Store) {
	reg.Register(&dispatch.ToolSpec{
		Name:     "memory.record_quality",
		Category: "meta",
		Mutating: true,
		Parameters: []*dispatch.ParamSpec{
			{Name: "layer", Type: dispatch.ParamEnum, Required: true, Enum: []string{
				string(types.LayerEpisodic), string(types.LayerSemantic), string(types.LayerProcedural),
				string(types.LayerProspective), string(types.LayerGraph), string(types.LayerMeta),
			}},
			{Name: "subject_id", Type: dispatch.ParamInt, Required: true},
			{Name: "score", Type: dispatch.ParamFloat, Required: true},
		},
		Returns:   &dispatch.ParamSpec{Name: "id", Type: dispatch.ParamInt},
		Cost:      "cheap",
		TimeoutMs: 5_000,
		Handler: func(ctx context.Context, projectID types.ID, args map[string]any) (*dispatch.HandlerResult, error) {
			subject := types.SubjectRef{
				Layer: types.Layer(getString(args, "layer")),
				ID:    types.ID(getInt(args, "subject_id", 0)),
			}
			id, err := store.RecordQuality(ctx, projectID, subject, getFloat(args, "score", 0))
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"id": id}}, nil
		},
	})

	reg.Register(&dispatch.ToolSpec{
		Name:      "memory.detect_gaps",
		Category:  "meta",
		Returns:   &dispatch.ParamSpec{Name: "report", Type: dispatch.ParamObject},
		Cost:      "moderate",
		TimeoutMs: 15_000,
		Handler: func(ctx context.Context, projectID types.ID, _ map[string]any) (*dispatch.HandlerResult, error) {
			report, err := store.DetectGaps(ctx, projectID)
			if err != nil {
				return nil, err
			}
			return &dispatch.HandlerResult{Data: map[string]any{"report": report}}, nil
		},
	})
}
