package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

func TestCreateProject_Success(t *testing.T) {
	db := memory.New()
	reg := dispatch.NewRegistry()
	RegisterProjectTools(reg, db)
	d := dispatch.New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), 0, "system.create_project", map[string]any{"name": "athena-self-hosting"})
	require.Equal(t, types.ToolStatusOK, resp.Status)
	id := resp.Data.(map[string]any)["id"]
	assert.NotZero(t, id)

	it, err := db.Scan(context.Background(), storage.NSProjects, storage.Filter{})
	require.NoError(t, err)
	defer it.Close()
	require.True(t, it.Next(context.Background()))
}

func TestCreateProject_MissingName(t *testing.T) {
	db := memory.New()
	reg := dispatch.NewRegistry()
	RegisterProjectTools(reg, db)
	d := dispatch.New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), 0, "system.create_project", map[string]any{})
	assert.Equal(t, types.ToolStatusError, resp.Status)
}
