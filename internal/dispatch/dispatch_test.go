package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/storage/memory"
	"github.com/shawkridge/athena/internal/types"
)

const projectID = types.ID(1)

func echoSpec(name string) *ToolSpec {
	return &ToolSpec{
		Name:     name,
		Category: "test",
		Parameters: []*ParamSpec{
			{Name: "text", Type: ParamString, Required: true},
		},
		Handler: func(_ context.Context, _ types.ID, args map[string]any) (*HandlerResult, error) {
			return &HandlerResult{Data: args["text"]}, nil
		},
	}
}

func TestDispatch_UnknownTool_ReturnsNotFoundWithSuggestion(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoSpec("memory.recall"))
	d := New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "memroy.recall", nil)
	assert.Equal(t, types.ToolStatusError, resp.Status)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0].Message, "memory.recall")
}

func TestDispatch_MissingRequiredParam_InvalidArgument(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoSpec("echo"))
	d := New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "echo", map[string]any{})
	assert.Equal(t, types.ToolStatusError, resp.Status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "text", resp.Errors[0].Field)
}

func TestDispatch_UnknownParam_Rejected(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoSpec("echo"))
	d := New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "echo", map[string]any{"text": "hi", "bogus": 1})
	assert.Equal(t, types.ToolStatusError, resp.Status)
	found := false
	for _, e := range resp.Errors {
		if e.Field == "bogus" {
			found = true
		}
	}
	assert.True(t, found, "unknown parameter must be rejected")
}

func TestDispatch_Success(t *testing.T) {
	reg := NewRegistry()
	reg.Register(echoSpec("echo"))
	d := New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "echo", map[string]any{"text": "hi"})
	assert.Equal(t, types.ToolStatusOK, resp.Status)
	assert.Equal(t, "hi", resp.Data)
}

func TestDispatch_Timeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&ToolSpec{
		Name:      "slow",
		Category:  "test",
		TimeoutMs: 10,
		Handler: func(ctx context.Context, _ types.ID, _ map[string]any) (*HandlerResult, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return &HandlerResult{Data: "too late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	d := New(reg, nil, nil)

	resp := d.Dispatch(context.Background(), projectID, "slow", nil)
	assert.Equal(t, types.ToolStatusError, resp.Status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "DEADLINE_EXCEEDED", resp.Errors[0].Code)
}

func TestDispatch_GatewayBlocksOnFailedGate(t *testing.T) {
	cfg := &config.Config{VerificationStrictMode: true}
	gw := gateway.New(memory.New(), cfg)

	reg := NewRegistry()
	reg.Register(&ToolSpec{
		Name:         "search",
		Category:     "test",
		OptInGateway: true,
		Handler: func(_ context.Context, _ types.ID, _ map[string]any) (*HandlerResult, error) {
			// Two items out of score order: Coherence, with no
			// remediation handler, fails and blocks in strict mode.
			return &HandlerResult{Items: []gateway.Item{
				{ID: 1, Score: 0.1},
				{ID: 2, Score: 0.9},
			}}, nil
		},
	})
	d := New(reg, gw, cfg)

	resp := d.Dispatch(context.Background(), projectID, "search", nil)
	assert.Equal(t, types.ToolStatusError, resp.Status)
	require.NotNil(t, resp.DecisionID)
}

func TestDispatch_MutatingCallsSameResourceSerialize(t *testing.T) {
	reg := NewRegistry()
	var active int
	var maxActive int
	reg.Register(&ToolSpec{
		Name:     "write",
		Category: "test",
		Mutating: true,
		ResourceKey: func(args map[string]any) string {
			return args["key"].(string)
		},
		Parameters: []*ParamSpec{{Name: "key", Type: ParamString, Required: true}},
		Handler: func(_ context.Context, _ types.ID, _ map[string]any) (*HandlerResult, error) {
			active++
			if active > maxActive {
				maxActive = active
			}
			time.Sleep(20 * time.Millisecond)
			active--
			return &HandlerResult{}, nil
		},
	})
	d := New(reg, nil, nil)

	done := make(chan struct{}, 2)
	go func() {
		d.Dispatch(context.Background(), projectID, "write", map[string]any{"key": "r1"})
		done <- struct{}{}
	}()
	go func() {
		d.Dispatch(context.Background(), projectID, "write", map[string]any{"key": "r1"})
		done <- struct{}{}
	}()
	<-done
	<-done

	assert.Equal(t, 1, maxActive, "same-resource mutating calls must serialize")
}
