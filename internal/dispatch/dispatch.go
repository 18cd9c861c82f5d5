// Package dispatch implements the typed tool registry and router: look
// up a tool by name, validate its arguments against a declared
// parameter schema, route to the bound handler under a timeout, apply
// the verification gateway for tools that opt in, and shape the
// response. Generalizes an operation-keyed switch over a fixed set of
// typed handlers, with metrics recorded around every call and
// version/compat checks before dispatch, into a registry of
// runtime-declared tools instead of a compiled-in switch statement.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shawkridge/athena/internal/apperr"
	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/types"
)

// ParamType is one of the type_spec grammar's base shapes.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamEnum   ParamType = "enum"
	ParamArray  ParamType = "array"
	ParamObject ParamType = "object"
	ParamUnion  ParamType = "union"
)

// ParamSpec declares one parameter (or, nested, one field/element/
// variant of a composite parameter).
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Default  any

	// Constraints, applicable per Type.
	MinLength *int     // string, array
	MaxLength *int     // string, array
	MinValue  *float64 // int, float
	MaxValue  *float64 // int, float
	Pattern   string   // string, as a regexp

	Enum     []string             // ParamEnum
	Elem     *ParamSpec           // ParamArray: element spec
	Fields   map[string]*ParamSpec // ParamObject: field specs
	Variants []*ParamSpec         // ParamUnion: candidate specs
}

// HandlerResult is what a bound handler returns: the response payload,
// optionally a set of gateway.Items for tools that opt into
// verification, and whether the result is a degraded partial.
type HandlerResult struct {
	Data     any
	Items    []gateway.Item
	Degraded bool
}

// HandlerFunc executes a tool call's business logic. It must honor
// ctx's deadline: on cancellation it should return promptly, returning
// any partial HandlerResult it already has via the partial channel
// mechanism is not required — Dispatch treats a context error from
// Handler as DeadlineExceeded with no partial data.
type HandlerFunc func(ctx context.Context, projectID types.ID, args map[string]any) (*HandlerResult, error)

// ResourceKeyFunc extracts the resource key mutating calls serialize
// on, from validated arguments. A nil func means the tool is never
// serialized against itself.
type ResourceKeyFunc func(args map[string]any) string

// ToolSpec is one registered tool's full declaration.
type ToolSpec struct {
	Name       string
	Category   string
	Parameters []*ParamSpec
	Returns    *ParamSpec
	Mutating   bool
	Cost       string
	TimeoutMs  int
	OptInGateway bool // apply the verification gateway to this tool's output

	Handler     HandlerFunc
	ResourceKey ResourceKeyFunc
}

// Registry holds every tool known to the dispatcher, keyed by name.
type Registry struct {
	mu   sync.RWMutex
	byName map[string]*ToolSpec
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*ToolSpec)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(spec *ToolSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[spec.Name] = spec
}

// Get returns a tool by name, or nil if unknown.
func (r *Registry) Get(name string) *ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Names returns every registered tool name, optionally filtered to one
// category — the progressive-disclosure listing a caller uses before
// loading a category's full schemas.
func (r *Registry) Names(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, spec := range r.byName {
		if category == "" || spec.Category == category {
			out = append(out, name)
		}
	}
	return out
}

// Dispatcher routes validated tool calls to their handlers.
type Dispatcher struct {
	reg     *Registry
	gw      *gateway.Engine
	cfg     *config.Config
	locks   *resourceLocks
	pending chan struct{} // bounded slot pool backing the backpressure watermark
}

// New builds a Dispatcher over reg. gw may be nil, in which case tools
// that opt into the gateway still run but their output is never
// evaluated (no decision_id is attached).
func New(reg *Registry, gw *gateway.Engine, cfg *config.Config) *Dispatcher {
	watermark := 200
	if cfg != nil && cfg.PendingTaskWatermark > 0 {
		watermark = cfg.PendingTaskWatermark
	}
	return &Dispatcher{reg: reg, gw: gw, cfg: cfg, locks: newResourceLocks(), pending: make(chan struct{}, watermark)}
}

// Registry exposes the dispatcher's tool registry.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

func (d *Dispatcher) defaultTimeout() time.Duration {
	if d.cfg != nil && d.cfg.ToolTimeout() > 0 {
		return d.cfg.ToolTimeout()
	}
	return 30 * time.Second
}

// Dispatch runs the full tool-call algorithm: lookup, validate, route,
// timeout, gateway, shape. It never returns a Go error for an ordinary
// failed call — failures are reported in the returned ToolResponse so
// every call produces a well-formed envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, projectID types.ID, name string, args map[string]any) *types.ToolResponse {
	start := time.Now()

	select {
	case d.pending <- struct{}{}:
		defer func() { <-d.pending }()
	default:
		return &types.ToolResponse{
			Status: types.ToolStatusError,
			Errors: []types.ToolError{{
				Code:    string(apperr.CodeResourceExhausted),
				Message: "pending task queue is at capacity",
			}},
			Metrics: types.ToolResponseMetrics{LatencyMs: time.Since(start).Milliseconds()},
		}
	}

	spec := d.reg.Get(name)
	if spec == nil {
		return &types.ToolResponse{
			Status: types.ToolStatusError,
			Errors: []types.ToolError{{
				Code:    string(apperr.CodeNotFound),
				Message: fmt.Sprintf("unknown tool %q; did you mean one of: %s?", name, suggest(name, d.reg.Names(""))),
			}},
			Metrics: types.ToolResponseMetrics{LatencyMs: time.Since(start).Milliseconds()},
		}
	}

	if errs := validateArgs(spec.Parameters, args); len(errs) > 0 {
		return &types.ToolResponse{
			Status:  types.ToolStatusError,
			Errors:  errs,
			Metrics: types.ToolResponseMetrics{LatencyMs: time.Since(start).Milliseconds()},
		}
	}

	var unlock func()
	if spec.Mutating && spec.ResourceKey != nil {
		key := fmt.Sprintf("%d/%s", projectID, spec.ResourceKey(args))
		unlock = d.locks.acquire(key)
	}

	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = d.defaultTimeout()
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type callOutcome struct {
		result *HandlerResult
		err    error
	}
	done := make(chan callOutcome, 1)
	go func() {
		result, err := spec.Handler(callCtx, projectID, args)
		done <- callOutcome{result, err}
	}()

	var result *HandlerResult
	var handlerErr error
	select {
	case <-callCtx.Done():
		handlerErr = apperr.ErrDeadlineExceeded
	case out := <-done:
		result, handlerErr = out.result, out.err
	}

	if unlock != nil {
		unlock()
	}

	if handlerErr != nil {
		return &types.ToolResponse{
			Status: types.ToolStatusError,
			Errors: []types.ToolError{{
				Code:    string(apperr.CodeOf(handlerErr)),
				Message: apperr.Message(handlerErr),
			}},
			Metrics: types.ToolResponseMetrics{LatencyMs: time.Since(start).Milliseconds()},
		}
	}

	resp := &types.ToolResponse{
		Status: types.ToolStatusOK,
		Data:   result.Data,
		Metrics: types.ToolResponseMetrics{
			LatencyMs:     time.Since(start).Milliseconds(),
			ItemsReturned: len(result.Items),
			Degraded:      result.Degraded,
		},
	}

	if spec.OptInGateway && d.gw != nil {
		outcome, survivors, err := d.gw.Evaluate(ctx, projectID, spec.Name, result.Items, nil, nil, nil)
		if err == nil {
			resp.Metrics.ItemsReturned = len(survivors)
			resp.DecisionID = &outcome.ID
			if outcome.Decision == "block" {
				resp.Status = types.ToolStatusError
				resp.Errors = append(resp.Errors, types.ToolError{
					Code:    string(apperr.CodePreconditionFailed),
					Message: "verification gateway blocked this result",
				})
			}
		}
	}

	return resp
}
