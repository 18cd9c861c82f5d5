// Package daemon wires every storage backend, layer store, engine and
// tool registration into one stack, shared by cmd/athenad (which serves
// it over stdio) and cmd/athenactl (which drives one-shot operational
// commands against the same wiring).
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shawkridge/athena/internal/cascade"
	"github.com/shawkridge/athena/internal/config"
	"github.com/shawkridge/athena/internal/consolidation"
	"github.com/shawkridge/athena/internal/dispatch"
	"github.com/shawkridge/athena/internal/dispatch/tools"
	"github.com/shawkridge/athena/internal/gateway"
	"github.com/shawkridge/athena/internal/layers/episodic"
	"github.com/shawkridge/athena/internal/layers/graph"
	"github.com/shawkridge/athena/internal/layers/meta"
	"github.com/shawkridge/athena/internal/layers/procedural"
	"github.com/shawkridge/athena/internal/layers/prospective"
	"github.com/shawkridge/athena/internal/layers/semantic"
	"github.com/shawkridge/athena/internal/layers/session"
	"github.com/shawkridge/athena/internal/layers/working"
	"github.com/shawkridge/athena/internal/llm"
	"github.com/shawkridge/athena/internal/observability"
	"github.com/shawkridge/athena/internal/pii"
	"github.com/shawkridge/athena/internal/retrieval"
	"github.com/shawkridge/athena/internal/scheduler"
	"github.com/shawkridge/athena/internal/storage"
	"github.com/shawkridge/athena/internal/storage/factory"
	"github.com/shawkridge/athena/internal/types"
)

// Daemon holds every wired collaborator. cmd/athenad's serve subcommand
// starts its scheduler and drives its Dispatcher from stdio; cmd/athenactl's
// subcommands call straight into GatewayEngine/Consolidator for one-shot
// operational commands.
type Daemon struct {
	Cfg *config.Config
	DB  storage.Storage
	Log *slog.Logger

	EpisodicStore    *episodic.Store
	SemanticStore    *semantic.Store
	ProceduralStore  *procedural.Store
	GraphStore       *graph.Store
	MetaStore        *meta.Store
	SessionStore     *session.Store
	WorkingStore     *working.Store
	ProspectiveStore *prospective.Store

	GatewayEngine   *gateway.Engine
	RetrievalEngine *retrieval.Engine
	Orchestrator    *cascade.Orchestrator
	Consolidator    *consolidation.Engine
	Recorder        *observability.Recorder

	Dispatcher *dispatch.Dispatcher
	Pool       *scheduler.Pool
	Runner     *scheduler.Runner

	shutdownObs func(context.Context) error
}

// Boot loads configuration, opens storage, wires every layer store and
// engine, and registers the full tool catalog. athenaDir is the
// directory holding athena.yaml and (for the sqlite backend) the
// database file.
func Boot(athenaDir string) (*Daemon, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load(athenaDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx := context.Background()
	backend, err := factory.Open(ctx, cfg, athenaDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	recorder, shutdownObs, err := observability.New("athenad", nil)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}

	var (
		expander    retrieval.QueryExpander
		synthesizer cascade.Synthesizer
		validator   consolidation.Validator
	)
	if cfg.LLMEnabled {
		client, err := llm.NewClient("", cfg.LLMModel)
		if err != nil {
			logger.Warn("llm collaborator unavailable, degrading query expansion/synthesis/validation", "error", err)
		} else {
			expander, synthesizer, validator = client, client, client
		}
	}

	episodicStore := episodic.New(backend, resolvePIIProfile(cfg))
	semanticStore := semantic.New(backend, nil)
	proceduralStore := procedural.New(backend, nil)
	graphStore := graph.New(backend)
	metaStore := meta.New(backend)
	sessionStore := session.New(backend)
	prospectiveStore := prospective.New(backend)

	gatewayEngine := gateway.New(backend, cfg)

	retrievalEngine := retrieval.New(backend, nil, expander, nil, gatewayEngine, recorder, cfg)

	orchestrator := cascade.New(backend, retrievalEngine, metaStore, sessionStore, synthesizer, cfg)

	consolidator := consolidation.New(backend, episodicStore, semanticStore, proceduralStore, graphStore, nil, validator, gatewayEngine, recorder, cfg)

	workingStore := working.New(cfg.WorkingMemoryCapacity, workingConsolidator{engine: consolidator})

	reg := dispatch.NewRegistry()
	tools.RegisterProjectTools(reg, backend)
	tools.RegisterSystemTools(reg, gatewayEngine, recorder, time.Now())
	tools.RegisterRetrievalTools(reg, retrievalEngine)
	tools.RegisterCascadeTools(reg, orchestrator)
	tools.RegisterEpisodicTools(reg, episodicStore)
	tools.RegisterConsolidationTools(reg, consolidator)
	tools.RegisterGatewayTools(reg, gatewayEngine)
	tools.RegisterSessionTools(reg, sessionStore, episodicStore)
	tools.RegisterProspectiveTools(reg, prospectiveStore)
	tools.RegisterGraphTools(reg, graphStore)
	tools.RegisterMetaTools(reg, metaStore)
	tools.RegisterProceduralTools(reg, proceduralStore)
	tools.RegisterWorkingTools(reg, workingStore)
	tools.RegisterSemanticTools(reg, semanticStore)

	dispatcher := dispatch.New(reg, gatewayEngine, cfg)

	pool := scheduler.NewPool(cfg.SchedulerWorkers, cfg.PendingTaskWatermark)

	lister := scheduler.NewStorageProjectLister(backend)
	runner := scheduler.NewRunner(logger,
		scheduler.Job{
			Name:     "working_memory_decay",
			Interval: cfg.WorkingMemoryDecayInterval(),
			Run: func(ctx context.Context) error {
				workingStore.DecayTick(ctx, cfg.RecencyHalfLife())
				return nil
			},
		},
		scheduler.Job{
			Name:     "session_reap",
			Interval: cfg.SessionReapInterval(),
			Run: func(ctx context.Context) error {
				projects, err := lister.ListActive(ctx)
				if err != nil {
					return err
				}
				for _, projectID := range projects {
					if _, err := sessionStore.ReapStale(ctx, projectID, cfg.SessionMaxIdle()); err != nil {
						return err
					}
				}
				return nil
			},
		},
		scheduler.Job{
			Name:     "scheduled_consolidation",
			Interval: cfg.ScheduledConsolidationInterval(),
			Run: func(ctx context.Context) error {
				projects, err := lister.ListActive(ctx)
				if err != nil {
					return err
				}
				for _, projectID := range projects {
					if _, err := consolidator.Run(ctx, projectID, types.TriggerScheduled, nil); err != nil {
						return err
					}
				}
				return nil
			},
		},
	)

	return &Daemon{
		Cfg:              cfg,
		DB:               backend,
		Log:              logger,
		EpisodicStore:    episodicStore,
		SemanticStore:    semanticStore,
		ProceduralStore:  proceduralStore,
		GraphStore:       graphStore,
		MetaStore:        metaStore,
		SessionStore:     sessionStore,
		WorkingStore:     workingStore,
		ProspectiveStore: prospectiveStore,
		GatewayEngine:   gatewayEngine,
		RetrievalEngine: retrievalEngine,
		Orchestrator:    orchestrator,
		Consolidator:    consolidator,
		Recorder:        recorder,
		Dispatcher:      dispatcher,
		Pool:            pool,
		Runner:          runner,
		shutdownObs:     shutdownObs,
	}, nil
}

// Start launches the background scheduler; the caller is responsible
// for calling Stop on shutdown.
func (d *Daemon) Start(ctx context.Context) {
	d.Pool.Start()
	d.Runner.Start(ctx)
}

// Stop drains the scheduler and worker pool and flushes observability
// exporters, in that order so no in-flight job outlives its metrics.
func (d *Daemon) Stop(ctx context.Context) {
	d.Runner.Stop()
	d.Pool.Stop()
	if d.shutdownObs != nil {
		if err := d.shutdownObs(ctx); err != nil {
			d.Log.Error("observability shutdown failed", "error", err)
		}
	}
}

// resolvePIIProfile maps the configured pii_policy_profile name to a
// pii.Profile. The field-level detection ruleset behind a named profile
// is an external collaborator (see internal/pii's doc comment); only the
// "default" pass-through profile is built in here, so any other name
// still degrades safely to pass-through rather than failing boot.
func resolvePIIProfile(cfg *config.Config) *pii.Profile {
	if cfg.PIIPolicyProfile == "" || cfg.PIIPolicyProfile == "default" {
		return pii.DefaultProfile()
	}
	slog.Default().Warn("unknown pii_policy_profile, falling back to pass-through", "profile", cfg.PIIPolicyProfile)
	return pii.DefaultProfile()
}

// workingConsolidator adapts consolidation.Engine to working.Consolidator:
// working memory evicts an item by handing it to the consolidation
// pipeline rather than discarding it.
type workingConsolidator struct {
	engine *consolidation.Engine
}

func (w workingConsolidator) Consolidate(ctx context.Context, item types.WorkingMemoryItem, decision types.RoutingDecision) {
	if _, err := w.engine.Run(ctx, item.ProjectID, types.TriggerWorkingMemory, nil); err != nil {
		slog.Default().Error("working memory eviction consolidation failed", "project_id", item.ProjectID, "error", err)
	}
}
