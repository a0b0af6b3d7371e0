// Package app builds the service object graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/cashflow-assistant/internal/config"
	"github.com/dvloznov/cashflow-assistant/internal/dispatcher"
	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/education"
	"github.com/dvloznov/cashflow-assistant/internal/explain"
	"github.com/dvloznov/cashflow-assistant/internal/export"
	"github.com/dvloznov/cashflow-assistant/internal/jobs"
	"github.com/dvloznov/cashflow-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/cashflow-assistant/internal/ledger"
	"github.com/dvloznov/cashflow-assistant/internal/llm"
	"github.com/dvloznov/cashflow-assistant/internal/notionsync"
	"github.com/dvloznov/cashflow-assistant/internal/optimizer"
	"github.com/dvloznov/cashflow-assistant/internal/planner"
	"github.com/dvloznov/cashflow-assistant/internal/projector"
	"github.com/dvloznov/cashflow-assistant/internal/session"
	"github.com/dvloznov/cashflow-assistant/internal/transactions"
)

// App is the wired service.
type App struct {
	Config     config.Config
	Backend    ledger.Backend
	Sessions   *session.Registry
	Projector  *projector.Projector
	Optimizer  *optimizer.Optimizer
	Planner    *planner.Planner
	Dispatcher *dispatcher.Dispatcher

	// Export is nil unless export or Notion sync is enabled.
	Export *Export

	closers []func() error
}

// Export groups the background export pipeline.
type Export struct {
	Jobs      *inmemory.Store
	Queue     *inmemory.Queue
	Exporter  *export.Exporter
	Syncer    *notionsync.Syncer
	Runner    *export.Runner
	Scheduler *export.Scheduler
}

// Build wires every component cfg enables.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, log zerolog.Logger) error {
	cfg := a.Config

	backend, err := OpenBackend(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("Build: ledger: %w", err)
	}
	a.Backend = backend
	a.closers = append(a.closers, backend.Close)
	a.Sessions = session.NewRegistry(backend, session.WithMaxHistory(cfg.Sessions.MaxHistory))

	floor, err := cfg.Planner.Floor()
	if err != nil {
		return err
	}
	target, err := cfg.Planner.Target()
	if err != nil {
		return err
	}
	a.Projector = projector.New(
		projector.WithPolicy(domain.SameDayPolicy(cfg.Planner.SameDayPolicy)),
		projector.WithFloor(floor),
	)
	a.Optimizer = optimizer.New(
		optimizer.WithUtilizationTarget(target),
		optimizer.WithWeekdaysOnly(cfg.Planner.WeekdaysOnly),
	)

	plannerOpts := []planner.Option{
		planner.WithProjector(a.Projector),
		planner.WithOptimizer(a.Optimizer),
		planner.WithTrailingDays(cfg.Planner.TrailingDays),
	}
	var dispatcherOpts []dispatcher.Option
	var educationOpts []education.Option

	switch cfg.Source.Kind {
	case "file":
		plannerOpts = append(plannerOpts, planner.WithSource(transactions.FileSource{Path: cfg.Source.File}))
	case "bigquery":
		client, err := bigquery.NewClient(ctx, cfg.Source.Project)
		if err != nil {
			return fmt.Errorf("Build: bigquery source: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		src := transactions.NewBigQuerySource(client, cfg.Source.Project, cfg.Source.Dataset, cfg.Source.LookbackDays, cfg.Source.HorizonDays)
		plannerOpts = append(plannerOpts, planner.WithSource(src))
		log.Info().Str("project", cfg.Source.Project).Str("dataset", cfg.Source.Dataset).Msg("Using BigQuery transaction source")
	}

	if cfg.LLM.Enabled {
		gen, err := llm.NewGemini(ctx, llm.Config{
			APIKey:      cfg.LLM.APIKey,
			Project:     cfg.LLM.Project,
			Location:    cfg.LLM.Location,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return fmt.Errorf("Build: gemini: %w", err)
		}
		plannerOpts = append(plannerOpts, planner.WithExplainer(explain.NewModel(gen, log)))
		dispatcherOpts = append(dispatcherOpts, dispatcher.WithClassifier(dispatcher.NewModelClassifier(gen, log)))
		educationOpts = append(educationOpts, education.WithGenerator(gen))
		log.Info().Str("model", cfg.LLM.Model).Msg("Gemini enabled")
	}

	a.Planner = planner.New(plannerOpts...)
	edu, err := education.NewResponder(log, educationOpts...)
	if err != nil {
		return fmt.Errorf("Build: education: %w", err)
	}
	a.Dispatcher, err = dispatcher.New(a.Sessions, a.Planner, edu, log, dispatcherOpts...)
	if err != nil {
		return err
	}

	if cfg.Export.Enabled || cfg.Notion.Enabled {
		if err := a.buildExport(ctx, log); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) buildExport(ctx context.Context, log zerolog.Logger) error {
	cfg := a.Config
	e := &Export{Jobs: inmemory.NewStore()}
	e.Queue = inmemory.NewQueue(100, e.Jobs, inmemory.WithWorkers(cfg.Export.Workers))

	var targets []jobs.Target
	var syncer export.Syncer
	if cfg.Export.Enabled {
		store, err := export.NewGCSStore(ctx)
		if err != nil {
			return fmt.Errorf("Build: gcs: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		e.Exporter = export.NewExporter(a.Sessions, store, cfg.Export.Bucket, cfg.Export.Prefix)
		targets = append(targets, jobs.TargetGCS)
	}
	if cfg.Notion.Enabled {
		e.Syncer = notionsync.NewSyncer(notionsync.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID, cfg.Notion.DryRun)
		syncer = e.Syncer
		targets = append(targets, jobs.TargetNotion)
	}

	e.Runner = export.NewRunner(a.Sessions, e.Exporter, syncer, log)

	sched, err := export.NewScheduler(cfg.Export.Schedule, a.Sessions, e.Queue, targets, log)
	if err != nil {
		return fmt.Errorf("Build: %w", err)
	}
	e.Scheduler = sched
	a.Export = e
	return nil
}

// Close releases every client Build opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenBackend opens the configured ledger backend.
func OpenBackend(ctx context.Context, cfg config.LedgerConfig) (ledger.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return ledger.NewMemoryBackend(), nil
	case "sqlite":
		return ledger.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return ledger.OpenPostgres(ctx, cfg.PostgresDSN)
	case "bigquery":
		return ledger.NewBigQueryBackend(ctx, cfg.Project, cfg.Dataset)
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
}
