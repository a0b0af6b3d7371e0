package export

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/jobs"
)

// Syncer mirrors a session's modifications somewhere else, e.g. Notion.
type Syncer interface {
	SyncSession(ctx context.Context, sessionID string, mods []domain.CalendarModification) error
}

// Scheduler publishes one export job per live session and target on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	ledgers   Ledgers
	publisher jobs.Publisher
	targets   []jobs.Target
	log       zerolog.Logger
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 15m") and registers the enqueue function.
func NewScheduler(spec string, ledgers Ledgers, publisher jobs.Publisher, targets []jobs.Target, log zerolog.Logger) (*Scheduler, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("NewScheduler: no export targets")
	}
	s := &Scheduler{
		cron:      cron.New(),
		ledgers:   ledgers,
		publisher: publisher,
		targets:   targets,
		log:       log,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Enqueue(context.Background()) }); err != nil {
		return nil, fmt.Errorf("NewScheduler: schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running tick to return.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Enqueue publishes jobs for every live session and returns how many were queued.
func (s *Scheduler) Enqueue(ctx context.Context) int {
	n := 0
	for _, id := range s.ledgers.IDs() {
		for _, target := range s.targets {
			job := &jobs.ExportJob{SessionID: id, Target: target}
			if err := s.publisher.PublishExport(ctx, job); err != nil {
				s.log.Error().Err(err).Str("session_id", id).Str("target", string(target)).Msg("Failed to enqueue export job")
				continue
			}
			n++
		}
	}
	s.log.Debug().Int("jobs", n).Msg("Export tick")
	return n
}

// Runner executes export jobs.
type Runner struct {
	exporter *Exporter
	syncer   Syncer
	ledgers  Ledgers
	log      zerolog.Logger
}

// NewRunner creates a Runner. exporter or syncer may be nil when the
// corresponding target is disabled.
func NewRunner(ledgers Ledgers, exporter *Exporter, syncer Syncer, log zerolog.Logger) *Runner {
	return &Runner{exporter: exporter, syncer: syncer, ledgers: ledgers, log: log}
}

// Handle implements jobs.JobHandler.
func (r *Runner) Handle(ctx context.Context, job *jobs.ExportJob) error {
	log := r.log.With().Str("job_id", job.JobID).Str("session_id", job.SessionID).Str("target", string(job.Target)).Logger()

	switch job.Target {
	case jobs.TargetGCS:
		if r.exporter == nil {
			return fmt.Errorf("gcs export is not configured")
		}
		if err := r.exporter.ExportSession(ctx, job.SessionID); err != nil {
			log.Error().Err(err).Msg("Export failed")
			return err
		}
	case jobs.TargetNotion:
		if r.syncer == nil {
			return fmt.Errorf("notion sync is not configured")
		}
		mods, err := r.ledgers.Ledger(job.SessionID).List(ctx)
		if err != nil {
			return fmt.Errorf("list ledger: %w", err)
		}
		if err := r.syncer.SyncSession(ctx, job.SessionID, mods); err != nil {
			log.Error().Err(err).Msg("Notion sync failed")
			return err
		}
	default:
		return fmt.Errorf("unknown export target %q", job.Target)
	}

	log.Info().Msg("Export completed")
	return nil
}
