package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/f22labs/whatsapp-api/internal/instance_service/domain"
)

// Sweeper periodically deletes ephemeral session artifacts across all instances.
type Sweeper struct {
	store  domain.ArtifactStore
	spec   string
	parser cron.Parser
	logger *slog.Logger
}

// NewSweeper validates spec (standard cron or a descriptor such as "@every 2h").
func NewSweeper(store domain.ArtifactStore, spec string, logger *slog.Logger) (*Sweeper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return &Sweeper{
		store:  store,
		spec:   spec,
		parser: parser,
		logger: logger.With("component", "stale_sweeper"),
	}, nil
}

// RunOnce performs one sweep. Backend errors are logged and the cycle is skipped.
func (s *Sweeper) RunOnce(ctx context.Context) {
	removed, err := s.store.PurgeStaleArtifacts(ctx)
	if err != nil {
		staleSweeps.WithLabelValues(s.store.Kind(), "error").Inc()
		s.logger.ErrorContext(ctx, "Stale artifact sweep failed, skipping cycle", "backend", s.store.Kind(), "removed", removed, "error", err)
		return
	}
	staleSweeps.WithLabelValues(s.store.Kind(), "ok").Inc()
	s.logger.InfoContext(ctx, "Stale artifact sweep finished", "backend", s.store.Kind(), "removed", removed)
}

// Run schedules RunOnce until ctx is done, then waits for a running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(s.parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.logger.InfoContext(ctx, "Stale artifact sweeper started", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("Stale artifact sweeper stopped")
	return nil
}
