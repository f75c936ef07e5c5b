package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"arena-serverless/internal/observability"
)

// Scheduler runs the cleanup on a cron schedule inside a long-running server.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	logger  *observability.Logger
	timeout time.Duration
}

func NewScheduler(runner Runner, logger *observability.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		runner:  runner,
		logger:  logger,
		timeout: timeout,
	}
}

// Start registers the job and starts the cron loop. spec accepts standard
// five-field expressions and descriptors such as "@every 1h".
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", spec, err)
	}

	s.cron.Start()
	s.logger.Info("maintenance_scheduler_started", map[string]any{"schedule": spec})
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance_scheduler_stopped", nil)
}

func (s *Scheduler) runOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if _, err := s.runner.Run(ctx); err != nil {
		observability.ReportError(s.logger, "scheduled_cleanup_failed", err, nil)
	}
}
