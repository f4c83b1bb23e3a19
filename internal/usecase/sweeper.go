package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/port"
	"github.com/arklim/db-access-manager/internal/infra/telemetry"
)

const (
	defaultSweepInterval          = 5 * time.Minute
	defaultSchedulerCheckInterval = 24 * time.Hour
)

// Sweeper is the safety net behind the store-side auto-revoke: on a fixed
// interval it finalizes ACTIVE grants whose end time has passed, and
// periodically verifies the store's event scheduler is still running.
type Sweeper struct {
	service   *PermissionService
	scheduler port.SchedulerAdmin
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	cron      *cron.Cron

	sweepInterval          time.Duration
	schedulerCheckInterval time.Duration
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets the expiry sweep period.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithSchedulerCheckInterval sets the event-scheduler verification period.
func WithSchedulerCheckInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.schedulerCheckInterval = d
		}
	}
}

// NewSweeper constructs the sweeper. Start launches it.
func NewSweeper(service *PermissionService, scheduler port.SchedulerAdmin, metrics *telemetry.Metrics, logger *zap.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		service:                service,
		scheduler:              scheduler,
		metrics:                metrics,
		logger:                 logger,
		sweepInterval:          defaultSweepInterval,
		schedulerCheckInterval: defaultSchedulerCheckInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start verifies the event scheduler once up front, then registers the
// periodic jobs. The startup check is loud but not fatal: the sweep still
// catches expired grants even if the store-side scheduler stays off.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ensureEventScheduler(ctx)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(cronSpec(s.sweepInterval), func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	if _, err := s.cron.AddFunc(cronSpec(s.schedulerCheckInterval), func() {
		s.ensureEventScheduler(context.Background())
	}); err != nil {
		return fmt.Errorf("register scheduler check job: %w", err)
	}
	s.cron.Start()

	s.logger.Info("expiry sweeper started",
		zap.Duration("sweep_interval", s.sweepInterval),
		zap.Duration("scheduler_check_interval", s.schedulerCheckInterval),
	)
	return nil
}

// Stop halts the jobs and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("expiry sweeper stopped")
}

// Sweep runs one expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, failed := s.service.ExpireDue(ctx)
	if s.metrics != nil {
		s.metrics.SweepExpired.Add(float64(expired))
		s.metrics.SweepFailed.Add(float64(failed))
	}
	if expired > 0 || failed > 0 {
		s.logger.Info("expiry sweep finished",
			zap.Int("expired", expired),
			zap.Int("failed", failed),
		)
	}
}

// ensureEventScheduler turns the store's event scheduler on if it is off.
// Without it every scheduled auto-revoke silently never fires.
func (s *Sweeper) ensureEventScheduler(ctx context.Context) {
	enabled, err := s.scheduler.IsEventSchedulerEnabled(ctx)
	if err != nil {
		s.logger.Error("check event scheduler status", zap.Error(err))
		return
	}
	if enabled {
		return
	}
	s.logger.Warn("event scheduler is disabled, scheduled auto-revokes will not fire; enabling")
	if err := s.scheduler.EnableEventScheduler(ctx); err != nil {
		s.logger.Error("enable event scheduler", zap.Error(err))
		return
	}
	s.logger.Info("event scheduler enabled")
}

func cronSpec(d time.Duration) string {
	return "@every " + d.String()
}
