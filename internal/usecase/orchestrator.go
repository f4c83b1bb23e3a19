package usecase

import (
	"context"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
	"github.com/arklim/db-access-manager/internal/infra/telemetry"
)

// RetryPolicy bounds retries of managed store operations. Delay doubles
// from BaseDelay per attempt, capped at MaxDelay. Only retryable operation
// failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the store's typical transient-fault window.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Orchestrator reacts to lifecycle events with the matching managed store
// operation, records the outcome in the audit trail, and broadcasts
// terminal outcomes to external consumers. It never mutates permission
// status; that is the lifecycle service's job.
type Orchestrator struct {
	executor port.GrantExecutor
	events   port.PermissionEventRepository
	notifier port.Notifier
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	policy   RetryPolicy
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewOrchestrator constructs the event handler.
func NewOrchestrator(
	executor port.GrantExecutor,
	events port.PermissionEventRepository,
	notifier port.Notifier,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
	policy RetryPolicy,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	return &Orchestrator{
		executor: executor,
		events:   events,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		policy:   policy,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithClock overrides the time source. Used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

// WithSleeper overrides the backoff sleeper. Used by tests.
func (o *Orchestrator) WithSleeper(sleep func(context.Context, time.Duration) error) *Orchestrator {
	if sleep != nil {
		o.sleep = sleep
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent routes a lifecycle event to its store operation. CREATED and
// APPROVED carry no external side effect and are ignored.
func (o *Orchestrator) HandleEvent(ctx context.Context, event domain.PermissionDomainEvent) error {
	switch e := event.(type) {
	case domain.PermissionActivatedEvent:
		return o.handleActivated(ctx, e)
	case domain.PermissionRevokedEvent:
		return o.handleRevoked(ctx, e)
	case domain.PermissionExtendedEvent:
		return o.handleExtended(ctx, e)
	case domain.PermissionExpiredEvent:
		return o.handleExpired(ctx, e)
	case domain.PermissionCreatedEvent, domain.PermissionApprovedEvent:
		return nil
	default:
		return domain.NewInternalError(
			fmt.Sprintf("unhandled permission event type %q", event.EventType()), nil)
	}
}

func (o *Orchestrator) handleActivated(ctx context.Context, event domain.PermissionActivatedEvent) error {
	permission := event.Permission
	err := o.withRetry(ctx, "grant", permission.ID, func() error {
		return o.executor.GrantWithAutoRevoke(ctx, permission)
	})
	if err != nil {
		o.recordOutcome(ctx, permission, domain.EventActivated, fmt.Sprintf(
			"Failed to grant privileges for account '%s'@'%s' on resource %s: %v",
			permission.Principal, permission.Host, permission.Resource, err,
		))
		return fmt.Errorf("grant privileges for permission %s: %w", permission.ID, err)
	}
	o.recordOutcome(ctx, permission, domain.EventActivated, fmt.Sprintf(
		"Privileges granted for account '%s'@'%s' on resource %s until %s",
		permission.Principal, permission.Host, permission.Resource,
		permission.EndTime.Format(time.RFC3339),
	))
	return nil
}

func (o *Orchestrator) handleRevoked(ctx context.Context, event domain.PermissionRevokedEvent) error {
	permission := event.Permission
	err := o.withRetry(ctx, "revoke", permission.ID, func() error {
		return o.executor.RevokeNow(ctx, permission)
	})
	if err != nil {
		o.recordOutcome(ctx, permission, domain.EventRevoked, fmt.Sprintf(
			"Failed to revoke privileges for account '%s'@'%s' on resource %s: %v",
			permission.Principal, permission.Host, permission.Resource, err,
		))
		return fmt.Errorf("revoke privileges for permission %s: %w", permission.ID, err)
	}
	o.recordOutcome(ctx, permission, domain.EventRevoked, fmt.Sprintf(
		"Privileges revoked for account '%s'@'%s' on resource %s by %s",
		permission.Principal, permission.Host, permission.Resource, event.RevokedBy,
	))
	return nil
}

// handleExtended refreshes the store-side auto-revoke so the schedule always
// tracks the current end time. Grants that are not yet active have no
// schedule to move; activation will pick up the new end time.
func (o *Orchestrator) handleExtended(ctx context.Context, event domain.PermissionExtendedEvent) error {
	permission := event.Permission
	if permission.Status != domain.StatusActive {
		o.logger.Debug("extension before activation, no schedule to move",
			zap.String("permission_id", permission.ID),
			zap.String("status", string(permission.Status)),
		)
		return nil
	}
	err := o.withRetry(ctx, "reschedule", permission.ID, func() error {
		return o.executor.RescheduleAutoRevoke(ctx, permission)
	})
	if err != nil {
		o.recordOutcome(ctx, permission, domain.EventExtended, fmt.Sprintf(
			"Failed to reschedule auto-revoke for account '%s'@'%s': %v",
			permission.Principal, permission.Host, err,
		))
		return fmt.Errorf("reschedule auto-revoke for permission %s: %w", permission.ID, err)
	}
	o.logger.Info("auto-revoke rescheduled",
		zap.String("permission_id", permission.ID),
		zap.Time("previous_end", event.PreviousEnd),
		zap.Time("new_end", permission.EndTime),
	)
	return nil
}

// handleExpired only records the outcome: the store's own scheduled event
// performs the revoke at the end time.
func (o *Orchestrator) handleExpired(ctx context.Context, event domain.PermissionExpiredEvent) error {
	permission := event.Permission
	o.recordOutcome(ctx, permission, domain.EventExpired, fmt.Sprintf(
		"Permission expired for account '%s'@'%s' on resource %s at %s",
		permission.Principal, permission.Host, permission.Resource,
		permission.EndTime.Format(time.RFC3339),
	))
	return nil
}

// withRetry runs op up to MaxAttempts times, backing off between retryable
// failures. Non-retryable failures abort immediately.
func (o *Orchestrator) withRetry(ctx context.Context, operation, permissionID string, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			if o.metrics != nil {
				o.metrics.StoreOperations.WithLabelValues(operation, "success").Inc()
			}
			return nil
		}
		if !domain.IsRetryable(lastErr) {
			if o.metrics != nil {
				o.metrics.StoreOperations.WithLabelValues(operation, "failure").Inc()
			}
			return lastErr
		}
		if attempt == o.policy.MaxAttempts {
			break
		}
		if o.metrics != nil {
			o.metrics.RetryAttempts.WithLabelValues(operation).Inc()
		}
		delay := o.policy.delay(attempt)
		o.logger.Warn("store operation failed, retrying",
			zap.String("operation", operation),
			zap.String("permission_id", permissionID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if o.metrics != nil {
		o.metrics.StoreOperations.WithLabelValues(operation, "exhausted").Inc()
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", o.policy.MaxAttempts, lastErr)
}

// recordOutcome appends the audit entry for an external outcome and hands it
// to the notifier. Neither failure propagates; the store operation's result
// already stands.
func (o *Orchestrator) recordOutcome(ctx context.Context, permission domain.Permission, eventType domain.EventType, details string) {
	now := o.now()
	event := domain.PermissionEvent{
		ID:           uuid.NewString(),
		PermissionID: permission.ID,
		Type:         eventType,
		Actor:        domain.SystemActor,
		Details:      details,
		EventTime:    now,
		CreatedAt:    now,
	}
	if err := o.events.Append(ctx, event); err != nil {
		o.logger.Error("append outcome event",
			zap.String("permission_id", permission.ID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
	if o.notifier != nil {
		if err := o.notifier.NotifyPermissionOutcome(ctx, event, permission); err != nil {
			o.logger.Warn("notify permission outcome",
				zap.String("permission_id", permission.ID),
				zap.String("event_type", string(eventType)),
				zap.Error(err),
			)
		}
	}
}
