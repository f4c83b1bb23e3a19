package port

import (
	"context"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

// GrantExecutor performs privilege changes on the managed database store.
type GrantExecutor interface {
	// GrantWithAutoRevoke ensures the account exists, grants the mapped
	// privileges, and schedules the store-side auto-revoke at the grant's
	// end time. A failure before the grant step skips scheduling.
	GrantWithAutoRevoke(ctx context.Context, permission domain.Permission) error
	// RevokeNow immediately revokes the mapped privileges and drops the
	// named auto-revoke schedule if present.
	RevokeNow(ctx context.Context, permission domain.Permission) error
	// RescheduleAutoRevoke recreates the auto-revoke schedule at the
	// permission's current end time.
	RescheduleAutoRevoke(ctx context.Context, permission domain.Permission) error
}

// SchedulerAdmin manages the managed store's event scheduling subsystem,
// which the entire auto-revoke guarantee depends on.
type SchedulerAdmin interface {
	IsEventSchedulerEnabled(ctx context.Context) (bool, error)
	EnableEventScheduler(ctx context.Context) error
}
