package port

import (
	"context"
	"time"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

// PermissionRepository is the record store for grants. Records are never
// deleted; terminal permissions remain for audit.
type PermissionRepository interface {
	Create(ctx context.Context, permission domain.Permission) error
	GetByID(ctx context.Context, id string) (*domain.Permission, error)
	Update(ctx context.Context, permission domain.Permission) error
	ListByPrincipal(ctx context.Context, principalID string) ([]domain.Permission, error)
	ListByStatus(ctx context.Context, status domain.PermissionStatus) ([]domain.Permission, error)
	// ListActiveExpired returns every ACTIVE permission whose end time is at
	// or before asOf. Used by the expiration sweep.
	ListActiveExpired(ctx context.Context, asOf time.Time) ([]domain.Permission, error)
	ListExpiringBetween(ctx context.Context, start, end time.Time) ([]domain.Permission, error)
}

// PermissionEventRepository is the append-only audit trail.
type PermissionEventRepository interface {
	Append(ctx context.Context, event domain.PermissionEvent) error
	ListByPermission(ctx context.Context, permissionID string) ([]domain.PermissionEvent, error)
	// ListByPrincipal returns audit entries across every permission requested
	// for the principal.
	ListByPrincipal(ctx context.Context, principalID string) ([]domain.PermissionEvent, error)
	ListByActor(ctx context.Context, actor string) ([]domain.PermissionEvent, error)
	ListBetween(ctx context.Context, start, end time.Time) ([]domain.PermissionEvent, error)
}
