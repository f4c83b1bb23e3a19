package port

import (
	"context"

	"github.com/arklim/db-access-manager/internal/core/domain"
)

// EventPublisher hands lifecycle events to the orchestrator. Publication is
// fire-and-forget: a slow or failing external operation never blocks the
// transition that emitted the event.
type EventPublisher interface {
	PublishPermissionCreated(ctx context.Context, event domain.PermissionCreatedEvent) error
	PublishPermissionApproved(ctx context.Context, event domain.PermissionApprovedEvent) error
	PublishPermissionActivated(ctx context.Context, event domain.PermissionActivatedEvent) error
	PublishPermissionRevoked(ctx context.Context, event domain.PermissionRevokedEvent) error
	PublishPermissionExpired(ctx context.Context, event domain.PermissionExpiredEvent) error
	PublishPermissionExtended(ctx context.Context, event domain.PermissionExtendedEvent) error
}

// Notifier broadcasts terminal permission outcomes to external consumers.
type Notifier interface {
	NotifyPermissionOutcome(ctx context.Context, event domain.PermissionEvent, permission domain.Permission) error
}
