package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
)

// StubNotifier logs outcomes instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubNotifier struct {
	logger *zap.Logger
}

// NewStubNotifier constructs a development-friendly outcome notifier.
func NewStubNotifier(logger *zap.Logger) *StubNotifier {
	return &StubNotifier{logger: logger}
}

// NotifyPermissionOutcome logs the outcome.
func (n *StubNotifier) NotifyPermissionOutcome(_ context.Context, event domain.PermissionEvent, permission domain.Permission) error {
	n.logger.Info("stub outcome notification",
		zap.String("event_type", string(event.Type)),
		zap.String("permission_id", permission.ID),
		zap.String("principal", permission.Principal),
		zap.String("resource", permission.Resource),
		zap.String("status", string(permission.Status)),
		zap.String("details", event.Details),
	)
	return nil
}

var _ port.Notifier = (*StubNotifier)(nil)
