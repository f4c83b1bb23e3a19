package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
	"github.com/arklim/db-access-manager/internal/infra/config"
)

const schemaVersion = "1.0"

// OutcomeNotifier implements port.Notifier over Kafka. Each permission
// outcome is published to a per-event-type topic, keyed by permission id so
// consumers see one grant's outcomes in order.
type OutcomeNotifier struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewOutcomeNotifier constructs a Kafka-backed outcome notifier.
func NewOutcomeNotifier(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *OutcomeNotifier {
	return &OutcomeNotifier{producer: producer, appCfg: appCfg, logger: logger}
}

type outcomeEnvelope struct {
	EventID      string            `json:"event_id"`
	EventType    string            `json:"event_type"`
	PermissionID string            `json:"permission_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Payload      outcomePayload    `json:"payload"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type outcomePayload struct {
	PrincipalID string    `json:"principal_id"`
	Principal   string    `json:"principal"`
	Host        string    `json:"host"`
	Resource    string    `json:"resource"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Actor       string    `json:"actor"`
	Details     string    `json:"details"`
}

// NotifyPermissionOutcome publishes dbaccess.permission.<event_type> events.
func (n *OutcomeNotifier) NotifyPermissionOutcome(ctx context.Context, event domain.PermissionEvent, permission domain.Permission) error {
	envelope := outcomeEnvelope{
		EventID:      event.ID,
		EventType:    string(event.Type),
		PermissionID: permission.ID,
		Timestamp:    event.EventTime.UTC(),
		Version:      schemaVersion,
		Payload: outcomePayload{
			PrincipalID: permission.PrincipalID,
			Principal:   permission.Principal,
			Host:        permission.Host,
			Resource:    permission.Resource,
			Kind:        string(permission.Kind),
			Status:      string(permission.Status),
			StartTime:   permission.StartTime.UTC(),
			EndTime:     permission.EndTime.UTC(),
			Actor:       event.Actor,
			Details:     event.Details,
		},
		Metadata: map[string]string{
			"service":     n.appCfg.Name,
			"environment": n.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal outcome envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: n.producer.TopicName("permission." + strings.ToLower(string(event.Type))),
		Key:   sarama.StringEncoder(permission.ID),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case n.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.Notifier = (*OutcomeNotifier)(nil)
