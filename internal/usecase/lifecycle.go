package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
	"github.com/arklim/db-access-manager/internal/mariadb"
	"github.com/arklim/db-access-manager/internal/repository"
)

// CreatePermissionInput captures the payload for requesting a grant.
type CreatePermissionInput struct {
	PrincipalID string
	Principal   string
	Host        string
	Resource    string
	Kind        domain.PrivilegeKind
	StartTime   time.Time
	EndTime     time.Time
	Description *string
}

// PermissionService owns the grant lifecycle: it is the only component that
// mutates Permission.status and its timestamps. Each transition re-reads
// current status before checking the required source state, writes the new
// state with its synchronous audit entries, and emits one domain event.
type PermissionService struct {
	permissions port.PermissionRepository
	events      port.PermissionEventRepository
	principals  port.PrincipalRepository
	publisher   port.EventPublisher
	logger      *zap.Logger
	now         func() time.Time
}

// NewPermissionService constructs the lifecycle service.
func NewPermissionService(
	permissions port.PermissionRepository,
	events port.PermissionEventRepository,
	principals port.PrincipalRepository,
	publisher port.EventPublisher,
	logger *zap.Logger,
) *PermissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionService{
		permissions: permissions,
		events:      events,
		principals:  principals,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (s *PermissionService) WithClock(now func() time.Time) *PermissionService {
	if now != nil {
		s.now = now
	}
	return s
}

// Create stores a new grant request in PENDING and emits CREATED. The
// request must pass principal, host, resource, and time-range validation
// before it is accepted.
func (s *PermissionService) Create(ctx context.Context, input CreatePermissionInput, createdBy string) (*domain.Permission, error) {
	exists, err := s.principals.Exists(ctx, input.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	if !exists {
		return nil, domain.NewNotFoundError("principal", input.PrincipalID)
	}

	now := s.now()
	permission := domain.Permission{
		ID:          uuid.NewString(),
		PrincipalID: input.PrincipalID,
		Principal:   input.Principal,
		Host:        input.Host,
		Resource:    input.Resource,
		Kind:        input.Kind,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
		Status:      domain.StatusPending,
		Description: input.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	warnings, err := mariadb.ValidatePermission(permission, now)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.logger.Warn("permission request warning",
			zap.String("principal", permission.Principal), zap.String("warning", w))
	}

	if err := s.permissions.Create(ctx, permission); err != nil {
		return nil, fmt.Errorf("create permission: %w", err)
	}

	s.appendAudit(ctx, permission.ID, domain.EventCreated, createdBy, fmt.Sprintf(
		"Permission created for account '%s'@'%s' on resource %s",
		permission.Principal, permission.Host, permission.Resource,
	))

	if err := s.publisher.PublishPermissionCreated(ctx, domain.PermissionCreatedEvent{
		Permission: permission,
		CreatedBy:  createdBy,
	}); err != nil {
		s.logger.Warn("publish created event", zap.String("permission_id", permission.ID), zap.Error(err))
	}

	s.logger.Info("permission created",
		zap.String("permission_id", permission.ID),
		zap.String("principal", permission.Principal),
		zap.String("created_by", createdBy),
	)
	return &permission, nil
}

// Approve transitions PENDING to APPROVED, stamps the approver, and emits
// APPROVED. When the grant's start time has already elapsed it chains
// directly into Activate.
func (s *PermissionService) Approve(ctx context.Context, id, approvedBy string) (*domain.Permission, error) {
	permission, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if permission.Status != domain.StatusPending {
		return nil, domain.NewInvalidStateError("approve", permission.Status, domain.StatusPending)
	}

	now := s.now()
	permission.Status = domain.StatusApproved
	permission.ApprovedBy = &approvedBy
	permission.ApprovedAt = &now
	permission.UpdatedAt = now

	if err := s.permissions.Update(ctx, *permission); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}

	s.appendAudit(ctx, permission.ID, domain.EventApproved, approvedBy,
		fmt.Sprintf("Permission approved by %s", approvedBy))

	if err := s.publisher.PublishPermissionApproved(ctx, domain.PermissionApprovedEvent{
		Permission: *permission,
		ApprovedBy: approvedBy,
	}); err != nil {
		s.logger.Warn("publish approved event", zap.String("permission_id", permission.ID), zap.Error(err))
	}

	s.logger.Info("permission approved",
		zap.String("permission_id", permission.ID),
		zap.String("approved_by", approvedBy),
	)

	if !s.now().Before(permission.StartTime) {
		return s.Activate(ctx, permission.ID)
	}
	return permission, nil
}

// Activate transitions APPROVED to ACTIVE and emits ACTIVATED, which drives
// the actual grant on the managed store. The ACTIVATED audit entry is
// written by the orchestrator once the external outcome is known.
func (s *PermissionService) Activate(ctx context.Context, id string) (*domain.Permission, error) {
	permission, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if permission.Status != domain.StatusApproved {
		return nil, domain.NewInvalidStateError("activate", permission.Status, domain.StatusApproved)
	}

	permission.Status = domain.StatusActive
	permission.UpdatedAt = s.now()

	if err := s.permissions.Update(ctx, *permission); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}

	if err := s.publisher.PublishPermissionActivated(ctx, domain.PermissionActivatedEvent{
		Permission: *permission,
	}); err != nil {
		s.logger.Warn("publish activated event", zap.String("permission_id", permission.ID), zap.Error(err))
	}

	s.logger.Info("permission activated", zap.String("permission_id", permission.ID))
	return permission, nil
}

// Revoke transitions any non-terminal state to REVOKED, stamps the revoker,
// and emits REVOKED, which drives the immediate external revoke.
func (s *PermissionService) Revoke(ctx context.Context, id, revokedBy string) (*domain.Permission, error) {
	permission, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if permission.Status.IsTerminal() {
		return nil, domain.NewInvalidStateError("revoke", permission.Status,
			domain.StatusPending, domain.StatusApproved, domain.StatusActive)
	}

	now := s.now()
	permission.Status = domain.StatusRevoked
	permission.RevokedBy = &revokedBy
	permission.RevokedAt = &now
	permission.UpdatedAt = now

	if err := s.permissions.Update(ctx, *permission); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}

	if err := s.publisher.PublishPermissionRevoked(ctx, domain.PermissionRevokedEvent{
		Permission: *permission,
		RevokedBy:  revokedBy,
	}); err != nil {
		s.logger.Warn("publish revoked event", zap.String("permission_id", permission.ID), zap.Error(err))
	}

	s.logger.Info("permission revoked",
		zap.String("permission_id", permission.ID),
		zap.String("revoked_by", revokedBy),
	)
	return permission, nil
}

// Extend moves the end time strictly forward without changing status and
// emits EXTENDED, which refreshes the scheduled auto-revoke.
func (s *PermissionService) Extend(ctx context.Context, id string, newEndTime time.Time, extendedBy string) (*domain.Permission, error) {
	permission, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !newEndTime.After(permission.EndTime) {
		return nil, domain.NewInvalidArgumentError("newEndTime",
			"new end time must be after current end time")
	}

	previousEnd := permission.EndTime
	permission.EndTime = newEndTime
	permission.UpdatedAt = s.now()

	if err := s.permissions.Update(ctx, *permission); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}

	s.appendAudit(ctx, permission.ID, domain.EventExtended, extendedBy, fmt.Sprintf(
		"Permission end time extended from %s to %s by %s",
		previousEnd.Format(time.RFC3339), newEndTime.Format(time.RFC3339), extendedBy,
	))

	if err := s.publisher.PublishPermissionExtended(ctx, domain.PermissionExtendedEvent{
		Permission:  *permission,
		ExtendedBy:  extendedBy,
		PreviousEnd: previousEnd,
	}); err != nil {
		s.logger.Warn("publish extended event", zap.String("permission_id", permission.ID), zap.Error(err))
	}

	s.logger.Info("permission extended",
		zap.String("permission_id", permission.ID),
		zap.Time("new_end_time", newEndTime),
		zap.String("extended_by", extendedBy),
	)
	return permission, nil
}

// ExpireDue finalizes every ACTIVE grant whose end time has passed. One
// record failing never aborts the sweep for the rest; failures are logged
// and counted in the result.
func (s *PermissionService) ExpireDue(ctx context.Context) (expired int, failed int) {
	now := s.now()
	due, err := s.permissions.ListActiveExpired(ctx, now)
	if err != nil {
		s.logger.Error("list expired permissions", zap.Error(err))
		return 0, 0
	}

	for _, permission := range due {
		if err := s.expireOne(ctx, permission.ID); err != nil {
			failed++
			s.logger.Error("expire permission",
				zap.String("permission_id", permission.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, failed
}

func (s *PermissionService) expireOne(ctx context.Context, id string) error {
	permission, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if permission.Status != domain.StatusActive {
		return domain.NewInvalidStateError("expire", permission.Status, domain.StatusActive)
	}

	permission.Status = domain.StatusExpired
	permission.UpdatedAt = s.now()

	if err := s.permissions.Update(ctx, *permission); err != nil {
		return fmt.Errorf("update permission: %w", err)
	}

	if err := s.publisher.PublishPermissionExpired(ctx, domain.PermissionExpiredEvent{
		Permission: *permission,
	}); err != nil {
		s.logger.Warn("publish expired event", zap.String("permission_id", permission.ID), zap.Error(err))
	}

	s.logger.Info("permission expired", zap.String("permission_id", permission.ID))
	return nil
}

// Get retrieves a permission by id.
func (s *PermissionService) Get(ctx context.Context, id string) (*domain.Permission, error) {
	return s.get(ctx, id)
}

// ListByPrincipal returns all grants requested for a principal.
func (s *PermissionService) ListByPrincipal(ctx context.Context, principalID string) ([]domain.Permission, error) {
	permissions, err := s.permissions.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("list permissions by principal: %w", err)
	}
	return permissions, nil
}

// ListByStatus returns all grants in the given status.
func (s *PermissionService) ListByStatus(ctx context.Context, status domain.PermissionStatus) ([]domain.Permission, error) {
	permissions, err := s.permissions.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list permissions by status: %w", err)
	}
	return permissions, nil
}

// ListExpiringBetween returns grants whose end time falls inside the window.
func (s *PermissionService) ListExpiringBetween(ctx context.Context, start, end time.Time) ([]domain.Permission, error) {
	permissions, err := s.permissions.ListExpiringBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list expiring permissions: %w", err)
	}
	return permissions, nil
}

// History returns the audit trail for a permission.
func (s *PermissionService) History(ctx context.Context, permissionID string) ([]domain.PermissionEvent, error) {
	events, err := s.events.ListByPermission(ctx, permissionID)
	if err != nil {
		return nil, fmt.Errorf("list permission events: %w", err)
	}
	return events, nil
}

// HistoryByPrincipal returns audit entries across a principal's permissions.
func (s *PermissionService) HistoryByPrincipal(ctx context.Context, principalID string) ([]domain.PermissionEvent, error) {
	events, err := s.events.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("list permission events by principal: %w", err)
	}
	return events, nil
}

// HistoryByActor returns audit entries recorded for an actor.
func (s *PermissionService) HistoryByActor(ctx context.Context, actor string) ([]domain.PermissionEvent, error) {
	events, err := s.events.ListByActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("list permission events by actor: %w", err)
	}
	return events, nil
}

// HistoryBetween returns audit entries within a time window.
func (s *PermissionService) HistoryBetween(ctx context.Context, start, end time.Time) ([]domain.PermissionEvent, error) {
	events, err := s.events.ListBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list permission events by window: %w", err)
	}
	return events, nil
}

// get loads a permission, mapping an absent record to a not-found error.
// Any other repository failure keeps its own character so callers do not
// mistake a store outage for a missing record.
func (s *PermissionService) get(ctx context.Context, id string) (*domain.Permission, error) {
	permission, err := s.permissions.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NewNotFoundError("permission", id)
	}
	if err != nil {
		return nil, domain.NewInternalError("load permission", err)
	}
	return permission, nil
}

// appendAudit writes a synchronous audit entry. Audit failures are logged,
// never propagated: the state change itself already committed.
func (s *PermissionService) appendAudit(ctx context.Context, permissionID string, eventType domain.EventType, actor, details string) {
	now := s.now()
	event := domain.PermissionEvent{
		ID:           uuid.NewString(),
		PermissionID: permissionID,
		Type:         eventType,
		Actor:        actor,
		Details:      details,
		EventTime:    now,
		CreatedAt:    now,
	}
	if err := s.events.Append(ctx, event); err != nil {
		s.logger.Error("append audit event",
			zap.String("permission_id", permissionID),
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}
