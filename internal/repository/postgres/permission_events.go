package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
)

var permissionEventColumns = []string{
	"id",
	"permission_id",
	"event_type",
	"actor",
	"details",
	"event_time",
	"created_at",
}

// PermissionEventRepository implements the append-only audit trail over
// PostgreSQL. Rows are never updated or deleted.
type PermissionEventRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPermissionEventRepository constructs a repository backed by any executor
// that satisfies pgExecutor.
func NewPermissionEventRepository(exec pgExecutor) *PermissionEventRepository {
	return &PermissionEventRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Append inserts an audit trail record.
func (r *PermissionEventRepository) Append(ctx context.Context, event domain.PermissionEvent) error {
	stmt, args, err := r.builder.Insert("dbaccess.permission_events").
		Columns(permissionEventColumns...).
		Values(
			event.ID,
			event.PermissionID,
			event.Type,
			event.Actor,
			event.Details,
			event.EventTime,
			event.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert permission event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert permission event: %w", err)
	}

	return nil
}

// ListByPermission returns the audit trail for a permission in event order.
func (r *PermissionEventRepository) ListByPermission(ctx context.Context, permissionID string) ([]domain.PermissionEvent, error) {
	return r.list(ctx, squirrel.Eq{"permission_id": permissionID})
}

// ListByPrincipal returns audit entries across every permission requested
// for the principal.
func (r *PermissionEventRepository) ListByPrincipal(ctx context.Context, principalID string) ([]domain.PermissionEvent, error) {
	stmt, args, err := r.builder.Select(
		"e.id", "e.permission_id", "e.event_type", "e.actor", "e.details", "e.event_time", "e.created_at",
	).
		From("dbaccess.permission_events e").
		Join("dbaccess.permissions p ON p.id = e.permission_id").
		Where(squirrel.Eq{"p.principal_id": principalID}).
		OrderBy("e.event_time ASC", "e.created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permission events by principal sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permission events by principal: %w", err)
	}
	defer rows.Close()

	var events []domain.PermissionEvent
	for rows.Next() {
		event, err := scanPermissionEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission events: %w", err)
	}

	return events, nil
}

// ListByActor returns audit entries recorded for an actor.
func (r *PermissionEventRepository) ListByActor(ctx context.Context, actor string) ([]domain.PermissionEvent, error) {
	return r.list(ctx, squirrel.Eq{"actor": actor})
}

// ListBetween returns audit entries whose event time falls inside the window.
func (r *PermissionEventRepository) ListBetween(ctx context.Context, start, end time.Time) ([]domain.PermissionEvent, error) {
	return r.list(ctx, squirrel.And{
		squirrel.GtOrEq{"event_time": start},
		squirrel.LtOrEq{"event_time": end},
	})
}

func (r *PermissionEventRepository) list(ctx context.Context, where squirrel.Sqlizer) ([]domain.PermissionEvent, error) {
	stmt, args, err := r.builder.Select(permissionEventColumns...).
		From("dbaccess.permission_events").
		Where(where).
		OrderBy("event_time ASC", "created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permission events sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permission events: %w", err)
	}
	defer rows.Close()

	var events []domain.PermissionEvent
	for rows.Next() {
		event, err := scanPermissionEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission events: %w", err)
	}

	return events, nil
}

func scanPermissionEvent(row pgx.Row) (*domain.PermissionEvent, error) {
	var event domain.PermissionEvent
	if err := row.Scan(
		&event.ID,
		&event.PermissionID,
		&event.Type,
		&event.Actor,
		&event.Details,
		&event.EventTime,
		&event.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &event, nil
}

var _ port.PermissionEventRepository = (*PermissionEventRepository)(nil)
