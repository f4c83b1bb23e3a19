package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
	"github.com/arklim/db-access-manager/internal/repository"
)

var permissionColumns = []string{
	"id",
	"principal_id",
	"principal",
	"host",
	"resource",
	"kind",
	"start_time",
	"end_time",
	"status",
	"description",
	"approved_by",
	"approved_at",
	"revoked_by",
	"revoked_at",
	"created_at",
	"updated_at",
}

// PermissionRepository implements port.PermissionRepository over PostgreSQL.
type PermissionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPermissionRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewPermissionRepository(exec pgExecutor) *PermissionRepository {
	return &PermissionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a new permission row.
func (r *PermissionRepository) Create(ctx context.Context, permission domain.Permission) error {
	stmt, args, err := r.builder.Insert("dbaccess.permissions").
		Columns(permissionColumns...).
		Values(
			permission.ID,
			permission.PrincipalID,
			permission.Principal,
			permission.Host,
			permission.Resource,
			permission.Kind,
			permission.StartTime,
			permission.EndTime,
			permission.Status,
			permission.Description,
			permission.ApprovedBy,
			permission.ApprovedAt,
			permission.RevokedBy,
			permission.RevokedAt,
			permission.CreatedAt,
			permission.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert permission sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}

	return nil
}

// GetByID retrieves a permission by id.
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*domain.Permission, error) {
	stmt, args, err := r.builder.Select(permissionColumns...).
		From("dbaccess.permissions").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select permission sql: %w", err)
	}

	permission, err := scanPermission(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan permission: %w", err)
	}

	return permission, nil
}

// Update rewrites the mutable columns of a permission row.
func (r *PermissionRepository) Update(ctx context.Context, permission domain.Permission) error {
	stmt, args, err := r.builder.Update("dbaccess.permissions").
		Set("end_time", permission.EndTime).
		Set("status", permission.Status).
		Set("description", permission.Description).
		Set("approved_by", permission.ApprovedBy).
		Set("approved_at", permission.ApprovedAt).
		Set("revoked_by", permission.RevokedBy).
		Set("revoked_at", permission.RevokedAt).
		Set("updated_at", permission.UpdatedAt).
		Where(squirrel.Eq{"id": permission.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update permission sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ListByPrincipal returns all permissions requested for a principal, newest first.
func (r *PermissionRepository) ListByPrincipal(ctx context.Context, principalID string) ([]domain.Permission, error) {
	return r.list(ctx, squirrel.Eq{"principal_id": principalID}, "created_at DESC")
}

// ListByStatus returns all permissions in the given status.
func (r *PermissionRepository) ListByStatus(ctx context.Context, status domain.PermissionStatus) ([]domain.Permission, error) {
	return r.list(ctx, squirrel.Eq{"status": status}, "created_at DESC")
}

// ListActiveExpired returns active permissions whose end time is at or
// before asOf.
func (r *PermissionRepository) ListActiveExpired(ctx context.Context, asOf time.Time) ([]domain.Permission, error) {
	return r.list(ctx, squirrel.And{
		squirrel.Eq{"status": domain.StatusActive},
		squirrel.LtOrEq{"end_time": asOf},
	}, "end_time ASC")
}

// ListExpiringBetween returns permissions whose end time falls inside the window.
func (r *PermissionRepository) ListExpiringBetween(ctx context.Context, start, end time.Time) ([]domain.Permission, error) {
	return r.list(ctx, squirrel.And{
		squirrel.GtOrEq{"end_time": start},
		squirrel.LtOrEq{"end_time": end},
	}, "end_time ASC")
}

func (r *PermissionRepository) list(ctx context.Context, where squirrel.Sqlizer, orderBy string) ([]domain.Permission, error) {
	stmt, args, err := r.builder.Select(permissionColumns...).
		From("dbaccess.permissions").
		Where(where).
		OrderBy(orderBy).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	var permissions []domain.Permission
	for rows.Next() {
		permission, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		permissions = append(permissions, *permission)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}

	return permissions, nil
}

func scanPermission(row pgx.Row) (*domain.Permission, error) {
	var (
		permission  domain.Permission
		description sql.NullString
		approvedBy  sql.NullString
		approvedAt  sql.NullTime
		revokedBy   sql.NullString
		revokedAt   sql.NullTime
	)

	if err := row.Scan(
		&permission.ID,
		&permission.PrincipalID,
		&permission.Principal,
		&permission.Host,
		&permission.Resource,
		&permission.Kind,
		&permission.StartTime,
		&permission.EndTime,
		&permission.Status,
		&description,
		&approvedBy,
		&approvedAt,
		&revokedBy,
		&revokedAt,
		&permission.CreatedAt,
		&permission.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if description.Valid {
		permission.Description = &description.String
	}
	if approvedBy.Valid {
		permission.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		permission.ApprovedAt = &approvedAt.Time
	}
	if revokedBy.Valid {
		permission.RevokedBy = &revokedBy.String
	}
	if revokedAt.Valid {
		permission.RevokedAt = &revokedAt.Time
	}

	return &permission, nil
}

var _ port.PermissionRepository = (*PermissionRepository)(nil)
