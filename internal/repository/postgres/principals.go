package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/db-access-manager/internal/core/port"
)

// PrincipalRepository implements principal lookups over PostgreSQL.
type PrincipalRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPrincipalRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewPrincipalRepository(exec pgExecutor) *PrincipalRepository {
	return &PrincipalRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Exists reports whether an active principal with the id is registered.
func (r *PrincipalRepository) Exists(ctx context.Context, principalID string) (bool, error) {
	stmt, args, err := r.builder.Select("COUNT(*)").
		From("dbaccess.principals").
		Where(squirrel.And{
			squirrel.Eq{"id": principalID},
			squirrel.Eq{"active": true},
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select principal sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("scan principal count: %w", err)
	}

	return count > 0, nil
}

var _ port.PrincipalRepository = (*PrincipalRepository)(nil)
