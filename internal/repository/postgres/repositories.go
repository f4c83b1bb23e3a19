package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Permissions      *PermissionRepository
	PermissionEvents *PermissionEventRepository
	Principals       *PrincipalRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Permissions:      NewPermissionRepository(pool),
		PermissionEvents: NewPermissionEventRepository(pool),
		Principals:       NewPrincipalRepository(pool),
	}
}
