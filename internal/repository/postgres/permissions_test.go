package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/repository"
)

func samplePermission() domain.Permission {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Permission{
		ID:          "perm-1",
		PrincipalID: "principal-1",
		Principal:   "app_user",
		Host:        "%",
		Resource:    "orders",
		Kind:        domain.PrivilegeRead,
		StartTime:   now,
		EndTime:     now.Add(24 * time.Hour),
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func permissionRow(p domain.Permission) *pgxmock.Rows {
	return pgxmock.NewRows(permissionColumns).AddRow(
		p.ID,
		p.PrincipalID,
		p.Principal,
		p.Host,
		p.Resource,
		p.Kind,
		p.StartTime,
		p.EndTime,
		p.Status,
		nil,
		nil,
		nil,
		nil,
		nil,
		p.CreatedAt,
		p.UpdatedAt,
	)
}

func TestPermissionRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)
	p := samplePermission()

	mock.ExpectExec(`INSERT INTO dbaccess\.permissions`).
		WithArgs(
			p.ID, p.PrincipalID, p.Principal, p.Host, p.Resource, p.Kind,
			p.StartTime, p.EndTime, p.Status, p.Description,
			p.ApprovedBy, p.ApprovedAt, p.RevokedBy, p.RevokedAt,
			p.CreatedAt, p.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)
	p := samplePermission()

	mock.ExpectQuery(`SELECT .+ FROM dbaccess\.permissions WHERE id =`).
		WithArgs(p.ID).
		WillReturnRows(permissionRow(p))

	got, err := repo.GetByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.ID != p.ID || got.Status != domain.StatusPending || got.Kind != domain.PrivilegeRead {
		t.Fatalf("unexpected permission: %+v", got)
	}
	if got.Description != nil || got.ApprovedBy != nil {
		t.Fatal("null columns must map to nil pointers")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPermissionRepository_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)

	mock.ExpectQuery(`SELECT .+ FROM dbaccess\.permissions WHERE id =`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPermissionRepository_Update_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)
	p := samplePermission()

	mock.ExpectExec(`UPDATE dbaccess\.permissions SET`).
		WithArgs(
			p.EndTime, p.Status, p.Description,
			p.ApprovedBy, p.ApprovedAt, p.RevokedBy, p.RevokedAt,
			p.UpdatedAt, p.ID,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.Update(context.Background(), p); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPermissionRepository_ListActiveExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewPermissionRepository(mock)
	p := samplePermission()
	p.Status = domain.StatusActive
	asOf := p.EndTime.Add(time.Hour)

	mock.ExpectQuery(`SELECT .+ FROM dbaccess\.permissions WHERE \(status =`).
		WithArgs(domain.StatusActive, asOf).
		WillReturnRows(permissionRow(p))

	got, err := repo.ListActiveExpired(context.Background(), asOf)
	if err != nil {
		t.Fatalf("ListActiveExpired returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("unexpected result: %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
