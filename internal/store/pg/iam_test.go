package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sentra.org/internal/iam"
	"sentra.org/internal/session"
)

func uniqueViolation() error {
	return &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "principals_email_key"}
}

func foreignKeyViolation() error {
	return &pgconn.PgError{Code: pgErrForeignKeyViolation}
}

func TestCreatePrincipalDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	p := &session.Principal{
		ID: "p1", Email: "ada@example.com", PasswordHash: "$2a$04$hash",
		Active: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec("insert into principals").
		WithArgs(p.ID, p.Email, p.PasswordHash, p.Active, p.EmailVerified, p.CreatedAt, p.UpdatedAt).
		WillReturnError(uniqueViolation())

	if err := store.CreatePrincipal(context.Background(), p); !errors.Is(err, iam.ErrConflict) {
		t.Fatalf("err = %v, want iam.ErrConflict", err)
	}
}

func TestCreateRoleDuplicateName(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into roles").
		WithArgs("r1", "admin", "", true, now, now).
		WillReturnError(uniqueViolation())

	err := store.CreateRole(context.Background(), &iam.Role{
		ID: "r1", Name: "admin", Active: true, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, iam.ErrConflict) {
		t.Fatalf("err = %v, want iam.ErrConflict", err)
	}
}

func TestAssignRoleUnknownReference(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into principal_roles").
		WithArgs("ghost", "r1").
		WillReturnError(foreignKeyViolation())

	if err := store.AssignRole(context.Background(), "ghost", "r1"); !errors.Is(err, iam.ErrNotFound) {
		t.Fatalf("err = %v, want iam.ErrNotFound", err)
	}
}

func TestSetRolePermissionsReplacesInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "perm-a").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "perm-b").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.SetRolePermissions(context.Background(), "r1", []string{"perm-a", "perm-b"})
	if err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetRolePermissionsUnknownPermissionRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "ghost").
		WillReturnError(foreignKeyViolation())
	mock.ExpectRollback()

	err := store.SetRolePermissions(context.Background(), "r1", []string{"ghost"})
	if !errors.Is(err, iam.ErrNotFound) {
		t.Fatalf("err = %v, want iam.ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetPrincipalStatusUnknownPrincipal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update principals set active").
		WithArgs("ghost", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.SetPrincipalStatus(context.Background(), "ghost", false); !errors.Is(err, iam.ErrNotFound) {
		t.Fatalf("err = %v, want iam.ErrNotFound", err)
	}
}

func TestGetPolicyUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, name, resource, action, effect, priority, active, conditions").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetPolicy(context.Background(), "ghost"); !errors.Is(err, iam.ErrNotFound) {
		t.Fatalf("err = %v, want iam.ErrNotFound", err)
	}
}

func TestDeletePolicyUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from policies").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeletePolicy(context.Background(), "ghost"); !errors.Is(err, iam.ErrNotFound) {
		t.Fatalf("err = %v, want iam.ErrNotFound", err)
	}
}

func TestGetPolicyRoundTripsConditions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select id, name, resource, action, effect, priority, active, conditions").
		WithArgs("pol-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "resource", "action", "effect",
			"priority", "active", "conditions", "created_at", "updated_at"}).
			AddRow("pol-1", "p", "documents", "edit", "allow", 10, true,
				[]byte(`{"department":"engineering"}`), now, now))

	p, err := store.GetPolicy(context.Background(), "pol-1")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if p.Conditions["department"] != "engineering" {
		t.Fatalf("conditions = %v", p.Conditions)
	}
}

func TestPrincipalAttributes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select key, value from principal_attributes").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("department", "engineering").
			AddRow("clearance", "2"))

	attrs, err := store.PrincipalAttributes(context.Background(), "p1")
	if err != nil {
		t.Fatalf("PrincipalAttributes: %v", err)
	}
	if attrs["department"] != "engineering" || attrs["clearance"] != "2" {
		t.Fatalf("attrs = %v", attrs)
	}
}
