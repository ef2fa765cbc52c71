package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sentra.org/internal/session"
)

func connectionException() error {
	return &pgconn.PgError{Code: "08006", Message: "connection failure"}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no rows", sql.ErrNoRows, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"domain sentinel", session.ErrNotFound, false},
		{"unique violation", uniqueViolation(), false},
		{"foreign key violation", foreignKeyViolation(), false},
		{"connection exception", connectionException(), true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"bad conn", driver.ErrBadConn, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestPermissionClosureRetriesTransientFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select distinct p.resource, p.action").
		WithArgs("p1").
		WillReturnError(connectionException())
	mock.ExpectQuery("select distinct p.resource, p.action").
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"resource", "action"}).
			AddRow("documents", "edit"))

	perms, err := store.PermissionClosure(context.Background(), "p1")
	if err != nil {
		t.Fatalf("PermissionClosure after one transient failure: %v", err)
	}
	if len(perms) != 1 || perms[0] != "documents:edit" {
		t.Fatalf("perms = %v", perms)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindGivesUpAfterBoundedAttempts(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < retryAttempts; i++ {
		mock.ExpectQuery("select " + testPrincipalCols + " from principals where id").
			WithArgs("p1").
			WillReturnError(connectionException())
	}

	_, err := store.Find(context.Background(), "p1")
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "08006" {
		t.Fatalf("err = %v, want the underlying connection error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindDoesNotRetryNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select " + testPrincipalCols + " from principals where id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Find(context.Background(), "ghost"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want session.ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select distinct p.resource, p.action").
		WithArgs("p1").
		WillReturnError(connectionException())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.PermissionClosure(ctx, "p1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRotateTransientFailureIsNotRetried(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("update refresh_tokens").
		WithArgs("tok-old", "hash-old", now).
		WillReturnError(connectionException())
	mock.ExpectRollback()

	_, err := store.Rotate(context.Background(), "tok-old", "hash-old", now, &session.RefreshToken{
		ID: "tok-new", TokenHash: "hash-new", ExpiresAt: now.Add(time.Hour),
	})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "08006" {
		t.Fatalf("err = %v, want the connection error surfaced on the first attempt", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
