package migrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	script := "create table a (id text);\ninsert into a values ('x; y');\n"
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %q", len(stmts), stmts)
	}
	if stmts[1] != "\ninsert into a values ('x; y');" {
		t.Fatalf("semicolon inside string literal split the statement: %q", stmts[1])
	}
}

func TestListScriptsFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	names, err := listScripts(dir, ".up.sql")
	if err != nil {
		t.Fatalf("listScripts: %v", err)
	}
	if len(names) != 2 || names[0] != "0001_a.up.sql" || names[1] != "0002_b.up.sql" {
		t.Fatalf("names = %v", names)
	}
}

func TestListScriptsMissingDir(t *testing.T) {
	names, err := listScripts(filepath.Join(t.TempDir(), "absent"), ".sql")
	if err != nil || names != nil {
		t.Fatalf("missing dir should be empty, got %v / %v", names, err)
	}
}

func TestUpAppliesPendingMigrations(t *testing.T) {
	dir := t.TempDir()
	script := "create table documents (id text primary key);\ncreate index documents_id on documents (id);"
	if err := os.WriteFile(filepath.Join(dir, "0001_docs.up.sql"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index documents_id").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0001_docs.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mgr := NewManager(db, dir, "")
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpSkipsAppliedMigrations(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0001_docs.up.sql"), []byte("select 1;"), 0o644); err != nil {
		t.Fatal(err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_docs.up.sql"))

	mgr := NewManager(db, dir, "")
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
