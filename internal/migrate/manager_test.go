package migrate

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInNameOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	app := fstest.MapFS{
		"0010_posts.up.sql":   {Data: []byte("create table posts (id text primary key);")},
		"0010_posts.down.sql": {Data: []byte("drop table posts;")},
	}

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_directory.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table if not exists audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index if not exists audit_logs_auditable_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index if not exists audit_logs_organization_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_audit_logs.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("create table posts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0010_posts.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mgr := NewManager(db, []fs.FS{System(), app})
	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 2 || applied[0] != "0002_audit_logs.up.sql" || applied[1] != "0010_posts.up.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_directory.up.sql").AddRow("0002_audit_logs.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table if exists audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0002_audit_logs.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	last, err := NewManager(db, []fs.FS{System()}).Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if last != "0002_audit_logs.up.sql" {
		t.Fatalf("rolled back %q", last)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCollectRejectsDuplicateNames(t *testing.T) {
	dup := fstest.MapFS{"0001_directory.up.sql": {Data: []byte("select 1;")}}
	if _, err := collectSQL([]fs.FS{System(), dup}, ".up.sql"); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b');\nselect 1;")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}
