//go:build integration

package pg

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"restgen.dev/internal/audit"
	"restgen.dev/internal/migrate"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
)

const fixtureTables = `
create table blogs (
    id text primary key,
    name text not null,
    description text,
    organization_id text not null references organizations(id),
    created_at timestamptz,
    updated_at timestamptz
);
create table posts (
    id text primary key,
    blog_id text not null references blogs(id),
    title text not null,
    content text,
    status text,
    author_id text,
    secret_notes text,
    created_at timestamptz,
    updated_at timestamptz,
    deleted_at timestamptz
);
create table comments (
    id text primary key,
    post_id text not null references posts(id),
    body text,
    created_at timestamptz,
    updated_at timestamptz
);
`

const fixtureSeed = `
organizations:
  - {id: org-1, slug: acme, name: Acme}
roles:
  - {slug: admin, name: Admin, permissions: ["*"]}
users:
  - {id: u1, email: ada@example.com, name: Ada, password: correct-horse}
assignments:
  - {user: ada@example.com, organization: acme, role: admin}
`

// Run with: go test -tags=integration ./internal/store/pg/...
func TestPostgresStoreEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("restgen"),
		postgres.WithUsername("restgen"),
		postgres.WithPassword("restgen"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := Open(dsn, PoolConfig{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	app := fstest.MapFS{"0100_fixture.up.sql": {Data: []byte(fixtureTables)}}
	if _, err := migrate.NewManager(s.DB(), []fs.FS{migrate.System(), app}).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := store.Seed(ctx, s.Writer(), strings.NewReader(fixtureSeed)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	org, err := s.Directory().FindOrganization(ctx, tenant.IdentifierSlug, "acme")
	if err != nil || org.ID != "org-1" {
		t.Fatalf("find organization: %v %#v", err, org)
	}
	role, err := s.Directory().RoleFor(ctx, "u1", "org-1")
	if err != nil || role.Slug != "admin" {
		t.Fatalf("role for: %v %#v", err, role)
	}

	reg := loadModels(t)
	blogs, _ := reg.Resolve("blogs")
	posts, _ := reg.Resolve("posts")

	if _, err := s.Records().Insert(ctx, blogs, store.Record{"id": "b1", "name": "Garden", "organization_id": "org-1"}); err != nil {
		t.Fatalf("insert blog: %v", err)
	}

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Records().Insert(ctx, posts, store.Record{"id": "p1", "blog_id": "b1", "title": "Roses"}); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, &audit.Entry{ID: "a1", AuditableType: "posts", AuditableID: "p1", Event: audit.EventCreated, CreatedAt: time.Now()}); err != nil {
			return err
		}
		// A failed audit write must leave the transaction usable.
		if err := tx.Audit().Append(ctx, &audit.Entry{ID: "a1", AuditableType: "posts", AuditableID: "p1", Event: audit.EventCreated, CreatedAt: time.Now()}); !errors.Is(err, store.ErrConflict) {
			t.Errorf("expected duplicate audit id conflict, got %v", err)
		}
		if _, err := tx.Records().Insert(ctx, posts, store.Record{"id": "p2", "blog_id": "b1", "title": "Tulips"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	n, err := s.Records().Count(ctx, store.Query{Model: posts})
	if err != nil || n != 0 {
		t.Fatalf("rollback left rows: n=%d err=%v", n, err)
	}

	if _, err := s.Records().Insert(ctx, posts, store.Record{"id": "p3", "blog_id": "b1", "title": "Orchids", "status": "published"}); err != nil {
		t.Fatalf("insert post: %v", err)
	}
	rows, err := s.Records().Select(ctx, store.Query{
		Model:  posts,
		Where:  []store.Condition{{Path: posts.Owner, Field: "organization_id", Values: []string{"org-1"}}},
		Search: &store.Search{Term: "orch", Fields: []store.SearchField{{Field: "title"}}},
	})
	if err != nil || len(rows) != 1 || rows[0]["title"] != "Orchids" {
		t.Fatalf("scoped select: %v %#v", err, rows)
	}
	if _, err := s.Records().Insert(ctx, posts, store.Record{"id": "p4", "blog_id": "missing", "title": "x"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected foreign key conflict, got %v", err)
	}
}
