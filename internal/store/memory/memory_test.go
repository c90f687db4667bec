package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restgen.dev/internal/audit"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
)

func fixture(t *testing.T) (*registry.Registry, *Store) {
	t.Helper()
	reg, err := registry.LoadFile("../../registry/testdata/models.yaml")
	require.NoError(t, err)
	return reg, New()
}

func insert(t *testing.T, s *Store, m *registry.Model, rec store.Record) store.Record {
	t.Helper()
	out, err := s.Records().Insert(context.Background(), m, rec)
	require.NoError(t, err)
	return out
}

func rowIDs(rows []store.Record) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = textOf(r["id"])
	}
	return out
}

func TestInsertAssignsKeyAndFillsColumns(t *testing.T) {
	reg, s := fixture(t)
	posts, _ := reg.Resolve("posts")

	rec := insert(t, s, posts, store.Record{"title": "hello"})
	require.NotEmpty(t, rec["id"])
	require.Contains(t, rec, "deleted_at")
	require.Nil(t, rec["deleted_at"])

	_, err := s.Records().Insert(context.Background(), posts, store.Record{"id": rec["id"]})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestSelectFiltersSortsAndPages(t *testing.T) {
	reg, s := fixture(t)
	posts, _ := reg.Resolve("posts")
	ctx := context.Background()

	insert(t, s, posts, store.Record{"id": "p1", "title": "b", "status": "draft", "views": 3.0})
	insert(t, s, posts, store.Record{"id": "p2", "title": "a", "status": "published", "views": nil})
	insert(t, s, posts, store.Record{"id": "p3", "title": "c", "status": "published", "views": 10.0})

	rows, err := s.Records().Select(ctx, store.Query{
		Model: posts,
		Where: []store.Condition{{Field: "status", Values: []string{"published", "archived"}}},
		Sorts: []registry.SortSpec{{Field: "title"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p3"}, rowIDs(rows))

	rows, err = s.Records().Select(ctx, store.Query{
		Model: posts,
		Sorts: []registry.SortSpec{{Field: "views"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p3", "p2"}, rowIDs(rows), "nulls sort last ascending")

	rows, err = s.Records().Select(ctx, store.Query{
		Model: posts,
		Sorts: []registry.SortSpec{{Field: "views", Desc: true}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p3", "p1"}, rowIDs(rows), "nulls sort first descending")

	rows, err = s.Records().Select(ctx, store.Query{
		Model:  posts,
		Sorts:  []registry.SortSpec{{Field: "title"}},
		Limit:  1,
		Offset: 1,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, rowIDs(rows))

	n, err := s.Records().Count(ctx, store.Query{Model: posts})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRelationConditionsAndSearch(t *testing.T) {
	reg, s := fixture(t)
	blogs, _ := reg.Resolve("blogs")
	posts, _ := reg.Resolve("posts")
	comments, _ := reg.Resolve("comments")
	ctx := context.Background()

	insert(t, s, blogs, store.Record{"id": "b1", "name": "Gardening", "organization_id": "org-1"})
	insert(t, s, blogs, store.Record{"id": "b2", "name": "Cooking", "organization_id": "org-2"})
	insert(t, s, posts, store.Record{"id": "p1", "title": "Roses", "blog_id": "b1"})
	insert(t, s, posts, store.Record{"id": "p2", "title": "Soup", "blog_id": "b2"})
	insert(t, s, comments, store.Record{"id": "c1", "post_id": "p1"})
	insert(t, s, comments, store.Record{"id": "c2", "post_id": "p2"})

	rows, err := s.Records().Select(ctx, store.Query{
		Model: comments,
		Where: []store.Condition{{Path: comments.Owner, Field: "organization_id", Values: []string{"org-1"}}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, rowIDs(rows))

	hops, err := reg.Hops(posts, "blog")
	require.NoError(t, err)
	rows, err = s.Records().Select(ctx, store.Query{
		Model:  posts,
		Search: &store.Search{Term: "COOK", Fields: []store.SearchField{
			{Field: "title"},
			{Path: hops, Field: "name"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, rowIDs(rows))

	counts, err := s.Records().CountBy(ctx, store.Query{Model: comments}, "post_id")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"p1": 1, "p2": 1}, counts)
}

func TestTrashedModes(t *testing.T) {
	reg, s := fixture(t)
	posts, _ := reg.Resolve("posts")
	ctx := context.Background()

	insert(t, s, posts, store.Record{"id": "live"})
	insert(t, s, posts, store.Record{"id": "gone", "deleted_at": time.Now()})

	for mode, want := range map[store.TrashedMode][]string{
		store.TrashedExclude: {"live"},
		store.TrashedOnly:    {"gone"},
		store.TrashedWith:    {"live", "gone"},
	} {
		rows, err := s.Records().Select(ctx, store.Query{Model: posts, Trashed: mode})
		require.NoError(t, err)
		assert.Equal(t, want, rowIDs(rows), "mode %d", mode)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	reg, s := fixture(t)
	posts, _ := reg.Resolve("posts")
	ctx := context.Background()
	insert(t, s, posts, store.Record{"id": "p1", "title": "old"})

	out, err := s.Records().Update(ctx, posts, "p1", store.Record{"title": "new", "id": "hijack"})
	require.NoError(t, err)
	require.Equal(t, "new", out["title"])
	require.Equal(t, "p1", out["id"])

	_, err = s.Records().Update(ctx, posts, "missing", store.Record{"title": "x"})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Records().Delete(ctx, posts, "p1"))
	require.ErrorIs(t, s.Records().Delete(ctx, posts, "p1"), store.ErrNotFound)
}

func TestWithinTxRollsBackEverything(t *testing.T) {
	reg, s := fixture(t)
	posts, _ := reg.Resolve("posts")
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Records().Insert(ctx, posts, store.Record{"id": "p1"}); err != nil {
			return err
		}
		if err := tx.Audit().Append(ctx, &audit.Entry{ID: "a1", AuditableType: "posts", AuditableID: "p1"}); err != nil {
			return err
		}
		n, err := tx.Records().Count(ctx, store.Query{Model: posts})
		require.NoError(t, err)
		require.Equal(t, 1, n, "writes are visible inside the transaction")
		return boom
	})
	require.ErrorIs(t, err, boom)

	n, err := s.Records().Count(ctx, store.Query{Model: posts})
	require.NoError(t, err)
	require.Zero(t, n)
	entries, total, err := s.Audit().List(ctx, audit.ListFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, entries)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		_, err := tx.Records().Insert(ctx, posts, store.Record{"id": "p2"})
		return err
	}))
	n, err = s.Records().Count(ctx, store.Query{Model: posts})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAuditListNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Audit().Append(ctx, &audit.Entry{
			ID: id, AuditableType: "posts", AuditableID: "p1", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.Audit().Append(ctx, &audit.Entry{ID: "other", AuditableType: "posts", AuditableID: "p2", CreatedAt: base}))

	entries, total, err := s.Audit().List(ctx, audit.ListFilter{AuditableType: "posts", AuditableID: "p1", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, entries, 2)
	require.Equal(t, "c", entries[0].ID)
	require.Equal(t, "b", entries[1].ID)
}

const seedDoc = `
organizations:
  - {slug: acme, name: Acme}
  - {slug: dormant, name: Dormant, active: false}
roles:
  - {slug: admin, name: Admin, permissions: ["*"]}
  - {slug: viewer, name: Viewer, permissions: [posts.index, posts.show]}
users:
  - {email: Ada@Example.com, name: Ada, password: correct-horse}
  - {email: bob@example.com, name: Bob, password: battery-staple}
assignments:
  - {user: ada@example.com, organization: acme, role: admin}
  - {user: bob@example.com, role: viewer}
`

func TestSeedPopulatesDirectory(t *testing.T) {
	s := New()
	ctx := context.Background()

	sum, err := store.Seed(ctx, s.Writer(), strings.NewReader(seedDoc))
	require.NoError(t, err)
	require.Equal(t, store.SeedSummary{Organizations: 2, Roles: 2, Users: 2, Assignments: 2}, sum)

	org, err := s.Directory().FindOrganization(ctx, tenant.IdentifierSlug, "acme")
	require.NoError(t, err)
	require.True(t, org.Active)
	dormant, err := s.Directory().FindOrganization(ctx, tenant.IdentifierSlug, "dormant")
	require.NoError(t, err)
	require.False(t, dormant.Active)
	_, err = s.Directory().FindOrganization(ctx, tenant.IdentifierID, "nope")
	require.ErrorIs(t, err, tenant.ErrTenantNotFound)

	ada, err := s.Directory().FindUserByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.NoError(t, auth.VerifyPassword(ada.PasswordHash, "correct-horse"))

	role, err := s.Directory().RoleFor(ctx, ada.ID, org.ID)
	require.NoError(t, err)
	require.Equal(t, "admin", role.Slug)
	_, err = s.Directory().RoleFor(ctx, ada.ID, "")
	require.ErrorIs(t, err, auth.ErrNotFound)

	bob, err := s.Directory().FindUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	global, err := s.Directory().RoleFor(ctx, bob.ID, "")
	require.NoError(t, err)
	require.Equal(t, []string{"posts.index", "posts.show"}, global.Permissions)

	_, err = store.Seed(ctx, s.Writer(), strings.NewReader(seedDoc))
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestSeedRejectsDanglingAssignment(t *testing.T) {
	doc := `
users:
  - {email: a@example.com, password: long-enough}
assignments:
  - {user: a@example.com, role: ghost}
`
	_, err := store.Seed(context.Background(), New().Writer(), strings.NewReader(doc))
	require.ErrorContains(t, err, "unknown role")
}
