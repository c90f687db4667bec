package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *Registry {
	t.Helper()
	reg, err := LoadFile("testdata/models.yaml")
	require.NoError(t, err)
	return reg
}

func TestLoadFixture(t *testing.T) {
	reg := loadFixture(t)

	var slugs []string
	for _, m := range reg.Models() {
		slugs = append(slugs, m.Slug)
	}
	require.Equal(t, []string{"blogs", "comments", "posts"}, slugs)

	posts, err := reg.Resolve("posts")
	require.NoError(t, err)
	require.Equal(t, "posts", posts.Table)
	require.Equal(t, "id", posts.PrimaryKey)
	require.True(t, posts.HasField("deleted_at"))
	require.True(t, posts.HasField("created_at"))
	require.Equal(t, []SortSpec{{Field: "created_at", Desc: true}}, posts.DefaultSort)
	require.Equal(t, 10, posts.PerPage)
	require.Equal(t, 50, posts.MaxPerPage)
	require.True(t, posts.Validation.Store.IsPerRole())
	require.False(t, posts.Validation.Update.IsPerRole())
	require.True(t, posts.RequiresMiddleware(MiddlewareThrottle))

	blog := posts.Relations["blog"]
	require.Equal(t, "blog_id", blog.ForeignKey)
	require.Equal(t, "id", blog.OwnerKey)

	comments := reg.models["comments"]
	require.Equal(t, []Hop{
		{Relation: "post", From: "comments", To: "posts", Table: "posts", LocalColumn: "post_id", RemoteColumn: "id"},
		{Relation: "blog", From: "posts", To: "blogs", Table: "blogs", LocalColumn: "blog_id", RemoteColumn: "id"},
	}, comments.Owner)
	require.True(t, comments.Includes.Has("post"), "prefix of an allowed include is implied")
	require.False(t, comments.Supports(ActionUpdate))
	require.False(t, comments.Supports(ActionTrashed), "trashed needs soft deletes")
	require.True(t, posts.Supports(ActionRestore))
}

func TestResolveUnknown(t *testing.T) {
	reg := loadFixture(t)
	_, err := reg.Resolve("widgets")
	require.ErrorIs(t, err, ErrUnknownResource)
}

func TestHops(t *testing.T) {
	reg := loadFixture(t)
	blogs, _ := reg.Resolve("blogs")

	hops, err := reg.Hops(blogs, "posts.comments")
	require.NoError(t, err)
	require.Len(t, hops, 2)
	require.True(t, hops[0].Many)
	require.Equal(t, "id", hops[0].LocalColumn)
	require.Equal(t, "blog_id", hops[0].RemoteColumn)
	require.Equal(t, "comments", reg.Target(blogs, hops).Slug)

	_, err = reg.Hops(blogs, "posts.authors")
	require.ErrorIs(t, err, ErrUnknownRelation)
}

func TestOwnerCycleRejected(t *testing.T) {
	a := &Model{
		Slug:      "a",
		Fields:    []string{"b_id"},
		OwnerPath: []string{"b", "a"},
		Relations: map[string]Relation{"b": {Kind: BelongsTo, Model: "b"}},
	}
	b := &Model{
		Slug:      "b",
		Fields:    []string{"a_id"},
		Relations: map[string]Relation{"a": {Kind: BelongsTo, Model: "a"}},
	}
	_, err := New(a, b)
	require.ErrorIs(t, err, ErrOwnerCycle)
}

func TestOwnerPathMustReachOrganization(t *testing.T) {
	parent := &Model{Slug: "parents"}
	child := &Model{
		Slug:      "children",
		Fields:    []string{"parent_id"},
		OwnerPath: []string{"parent"},
		Relations: map[string]Relation{"parent": {Kind: BelongsTo, Model: "parents"}},
	}
	_, err := New(parent, child)
	require.ErrorIs(t, err, ErrInvalidModel)
	require.Contains(t, err.Error(), "no organization field")
}

func TestRegistrationRejectsBadDescriptors(t *testing.T) {
	cases := map[string]string{
		"duplicate slug": `
models:
  - slug: a
  - slug: a
`,
		"unknown filter field": `
models:
  - slug: a
    fields: [id, name]
    filters: [nope]
`,
		"unknown relation target": `
models:
  - slug: a
    fields: [id, b_id]
    relations:
      b: {kind: belongs_to, model: b}
`,
		"unknown action": `
models:
  - slug: a
    except_actions: [publish]
`,
		"bad rule": `
models:
  - slug: a
    fields: [id, name]
    validation:
      base: {name: "required|strnig"}
`,
		"mixed rule layer": `
models:
  - slug: a
    fields: [id, name]
    validation:
      store:
        name: required
        admin: {name: required}
`,
		"unknown key": `
models:
  - slug: a
    colour: blue
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestIncludeBase(t *testing.T) {
	base, sfx := IncludeBase("commentsCount")
	require.Equal(t, "comments", base)
	require.Equal(t, "Count", sfx)

	base, sfx = IncludeBase("blog.postsExists")
	require.Equal(t, "blog.posts", base)
	require.Equal(t, "Exists", sfx)

	base, sfx = IncludeBase("Count")
	require.Equal(t, "Count", base)
	require.Empty(t, sfx)
}
