package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersSpec() TableSpec {
	return TableSpec{
		Name: "users",
		Columns: []Column{
			{Name: "id", PrimaryKey: true, CastTag: "int8"},
			{Name: "tenant_id"},
			{Name: "email"},
		},
		Relations: []RelationSpec{
			{
				Name:          "posts",
				Kind:          HasMany,
				SourceColumns: []string{"id"},
				TargetTable:   "posts",
				TargetColumns: []string{"author_id"},
			},
		},
	}
}

func postsSpec() TableSpec {
	return TableSpec{
		Name: "posts",
		Columns: []Column{
			{Name: "id", PrimaryKey: true},
			{Name: "author_id"},
			{Name: "title"},
		},
	}
}

func TestRegisterAndLink(t *testing.T) {
	r := NewRegistry()
	// users targets posts before posts is registered: forward
	// references resolve at Link time.
	require.NoError(t, r.Register(usersSpec()))
	require.NoError(t, r.Register(postsSpec()))
	require.NoError(t, r.Link())

	users, err := r.Table("users")
	require.NoError(t, err)
	assert.Equal(t, "users", users.Name())
	assert.Len(t, users.Columns(), 3)

	pk := users.PrimaryKey()
	require.Len(t, pk, 1)
	assert.Equal(t, "id", pk[0].Name())
	assert.Equal(t, "int8", pk[0].CastTag())

	rel, ok := users.Relation("posts")
	require.True(t, ok)
	assert.Equal(t, HasMany, rel.Kind())
	assert.Equal(t, "posts", rel.Target().Name())
	assert.Equal(t, "author_id", rel.TargetKeys()[0].Name())
}

func TestTableBeforeLinkFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(postsSpec()))

	_, err := r.Table("posts")
	assert.ErrorContains(t, err, "not linked")
	assert.False(t, r.Linked())
}

func TestRegisterAfterLinkFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(postsSpec()))
	require.NoError(t, r.Link())

	assert.ErrorContains(t, r.Register(usersSpec()), "already linked")
	assert.ErrorContains(t, r.Link(), "already linked")
}

func TestRegisterRejectsInvalidIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		spec TableSpec
	}{
		{"table name with quote", TableSpec{Name: `users"; --`, Columns: []Column{{Name: "id"}}}},
		{"table name with space", TableSpec{Name: "user accounts", Columns: []Column{{Name: "id"}}}},
		{"column name with dash", TableSpec{Name: "users", Columns: []Column{{Name: "user-id"}}}},
		{"empty column name", TableSpec{Name: "users", Columns: []Column{{Name: ""}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			assert.ErrorContains(t, r.Register(tt.spec), "invalid")
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(postsSpec()))
	assert.ErrorContains(t, r.Register(postsSpec()), "registered twice")

	dup := TableSpec{Name: "users", Columns: []Column{{Name: "id"}, {Name: "id"}}}
	assert.ErrorContains(t, r.Register(dup), "duplicate column")
}

func TestLinkValidatesRelations(t *testing.T) {
	tests := []struct {
		name    string
		rel     RelationSpec
		wantErr string
	}{
		{
			"unknown target table",
			RelationSpec{Name: "posts", Kind: HasMany, SourceColumns: []string{"id"}, TargetTable: "missing", TargetColumns: []string{"author_id"}},
			"unknown table",
		},
		{
			"key arity mismatch",
			RelationSpec{Name: "posts", Kind: HasMany, SourceColumns: []string{"tenant_id", "id"}, TargetTable: "posts", TargetColumns: []string{"author_id"}},
			"source keys 2 != target keys 1",
		},
		{
			"unknown source column",
			RelationSpec{Name: "posts", Kind: HasMany, SourceColumns: []string{"nope"}, TargetTable: "posts", TargetColumns: []string{"author_id"}},
			`no column "nope"`,
		},
		{
			"unknown target column",
			RelationSpec{Name: "posts", Kind: HasMany, SourceColumns: []string{"id"}, TargetTable: "posts", TargetColumns: []string{"nope"}},
			`no column "nope"`,
		},
		{
			"where names unknown column",
			RelationSpec{Name: "posts", Kind: HasMany, SourceColumns: []string{"id"}, TargetTable: "posts", TargetColumns: []string{"author_id"}, Where: map[string]any{"nope": 1}},
			"unknown column",
		},
		{
			"order names unknown column",
			RelationSpec{Name: "posts", Kind: HasMany, SourceColumns: []string{"id"}, TargetTable: "posts", TargetColumns: []string{"author_id"}, Order: []OrderSpec{{Column: "nope"}}},
			"unknown column",
		},
		{
			"unnamed relation",
			RelationSpec{Kind: HasMany, SourceColumns: []string{"id"}, TargetTable: "posts", TargetColumns: []string{"author_id"}},
			"unnamed relation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			spec := usersSpec()
			spec.Relations = []RelationSpec{tt.rel}
			require.NoError(t, r.Register(spec))
			require.NoError(t, r.Register(postsSpec()))
			assert.ErrorContains(t, r.Link(), tt.wantErr)
		})
	}
}

func TestLinkRejectsDuplicateRelation(t *testing.T) {
	r := NewRegistry()
	spec := usersSpec()
	spec.Relations = append(spec.Relations, spec.Relations[0])
	require.NoError(t, r.Register(spec))
	require.NoError(t, r.Register(postsSpec()))
	assert.ErrorContains(t, r.Link(), "declared twice")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "has_many", HasMany.String())
	assert.Equal(t, "has_one", HasOne.String())
	assert.Equal(t, "belongs_to", BelongsTo.String())
}
