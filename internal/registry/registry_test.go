package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovouin/metabase-provisioner/internal/metabasetest"
	"github.com/flovouin/metabase-provisioner/metabase"
)

func newTestRegistry(t *testing.T) (*Registry, *metabasetest.Server) {
	t.Helper()

	server := metabasetest.NewServer(t)
	client, err := metabase.NewClient(server.URL)
	require.NoError(t, err)

	return New(client), server
}

func TestLookupIsMemoized(t *testing.T) {
	ctx := context.Background()
	r, server := newTestRegistry(t)
	server.Seed("collection", map[string]any{"name": "DE"})

	first, err := r.Lookup(ctx, Collection)
	require.NoError(t, err)
	assert.Contains(t, first, "DE")

	server.Seed("collection", map[string]any{"name": "FR"})
	second, err := r.Lookup(ctx, Collection)
	require.NoError(t, err)
	assert.NotContains(t, second, "FR", "objects created after the first lookup are not visible")
	assert.Equal(t, 1, server.CountRequests("GET", "/api/collection"))

	r.Invalidate(Collection)
	third, err := r.Lookup(ctx, Collection)
	require.NoError(t, err)
	assert.Contains(t, third, "FR")
	assert.Equal(t, 2, server.CountRequests("GET", "/api/collection"))
}

func TestLookupSkipsNonIntegerIds(t *testing.T) {
	r, _ := newTestRegistry(t)

	collections, err := r.Lookup(context.Background(), Collection)
	require.NoError(t, err)
	assert.NotContains(t, collections, "Our analytics")
}

func TestFindGroupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	r, server := newTestRegistry(t)
	id := server.Seed("group", map[string]any{"name": "de"})

	found, ok, err := r.Find(ctx, Group, "DE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	allUsers, ok, err := r.Find(ctx, Group, "all users")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, allUsers)
}

func TestFindDatabaseByUnderlyingName(t *testing.T) {
	ctx := context.Background()
	r, server := newTestRegistry(t)
	id := server.Seed("database", map[string]any{
		"name":    "Statistics DE",
		"engine":  "postgres",
		"details": map[string]any{"dbname": "statistics_de"},
	})
	sample := server.Seed("database", map[string]any{"name": "Sample Database", "engine": "h2"})

	found, ok, err := r.Find(ctx, Database, "statistics_de")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	found, ok, err = r.Find(ctx, Database, "Sample Database")
	require.NoError(t, err)
	assert.True(t, ok, "databases without a database name are indexed by their display name")
	assert.Equal(t, sample, found)
}

func TestFirstObjectWins(t *testing.T) {
	ctx := context.Background()
	r, server := newTestRegistry(t)
	first := server.Seed("card", map[string]any{"name": "Accounts"})
	server.Seed("card", map[string]any{"name": "Accounts"})

	found, ok, err := r.Find(ctx, Card, "Accounts")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, found)
}

func TestRefreshListsAllTypes(t *testing.T) {
	r, server := newTestRegistry(t)

	require.NoError(t, r.Refresh(context.Background()))
	for _, t2 := range ObjectTypes {
		assert.Equal(t, 1, server.CountRequests("GET", t2.Endpoint()), "type %s", t2)
	}
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "/api/permissions/group", Group.Endpoint())
	assert.Equal(t, "/api/dashboard", Dashboard.Endpoint())
}
