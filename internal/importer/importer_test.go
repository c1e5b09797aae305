package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovouin/metabase-provisioner/internal/layout"
	"github.com/flovouin/metabase-provisioner/internal/mapping"
	"github.com/flovouin/metabase-provisioner/internal/metabasetest"
	"github.com/flovouin/metabase-provisioner/internal/reconciler"
	"github.com/flovouin/metabase-provisioner/internal/registry"
	"github.com/flovouin/metabase-provisioner/metabase"
)

type fixture struct {
	server   *metabasetest.Server
	ic       *ImportContext
	baseline int
	target   int
	seed     int
	cardA    int
	cardB    int
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	server := metabasetest.NewServer(t)
	server.SchemaTemplate = []metabasetest.TableTemplate{
		{Name: "account", Fields: []string{"id", "account_type", "creation_date"}},
	}
	baseline := server.Seed("database", map[string]any{"name": "statistics_global"})
	target := server.Seed("database", map[string]any{"name": "statistics_de"})

	baseAccount := server.Tables(baseline)[0]

	cardA := server.Seed("card", map[string]any{
		"name":          "New Users",
		"display":       "bar",
		"collection_id": 5,
		"creator_id":    1,
		"database_id":   baseline,
		"dataset_query": map[string]any{
			"type":     "query",
			"database": baseline,
			"query": map[string]any{
				"source-table": baseAccount.Id,
				"aggregation":  []any{[]any{"count"}},
				"breakout":     []any{[]any{"field-id", baseAccount.Fields[2].Id}},
			},
		},
	})
	cardB := server.Seed("card", map[string]any{
		"name":        "Survey responses",
		"display":     "line",
		"database_id": baseline,
		"dataset_query": map[string]any{
			"type":     "native",
			"database": baseline,
			"native":   map[string]any{"query": "SELECT count(*) FROM company"},
		},
	})

	seed := server.Seed("dashboard", map[string]any{"name": "Seed Dashboard"})
	server.Dashcards[seed] = []map[string]any{
		{
			"id":      1,
			"card_id": cardA,
			"col":     4,
			"row":     2,
			"size_x":  6,
			"size_y":  3,
			"series":  []any{map[string]any{"id": cardB, "name": "Survey responses"}},
			"visualization_settings": map[string]any{
				"series_settings": map[string]any{
					"count":            map[string]any{"title": "users"},
					"New Users":        map[string]any{"color": "#509EE3"},
					"Survey responses": map[string]any{"title": "responses"},
				},
			},
		},
		{
			"id":                     2,
			"card_id":                nil,
			"col":                    0,
			"row":                    0,
			"size_x":                 4,
			"size_y":                 2,
			"visualization_settings": map[string]any{"text": "Hello"},
		},
	}

	client, err := metabase.NewClient(server.URL)
	require.NoError(t, err)

	reg := registry.New(client)
	rec := reconciler.New(client, reg, nil)
	creator := layout.CardCreatorFunc(func(ctx context.Context, name string, attrs map[string]any) (int, error) {
		return rec.CreateOrReuse(ctx, registry.Card, name, attrs, true)
	})

	ic := NewImportContext(client, reg, mapping.NewMapper(client, baseline, nil), creator, nil)

	return fixture{
		server:   server,
		ic:       ic,
		baseline: baseline,
		target:   target,
		seed:     seed,
		cardA:    cardA,
		cardB:    cardB,
	}
}

func findCard(t *testing.T, server *metabasetest.Server, name string) map[string]any {
	t.Helper()

	for _, c := range server.Objects("card") {
		if c["name"] == name {
			return c
		}
	}

	require.Failf(t, "card not found", "no card named '%s'", name)
	return nil
}

func TestFindSeedDashboard(t *testing.T) {
	f := newFixture(t)

	id, err := f.ic.FindSeedDashboard(context.Background(), "Seed Dashboard")
	require.NoError(t, err)
	assert.Equal(t, f.seed, id)

	_, err = f.ic.FindSeedDashboard(context.Background(), "Missing")
	assert.ErrorIs(t, err, ErrUnknownSeedDashboard)
}

func TestCopyDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dashboard := f.server.Seed("dashboard", map[string]any{"name": "Seed Dashboard (DE)"})

	count, err := f.ic.CopyDashboard(ctx, f.seed, dashboard, Target{Database: f.target, Collection: 77, Country: "de"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	copied := findCard(t, f.server, "New Users (DE)")
	targetAccount := f.server.Tables(f.target)[0]
	assert.Equal(t, float64(f.target), copied["database_id"])
	assert.Equal(t, float64(77), copied["collection_id"])
	assert.NotContains(t, copied, "creator_id")
	datasetQuery := copied["dataset_query"].(map[string]any)
	assert.Equal(t, float64(f.target), datasetQuery["database"])
	query := datasetQuery["query"].(map[string]any)
	assert.Equal(t, float64(targetAccount.Id), query["source-table"])
	assert.Equal(t, []any{[]any{"field-id", float64(targetAccount.Fields[2].Id)}}, query["breakout"])

	native := findCard(t, f.server, "Survey responses (DE)")
	assert.Equal(t, float64(f.target), native["dataset_query"].(map[string]any)["database"])

	dashcards := f.server.Dashcards[dashboard]
	require.Len(t, dashcards, 2)

	assert.Equal(t, copied["id"], dashcards[0]["card_id"])
	assert.Equal(t, float64(4), dashcards[0]["col"])
	assert.Equal(t, float64(2), dashcards[0]["row"])
	assert.Equal(t, float64(6), dashcards[0]["size_x"])
	assert.Equal(t, float64(3), dashcards[0]["size_y"])
	assert.Equal(t, []any{map[string]any{"id": native["id"]}}, dashcards[0]["series"])
	assert.Equal(t, map[string]any{
		"count":                 map[string]any{"title": "users"},
		"New Users (DE)":        map[string]any{"color": "#509EE3"},
		"Survey responses (DE)": map[string]any{"title": "responses"},
	}, dashcards[0]["visualization_settings"].(map[string]any)["series_settings"])

	assert.Nil(t, dashcards[1]["card_id"])
	assert.Equal(t, map[string]any{"text": "Hello"}, dashcards[1]["visualization_settings"])

	seedCard := findCard(t, f.server, "New Users")
	assert.Equal(t, float64(f.baseline), seedCard["database_id"], "seed cards are left untouched")
}

func TestCopyDashboardMemoizesCards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := Target{Database: f.target, Collection: 77, Country: "de"}

	first := f.server.Seed("dashboard", map[string]any{"name": "First"})
	second := f.server.Seed("dashboard", map[string]any{"name": "Second"})

	_, err := f.ic.CopyDashboard(ctx, f.seed, first, target)
	require.NoError(t, err)
	_, err = f.ic.CopyDashboard(ctx, f.seed, second, target)
	require.NoError(t, err)

	assert.Equal(t, 2, f.server.CountRequests("POST", "/api/card"))
	assert.Equal(t, 2, f.server.CountRequests("GET", "/api/card/"))
	// The seed dashboard is fetched once, and each target dashboard once to place the copies.
	assert.Equal(t, 3, f.server.CountRequests("GET", "/api/dashboard/"))
	assert.Equal(t, f.server.Dashcards[first][0]["card_id"], f.server.Dashcards[second][0]["card_id"])
}

func TestCopyDashboardPlacesCardsBelowExistingCards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dashboard := f.server.Seed("dashboard", map[string]any{"name": "Seed Dashboard (DE)"})
	f.server.Dashcards[dashboard] = []map[string]any{
		{"id": 10, "card_id": f.cardB, "col": 0, "row": 0, "size_x": 16, "size_y": 4},
		{"id": 11, "card_id": f.cardB, "col": 0, "row": 4, "size_x": 8, "size_y": 3},
	}

	count, err := f.ic.CopyDashboard(ctx, f.seed, dashboard, Target{Database: f.target, Collection: 77, Country: "de"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	dashcards := f.server.Dashcards[dashboard]
	require.Len(t, dashcards, 4)
	assert.Equal(t, float64(9), dashcards[2]["row"])
	assert.Equal(t, float64(4), dashcards[2]["col"])
	assert.Equal(t, float64(7), dashcards[3]["row"])
}

func TestCopyDashboardToBaselineKeepsNames(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dashboard := f.server.Seed("dashboard", map[string]any{"name": "Copy"})

	_, err := f.ic.CopyDashboard(ctx, f.seed, dashboard, Target{Database: f.baseline, Collection: 8})
	require.NoError(t, err)

	// The copies reuse the seed cards, as they have the same name.
	assert.Equal(t, 0, f.server.CountRequests("POST", "/api/card"))
	assert.Equal(t, float64(8), findCard(t, f.server, "New Users")["collection_id"])
}

func TestCopyDashboardRejectsForeignDatabases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	foreign := f.server.Seed("card", map[string]any{
		"name": "Foreign",
		"dataset_query": map[string]any{
			"type":     "query",
			"database": f.target,
			"query":    map[string]any{"source-table": 1},
		},
	})
	seed := f.server.Seed("dashboard", map[string]any{"name": "Foreign Seed"})
	f.server.Dashcards[seed] = []map[string]any{{"id": 3, "card_id": foreign, "size_x": 4, "size_y": 4}}
	dashboard := f.server.Seed("dashboard", map[string]any{"name": "Copy"})

	_, err := f.ic.CopyDashboard(ctx, seed, dashboard, Target{Database: f.target, Country: "de"})
	assert.ErrorIs(t, err, ErrForeignDatabase)
}

func TestRenameSeriesSettings(t *testing.T) {
	settings := map[string]any{
		"card.title":      "Title",
		"series_settings": map[string]any{"A": 1, "B": 2},
	}

	renamed := renameSeriesSettings(settings, map[string]string{"A": "A (FR)", "C": "C (FR)"})

	assert.Equal(t, map[string]any{"A (FR)": 1, "B": 2}, renamed["series_settings"])
	assert.Equal(t, "Title", renamed["card.title"])
	assert.Equal(t, map[string]any{"A": 1, "B": 2}, settings["series_settings"])
	assert.Nil(t, renameSeriesSettings(nil, nil))
}
