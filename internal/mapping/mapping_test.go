package mapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovouin/metabase-provisioner/internal/metabasetest"
	"github.com/flovouin/metabase-provisioner/metabase"
)

func TestBuildMappingMatchesByName(t *testing.T) {
	base := Schema{"account": {Id: 43, Fields: map[string]int{"account_type": 1}}}
	target := Schema{
		"account": {Id: 143, Fields: map[string]int{"account_type": 901, "creation_date": 902}},
		"company": {Id: 144, Fields: map[string]int{"employees": 903}},
	}

	mapping, err := BuildMapping(base, target)
	require.NoError(t, err)

	assert.Equal(t, map[int]int{43: 143}, mapping.Tables)
	assert.Equal(t, map[int]int{1: 901}, mapping.Fields)
}

func TestBuildMappingFailsOnMissingNames(t *testing.T) {
	base := Schema{"account": {Id: 43, Fields: map[string]int{"account_type": 1}}}

	_, err := BuildMapping(base, Schema{"company": {Id: 1}})
	assert.ErrorIs(t, err, ErrUnmappedTable)

	_, err = BuildMapping(base, Schema{"account": {Id: 2, Fields: map[string]int{"id": 3}}})
	assert.ErrorIs(t, err, ErrUnmappedField)
	assert.ErrorContains(t, err, "account.account_type")
}

func TestSchemaLookups(t *testing.T) {
	schema := SchemaFromDatabase(&metabase.Database{
		Tables: []metabase.Table{
			{Id: 5, Name: "assessment", Fields: []metabase.Field{{Id: 50, Name: "completion_percentage"}}},
		},
	})

	id, err := schema.TableId("assessment")
	require.NoError(t, err)
	assert.Equal(t, 5, id)

	id, err = schema.FieldId("assessment", "completion_percentage")
	require.NoError(t, err)
	assert.Equal(t, 50, id)

	_, err = schema.FieldId("assessment", "country")
	assert.ErrorIs(t, err, ErrUnmappedField)
}

func newTestMapper(t *testing.T) (*Mapper, *metabasetest.Server, int, int) {
	t.Helper()

	server := metabasetest.NewServer(t)
	server.SchemaTemplate = []metabasetest.TableTemplate{
		{Name: "account", Fields: []string{"id", "account_type", "creation_date"}},
		{Name: "assessment", Fields: []string{"id", "start_date", "completion_percentage"}},
	}
	baseline := server.Seed("database", map[string]any{"name": "statistics_global"})
	target := server.Seed("database", map[string]any{"name": "statistics_de"})

	client, err := metabase.NewClient(server.URL)
	require.NoError(t, err)

	return NewMapper(client, baseline, nil), server, baseline, target
}

func TestMapperMapsAndMemoizes(t *testing.T) {
	ctx := context.Background()
	m, server, baseline, target := newTestMapper(t)

	mapping, err := m.Map(ctx, target)
	require.NoError(t, err)
	assert.Len(t, mapping.Tables, 2)
	assert.Len(t, mapping.Fields, 6)

	baseTables := server.Tables(baseline)
	targetTables := server.Tables(target)
	for i := range baseTables {
		assert.Equal(t, targetTables[i].Id, mapping.Tables[baseTables[i].Id])
		for j := range baseTables[i].Fields {
			assert.Equal(t, targetTables[i].Fields[j].Id, mapping.Fields[baseTables[i].Fields[j].Id])
		}
	}

	_, err = m.Map(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 2, server.CountRequests("GET", "/api/database/"), "schemas are fetched once")

	m.Invalidate(target)
	_, err = m.Map(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 3, server.CountRequests("GET", "/api/database/"), "only the invalidated schema is fetched again")
}

func TestMapperTranslateCard(t *testing.T) {
	ctx := context.Background()
	m, server, baseline, target := newTestMapper(t)

	baseAccount := server.Tables(baseline)[0]
	targetAccount := server.Tables(target)[0]

	card := map[string]any{
		"name":        "Accumulated Users per Type",
		"database_id": baseline,
		"dataset_query": map[string]any{
			"database": baseline,
			"type":     "query",
			"query": map[string]any{
				"source-table": baseAccount.Id,
				"aggregation":  []any{[]any{"count"}},
				"breakout":     []any{[]any{"field-id", baseAccount.Fields[1].Id}},
			},
		},
	}

	translated, err := m.TranslateCard(ctx, card, target)
	require.NoError(t, err)

	assert.Equal(t, target, translated["database_id"])
	query := translated["dataset_query"].(map[string]any)
	assert.Equal(t, target, query["database"])
	assert.Equal(t, targetAccount.Id, query["query"].(map[string]any)["source-table"])
	assert.Equal(t, []any{[]any{"field-id", targetAccount.Fields[1].Id}}, query["query"].(map[string]any)["breakout"])

	// The source card is left untouched.
	assert.Equal(t, baseAccount.Id, card["dataset_query"].(map[string]any)["query"].(map[string]any)["source-table"])
}

func TestMapperTranslateCardToBaselineOnlySetsDatabase(t *testing.T) {
	m, server, baseline, _ := newTestMapper(t)

	card := map[string]any{
		"dataset_query": map[string]any{"database": 1, "query": map[string]any{"source-table": 12345}},
	}

	translated, err := m.TranslateCard(context.Background(), card, baseline)
	require.NoError(t, err)
	assert.Equal(t, baseline, translated["database_id"])
	assert.Equal(t, 0, server.CountRequests("GET", "/api/database/"))
}

func TestMapperFailsOnSchemaMismatch(t *testing.T) {
	m, server, _, _ := newTestMapper(t)

	server.SchemaTemplate = []metabasetest.TableTemplate{
		{Name: "assessment", Fields: []string{"id", "start_date", "completion_percentage"}},
	}
	other := server.Seed("database", map[string]any{"name": "statistics_fr"})

	_, err := m.Map(context.Background(), other)
	assert.ErrorIs(t, err, ErrUnmappedTable)
}
