package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flovouin/metabase-provisioner/internal/mapping"
)

// Returns a schema containing all the tables and fields of the statistics databases.
func statisticsSchema() mapping.Schema {
	return mapping.Schema{
		AccountTable: {Id: 1, Fields: map[string]int{
			"id":            10,
			"account_type":  11,
			"creation_date": 12,
		}},
		AssessmentTable: {Id: 2, Fields: map[string]int{
			"id":                    20,
			"tool_path":             21,
			"country":               22,
			"sector":                23,
			"start_date":            24,
			"completion_percentage": 25,
			"account_id":            26,
		}},
		CompanyTable: {Id: 3, Fields: map[string]int{
			"id":                   30,
			"employees":            31,
			"conductor":            32,
			"referer":              33,
			"workers_participated": 34,
			"needs_met":            35,
			"recommend_tool":       36,
		}},
	}
}

func TestToken(t *testing.T) {
	assert.Equal(t, "accumulated_users_per_type", Token("Accumulated Users per Type"))
	assert.Equal(t, "learned_about_oira", Token("Learned about OiRA"))
}

func TestNewDeduplicatesTokens(t *testing.T) {
	c := New(Card{Name: "Same"}, Card{Name: "same"}, Card{Name: "Other"}, Card{Name: "SAME"})

	assert.Equal(t, []string{"same", "same_001", "other", "same_002"}, c.Tokens())
}

func TestGetUnknownCard(t *testing.T) {
	_, err := Default().Get("not_a_card", Context{})
	assert.ErrorIs(t, err, ErrUnknownCard)
}

func TestCountrySuffix(t *testing.T) {
	c := Default()

	card, err := c.Get("accumulated_assessments", Context{Country: "de"}, CountrySuffix())
	require.NoError(t, err)
	assert.Equal(t, "Accumulated Assessments (DE)", card.Name)

	card, err = c.Get("accumulated_assessments", Context{}, CountrySuffix())
	require.NoError(t, err)
	assert.Equal(t, "Accumulated Assessments", card.Name)
}

func TestDecoratorsApplyInOrder(t *testing.T) {
	card, err := Default().Get("accumulated_assessments", Context{Country: "fr"},
		Rename(func(name string) string { return "Total " + name }),
		CountrySuffix(),
	)
	require.NoError(t, err)
	assert.Equal(t, "Total Accumulated Assessments (FR)", card.Name)
}

func TestQueryPayload(t *testing.T) {
	schema := statisticsSchema()

	_, payload, err := Default().Payload("user_conversions_per_month", Context{Database: 7, Collection: 8, Schema: schema})
	require.NoError(t, err)

	assert.Equal(t, "User Conversions per Month", payload["name"])
	assert.Equal(t, "bar", payload["display"])
	assert.Equal(t, 7, payload["database_id"])
	assert.Equal(t, 8, payload["collection_id"])
	assert.Equal(t, map[string]any{
		"type":     "query",
		"database": 7,
		"query": map[string]any{
			"source-table": 1,
			"aggregation":  []any{[]any{"count"}},
			"breakout":     []any{[]any{"datetime-field", []any{"field-id", 12}, "month"}},
			"filter":       []any{"=", []any{"field-id", 11}, "converted"},
		},
	}, payload["dataset_query"])
}

func TestPayloadWithoutCollection(t *testing.T) {
	_, payload, err := Default().Payload("accumulated_assessments", Context{Database: 7, Schema: statisticsSchema()})
	require.NoError(t, err)

	assert.NotContains(t, payload, "collection_id")
	assert.NotContains(t, payload, "result_metadata")
}

func TestSectorScopeAddsFilter(t *testing.T) {
	ctx := Context{Database: 7, Schema: statisticsSchema()}

	card, payload, err := Default().Payload("accumulated_assessments_over_time", ctx, SectorScope("Construction"))
	require.NoError(t, err)

	assert.Equal(t, "Accumulated Assessments Over Time (Construction)", card.Name)
	query := payload["dataset_query"].(map[string]any)["query"].(map[string]any)
	assert.Equal(t, []any{"=", []any{"field-id", 23}, "Construction"}, query["filter"])
}

func TestSeveralFiltersAreCombined(t *testing.T) {
	ctx := Context{
		Database: 7,
		Schema:   statisticsSchema(),
		Filter:   &Filter{Table: AccountTable, Column: "creation_date", Operator: ">", Value: "2020-01-01"},
	}

	_, payload, err := Default().Payload("accumulated_number_of_guest_users_over_time", ctx)
	require.NoError(t, err)

	query := payload["dataset_query"].(map[string]any)["query"].(map[string]any)
	assert.Equal(t, []any{
		"and",
		[]any{"=", []any{"field-id", 11}, "guest"},
		[]any{">", []any{"field-id", 12}, "2020-01-01"},
	}, query["filter"])
}

func TestWithFilterDoesNotModifyCatalog(t *testing.T) {
	c := Default()
	ctx := Context{Database: 7, Schema: statisticsSchema()}

	_, _, err := c.Payload("user_conversions_per_month", ctx, SectorScope("Retail"))
	require.NoError(t, err)

	card, err := c.Get("user_conversions_per_month", Context{})
	require.NoError(t, err)
	assert.Len(t, card.Definition.(Query).Filters, 1)
}

func TestOrderByAndLimit(t *testing.T) {
	_, payload, err := Default().Payload("top_ten_tools_by_number_of_assessments", Context{Database: 7, Schema: statisticsSchema()})
	require.NoError(t, err)

	query := payload["dataset_query"].(map[string]any)["query"].(map[string]any)
	assert.Equal(t, []any{[]any{"desc", []any{"aggregation", 0}}}, query["order-by"])
	assert.Equal(t, 10, query["limit"])
	assert.Equal(t, []any{[]any{"field-id", 21}}, query["breakout"])
}

func TestAggregationOnColumn(t *testing.T) {
	_, payload, err := Default().Payload("tools_by_assessment_completion", Context{Database: 7, Schema: statisticsSchema()})
	require.NoError(t, err)

	query := payload["dataset_query"].(map[string]any)["query"].(map[string]any)
	assert.Equal(t, []any{[]any{"avg", []any{"field-id", 25}}}, query["aggregation"])
}

func TestNativeRender(t *testing.T) {
	n := Native{
		SQL:        "SELECT count(*) FROM \"public\".\"assessment\"\n{{.Where}}",
		Conditions: []string{"completion_percentage is not NULL"},
	}

	sql, err := n.Render()
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(*) FROM \"public\".\"assessment\"\nWHERE (completion_percentage is not NULL)", sql)

	filtered := n.WithFilter(Filter{Column: "sector", Value: "Men's Clothing"}).(Native)
	sql, err = filtered.Render()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT count(*) FROM \"public\".\"assessment\"\nWHERE (completion_percentage is not NULL) AND \"sector\" = 'Men''s Clothing'",
		sql,
	)

	assert.Empty(t, n.Filters)
}

func TestNativeRenderWithoutConditions(t *testing.T) {
	sql, err := Native{SQL: "SELECT 1\n{{.Where}}"}.Render()
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
}

func TestNativePayload(t *testing.T) {
	_, payload, err := Default().Payload("completion_of_assessments", Context{Database: 7, Schema: mapping.Schema{}})
	require.NoError(t, err)

	assert.Equal(t, "native", payload["query_type"])
	datasetQuery := payload["dataset_query"].(map[string]any)
	assert.Equal(t, 7, datasetQuery["database"])
	native := datasetQuery["native"].(map[string]any)
	assert.Contains(t, native["query"], "WHERE (completion_percentage is not NULL)")
	assert.NotEmpty(t, payload["result_metadata"])
}

func TestPayloadFailsOnMissingField(t *testing.T) {
	schema := mapping.Schema{AccountTable: {Id: 1, Fields: map[string]int{"account_type": 11}}}

	_, _, err := Default().Payload("new_users_per_month", Context{Database: 7, Schema: schema})
	assert.ErrorIs(t, err, mapping.ErrUnmappedField)

	_, _, err = Default().Payload("accumulated_assessments", Context{Database: 7, Schema: schema})
	assert.ErrorIs(t, err, mapping.ErrUnmappedTable)
}

func TestAllCardsResolve(t *testing.T) {
	c := Default()
	schema := statisticsSchema()

	for _, token := range c.Tokens() {
		_, _, err := c.Payload(token, Context{Database: 7, Schema: schema}, SectorScope("Retail"))
		assert.NoError(t, err, token)
	}
}

func TestDashboardTokensExist(t *testing.T) {
	c := Default()
	exists := func(token string) {
		_, err := c.Get(token, Context{})
		assert.NoError(t, err, token)
	}

	for _, d := range StatisticsDashboards {
		for _, e := range d.Entries {
			exists(e.Token)
			if e.Combined != nil {
				for _, s := range e.Combined.Series {
					exists(s.Token)
				}
			}
		}
	}
	for _, token := range SectorTokens {
		exists(token)
	}
	for _, e := range SectorOverviewEntries {
		exists(e.Token)
	}
	exists(CountriesOverviewToken)
}

func TestEntriesFor(t *testing.T) {
	var assessments Dashboard
	for _, d := range StatisticsDashboards {
		if d.Name == "Assessments Dashboard" {
			assessments = d
		}
	}

	tokens := func(entries []Entry) []string {
		result := []string{}
		for _, e := range entries {
			result = append(result, e.Token)
		}
		return result
	}

	assert.Contains(t, tokens(assessments.EntriesFor(true)), "tools_by_accumulated_assessments")
	assert.NotContains(t, tokens(assessments.EntriesFor(true)), "accumulated_assessments_per_country")
	assert.Contains(t, tokens(assessments.EntriesFor(false)), "accumulated_assessments_per_country")
	assert.NotContains(t, tokens(assessments.EntriesFor(false)), "tools_by_accumulated_assessments")
	assert.Len(t, assessments.EntriesFor(true), 7)
}

func TestCombinedVisualizationSettings(t *testing.T) {
	c := Combined{
		Title:      "Users",
		Dimensions: []string{"creation_date"},
		Series: []Series{
			{Token: "a", Title: "full", Color: "#A989C5"},
			{Token: "b", Title: "guest"},
		},
	}

	settings := c.VisualizationSettings([]string{"Full (DE)", "Guest (DE)"})

	assert.Equal(t, map[string]any{
		"graph.dimensions": []any{"creation_date"},
		"graph.metrics":    []any{"count"},
		"card.title":       "Users",
		"series_settings": map[string]any{
			"count":      map[string]any{"title": "full", "color": "#A989C5"},
			"Guest (DE)": map[string]any{"title": "guest"},
		},
	}, settings)
}
