package catalog

// The tables of the statistics databases.
const (
	AccountTable    = "account"
	AssessmentTable = "assessment"
	CompanyTable    = "company"
)

// The colours of the slices of pie charts for boolean answers.
var booleanPieColors = map[string]any{
	"null":  "#74838f",
	"true":  "#88BF4D",
	"false": "#F2A86F",
}

// Returns the metadata of a result column.
func resultColumn(name string, displayName string, baseType string, semanticType string) map[string]any {
	return map[string]any{
		"base_type":     baseType,
		"display_name":  displayName,
		"name":          name,
		"semantic_type": semanticType,
	}
}

// The metadata of the `count` column returned by most cards.
var countColumn = resultColumn("count", "Count", "type/BigInteger", "type/Quantity")

// Returns a pie chart of the number of companies per answer to a question of the questionnaire.
func questionnairePie(name string, column string, displayName string, baseType string, settings map[string]any) Card {
	return Card{
		Name:    name,
		Display: "pie",
		Definition: Query{
			SourceTable:  CompanyTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: column}},
		},
		VisualizationSettings: settings,
		ResultMetadata: []map[string]any{
			resultColumn(column, displayName, baseType, "type/Category"),
			countColumn,
		},
	}
}

// The cards of the users dashboard.
var accountCards = []Card{
	{
		Name:    "Accumulated Users per Type",
		Display: "pie",
		Definition: Query{
			SourceTable:  AccountTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "account_type"}},
		},
		VisualizationSettings: map[string]any{
			"pie.show_legend": true,
			"pie.colors": map[string]any{
				"full":      "#A989C5",
				"converted": "#98D9D9",
				"guest":     "#F9D45C",
			},
		},
	},
	{
		Name:    "New Users per Month",
		Display: "bar",
		Definition: Query{
			SourceTable:  AccountTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "creation_date", Unit: "month"}, {Name: "account_type"}},
		},
		VisualizationSettings: map[string]any{
			"graph.dimensions":     []any{"creation_date", "account_type"},
			"graph.metrics":        []any{"count"},
			"stackable.stack_type": "stacked",
		},
	},
	{
		Name:    "User Conversions per Month",
		Display: "bar",
		Definition: Query{
			SourceTable:  AccountTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "creation_date", Unit: "month"}},
			Filters:      []Filter{{Table: AccountTable, Column: "account_type", Value: "converted"}},
		},
		VisualizationSettings: map[string]any{
			"graph.dimensions": []any{"creation_date"},
			"graph.metrics":    []any{"count"},
		},
	},
	{
		Name:    "Accumulated Registered Users per Type",
		Display: "pie",
		Definition: Query{
			SourceTable:  AccountTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "account_type"}},
			Filters:      []Filter{{Table: AccountTable, Column: "account_type", Operator: "!=", Value: "guest"}},
		},
		VisualizationSettings: map[string]any{
			"pie.show_legend": true,
		},
	},
	{
		Name:    "Accumulated Number of Full Users Over Time",
		Display: "line",
		Definition: Query{
			SourceTable:  AccountTable,
			Aggregations: []Aggregation{{Operator: "cum-count"}},
			Breakout:     []Column{{Name: "creation_date", Unit: "month"}},
			Filters:      []Filter{{Table: AccountTable, Column: "account_type", Value: "full"}},
		},
	},
	{
		Name:    "Accumulated Number of Converted Users Over Time",
		Display: "line",
		Definition: Query{
			SourceTable:  AccountTable,
			Aggregations: []Aggregation{{Operator: "cum-count"}},
			Breakout:     []Column{{Name: "creation_date", Unit: "month"}},
			Filters:      []Filter{{Table: AccountTable, Column: "account_type", Value: "converted"}},
		},
	},
	{
		Name:    "Accumulated Number of Guest Users Over Time",
		Display: "line",
		Definition: Query{
			SourceTable:  AccountTable,
			Aggregations: []Aggregation{{Operator: "cum-count"}},
			Breakout:     []Column{{Name: "creation_date", Unit: "month"}},
			Filters:      []Filter{{Table: AccountTable, Column: "account_type", Value: "guest"}},
		},
	},
}

// The cards of the assessments dashboards, shared by countries, sectors and the global statistics.
var assessmentCards = []Card{
	{
		Name:    "Accumulated Assessments",
		Display: "scalar",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "count"}},
		},
	},
	{
		Name:    "New Assessments per Month",
		Display: "bar",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "start_date", Unit: "month"}},
		},
		VisualizationSettings: map[string]any{
			"graph.dimensions": []any{"start_date"},
			"graph.metrics":    []any{"count"},
		},
	},
	{
		Name:    "Completion of Assessments",
		Display: "bar",
		Definition: Native{
			SQL: `SELECT CASE
    WHEN completion_percentage < 25 THEN '0-25%'
    WHEN completion_percentage < 50 THEN '25-50%'
    WHEN completion_percentage < 75 THEN '50-75%'
    ELSE '75-100%'
  END AS "completion", count(*) AS "count"
FROM "public"."assessment"
{{.Where}}
GROUP BY "completion"
ORDER BY "completion" ASC`,
			Conditions: []string{"completion_percentage is not NULL"},
		},
		VisualizationSettings: map[string]any{
			"graph.dimensions": []any{"completion"},
			"graph.metrics":    []any{"count"},
		},
		ResultMetadata: []map[string]any{
			resultColumn("completion", "completion", "type/Text", "type/Category"),
			resultColumn("count", "count", "type/BigInteger", "type/Quantity"),
		},
	},
	{
		Name:    "Accumulated Assessments Over Time",
		Display: "line",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "cum-count"}},
			Breakout:     []Column{{Name: "start_date", Unit: "month"}},
		},
		VisualizationSettings: map[string]any{
			"graph.dimensions": []any{"start_date"},
			"graph.metrics":    []any{"count"},
		},
	},
	{
		Name:    "Top Ten Tools by Number of Assessments",
		Display: "row",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "tool_path"}},
			OrderByDesc:  true,
			Limit:        10,
		},
	},
	{
		Name:    "Tools by Accumulated Assessments",
		Display: "table",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "tool_path"}},
			OrderByDesc:  true,
		},
	},
	{
		Name:    "Tools by Assessment Completion",
		Display: "table",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "avg", Column: "completion_percentage"}},
			Breakout:     []Column{{Name: "tool_path"}},
			OrderByDesc:  true,
		},
	},
	{
		Name:    "Accumulated Assessments per Country",
		Display: "map",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "country"}},
		},
		VisualizationSettings: map[string]any{
			"map.type":   "region",
			"map.region": "world_countries",
		},
	},
	{
		Name:    "Top Assessments by Country",
		Display: "row",
		Width:   18,
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "count"}},
			Breakout:     []Column{{Name: "country"}},
			OrderByDesc:  true,
		},
	},
}

// The cards of the tools dashboard.
var toolCards = []Card{
	{
		Name:    "Top Tools by Number of Users",
		Display: "row",
		Definition: Query{
			SourceTable:  AssessmentTable,
			Aggregations: []Aggregation{{Operator: "distinct", Column: "account_id"}},
			Breakout:     []Column{{Name: "tool_path"}},
			OrderByDesc:  true,
			Limit:        10,
		},
	},
}

// The cards of the questionnaire dashboard.
var questionnaireCards = []Card{
	{
		Name:    "Number of Survey Responses",
		Display: "scalar",
		Definition: Native{
			SQL: `SELECT count(*) AS "count"
FROM "public"."company"
{{.Where}}`,
			Conditions: []string{
				"needs_met is not NULL or workers_participated is not NULL or referer is not NULL or employees is not NULL or conductor is not NULL or recommend_tool is not NULL",
			},
		},
		VisualizationSettings: map[string]any{"table.cell_column": "count"},
		ResultMetadata: []map[string]any{
			resultColumn("count", "count", "type/BigInteger", "type/Quantity"),
		},
	},
	questionnairePie("Number of Employees", "employees", "Employees", "type/Text", map[string]any{
		"pie.colors": map[string]any{
			"1-9":    "#98D9D9",
			"10-49":  "#509EE3",
			"50-249": "#A989C5",
			"250+":   "#7172AD",
			"null":   "#74838f",
		},
		"pie.slice_threshold":      0.1,
		"column_settings":          map[string]any{`["name","count"]`: map[string]any{"number_style": "decimal"}},
		"pie.show_legend":          true,
		"pie.show_legend_perecent": true,
	}),
	questionnairePie("Assessment conducted by", "conductor", "Conductor", "type/Text", map[string]any{
		"pie.colors": map[string]any{
			"both":        "#EF8C8C",
			"null":        "#74838f",
			"staff":       "#509EE3",
			"third-party": "#7172AD",
		},
		"pie.slice_threshold": 0,
		"pie.show_legend":     true,
	}),
	questionnairePie("Learned about OiRA", "referer", "Referer", "type/Text", map[string]any{
		"pie.colors": map[string]any{
			"employers-organisation":      "#88BF4D",
			"eu-institution":              "#F2A86F",
			"null":                        "#74838f",
			"other":                       "#509EE3",
			"health-safety-experts":       "#A989C5",
			"national-public-institution": "#EF8C8C",
		},
		"pie.slice_threshold": 0,
		"pie.show_legend":     true,
	}),
	questionnairePie("Workers were invited", "workers_participated", "Workers Participated", "type/Boolean", map[string]any{
		"pie.colors":          booleanPieColors,
		"pie.slice_threshold": 0,
		"pie.show_legend":     true,
	}),
	questionnairePie("Needs were met", "needs_met", "Needs Met", "type/Boolean", map[string]any{
		"pie.colors":          booleanPieColors,
		"pie.slice_threshold": 0,
		"pie.show_legend":     true,
	}),
	questionnairePie("Would recommend tool", "recommend_tool", "Recommend Tool", "type/Boolean", map[string]any{
		"pie.colors":          booleanPieColors,
		"pie.slice_threshold": 0,
		"pie.show_legend":     true,
	}),
}

// Creates the catalog of all the statistics cards.
func Default() *Catalog {
	cards := make([]Card, 0, len(accountCards)+len(assessmentCards)+len(toolCards)+len(questionnaireCards))
	cards = append(cards, accountCards...)
	cards = append(cards, assessmentCards...)
	cards = append(cards, toolCards...)
	cards = append(cards, questionnaireCards...)

	return New(cards...)
}
