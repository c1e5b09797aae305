package catalog

// A card overlaid with others on a combined dashboard card.
type Series struct {
	Token string // The token of the card.
	Title string // The title of the series in the legend.
	Color string // The colour of the series. Metabase picks one if empty.
}

// The settings of a dashboard card combining several cards.
type Combined struct {
	Title      string   // The title of the dashboard card.
	Dimensions []string // The dimensions shared by all the cards.
	Series     []Series // The cards to combine. The first one is the main card of the dashboard card.
}

// Returns the visualization settings of a combined dashboard card.
// The names are those of the cards created for each series, in the same order. The main card is always referred to by
// the name of its metric.
func (c Combined) VisualizationSettings(names []string) map[string]any {
	dimensions := make([]any, 0, len(c.Dimensions))
	for _, d := range c.Dimensions {
		dimensions = append(dimensions, d)
	}

	seriesSettings := make(map[string]any, len(c.Series))
	for i, s := range c.Series {
		settings := map[string]any{"title": s.Title}
		if len(s.Color) > 0 {
			settings["color"] = s.Color
		}

		key := "count"
		if i > 0 && i < len(names) {
			key = names[i]
		}
		seriesSettings[key] = settings
	}

	return map[string]any{
		"graph.dimensions": dimensions,
		"graph.metrics":    []any{"count"},
		"series_settings":  seriesSettings,
		"card.title":       c.Title,
	}
}

// A card placed on a dashboard.
type Entry struct {
	Token    string    // The token of the card.
	Width    int       // The width of the card on the dashboard, overriding the card width if set.
	Height   int       // The height of the card on the dashboard, overriding the card height if set.
	Combined *Combined // Set if the card is displayed together with other cards.
}

// Which statistics a dashboard entry is displayed for.
type Scope int

const (
	AllScopes Scope = iota
	CountryScope
	GlobalScope
)

// An entry restricted to some statistics.
type ScopedEntry struct {
	Entry
	Scope Scope
}

// A dashboard created for each country, or once for the global statistics.
type Dashboard struct {
	Name     string        // The base name of the dashboard, suffixed with the country code for country dashboards.
	Position int           // The position of the dashboard in its collection.
	Entries  []ScopedEntry // The cards placed on the dashboard, in order.
}

// Returns the entries displayed for the country or global statistics.
func (d Dashboard) EntriesFor(country bool) []Entry {
	entries := make([]Entry, 0, len(d.Entries))
	for _, e := range d.Entries {
		if e.Scope == AllScopes || (country && e.Scope == CountryScope) || (!country && e.Scope == GlobalScope) {
			entries = append(entries, e.Entry)
		}
	}
	return entries
}

func entries(tokens ...string) []ScopedEntry {
	result := make([]ScopedEntry, 0, len(tokens))
	for _, t := range tokens {
		result = append(result, ScopedEntry{Entry: Entry{Token: t}})
	}
	return result
}

// The dashboards created for each country, or for the global statistics.
var StatisticsDashboards = []Dashboard{
	{
		Name:     "Users Dashboard",
		Position: 1,
		Entries: append(
			entries(
				"accumulated_users_per_type",
				"new_users_per_month",
				"user_conversions_per_month",
				"accumulated_registered_users_per_type",
			),
			ScopedEntry{Entry: Entry{
				Token: "accumulated_number_of_full_users_over_time",
				Combined: &Combined{
					Title:      "Accumulated Number of Users Over Time",
					Dimensions: []string{"creation_date"},
					Series: []Series{
						{Token: "accumulated_number_of_full_users_over_time", Title: "full", Color: "#A989C5"},
						{Token: "accumulated_number_of_converted_users_over_time", Title: "converted", Color: "#98D9D9"},
						{Token: "accumulated_number_of_guest_users_over_time", Title: "guest", Color: "#F9D45C"},
					},
				},
			}},
		),
	},
	{
		Name:     "Assessments Dashboard",
		Position: 2,
		Entries: append(
			entries(
				"accumulated_assessments",
				"new_assessments_per_month",
				"completion_of_assessments",
				"accumulated_assessments_over_time",
				"top_ten_tools_by_number_of_assessments",
			),
			ScopedEntry{Entry: Entry{Token: "tools_by_accumulated_assessments"}, Scope: CountryScope},
			ScopedEntry{Entry: Entry{Token: "tools_by_assessment_completion"}, Scope: CountryScope},
			ScopedEntry{Entry: Entry{Token: "accumulated_assessments_per_country"}, Scope: GlobalScope},
		),
	},
	{
		Name:     "Tools Dashboard",
		Position: 3,
		Entries:  entries("top_tools_by_number_of_users"),
	},
	{
		Name:     "Questionnaire Dashboard",
		Position: 4,
		Entries: entries(
			"number_of_survey_responses",
			"number_of_employees",
			"assessment_conducted_by",
			"learned_about_oira",
			"workers_were_invited",
			"needs_were_met",
			"would_recommend_tool",
		),
	},
}

// The cards of the dashboard created for each sector.
var SectorTokens = []string{
	"accumulated_assessments",
	"new_assessments_per_month",
	"completion_of_assessments",
	"accumulated_assessments_over_time",
	"top_ten_tools_by_number_of_assessments",
}

// A dashboard card of the sectors overview, combining the same card for all sectors.
type SectorOverviewEntry struct {
	Token      string   // The token of the card combined for all sectors.
	Title      string   // The base title of the dashboard card.
	Dimensions []string // The dimensions of the card.
}

// The cards of the sectors overview dashboard.
var SectorOverviewEntries = []SectorOverviewEntry{
	{Token: "accumulated_assessments_over_time", Title: "Accumulated Assessments Over Time", Dimensions: []string{"start_date"}},
	{Token: "completion_of_assessments", Title: "Completion of Assessments", Dimensions: []string{"completion", "count"}},
}

// The colour of the first sector on combined sector cards.
const SectorColor = "#A989C5"

// The card of the countries overview dashboard.
const CountriesOverviewToken = "top_assessments_by_country"
