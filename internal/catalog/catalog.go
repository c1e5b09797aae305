// Package catalog defines the cards displayed on the statistics dashboards.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/gosimple/slug"

	"github.com/flovouin/metabase-provisioner/internal/mapping"
	"github.com/flovouin/metabase-provisioner/metabase"
)

// Returned when no card is registered under a token.
var ErrUnknownCard = errors.New("unknown card")

// A card definition, independent of the database and collection it is created in.
type Card struct {
	Name                  string           // The name of the card.
	Display               string           // The type of visualization, e.g. `pie`, `line`, `scalar`.
	Width                 int              // The width of the card on dashboards. The default width is used if zero.
	Height                int              // The height of the card on dashboards. The default height is used if zero.
	Definition            Definition       // The query of the card.
	VisualizationSettings map[string]any   // The visualization settings of the card.
	ResultMetadata        []map[string]any // The description of the columns returned by the query.
}

// Returns the card restricted to rows matching the filter.
func (c Card) WithFilter(f Filter) Card {
	c.Definition = c.Definition.WithFilter(f)
	return c
}

// Returns the body used to create the card in Metabase, with its query resolved against the schema of the database.
func (c Card) Payload(database int, collection int, schema mapping.Schema) (map[string]any, error) {
	datasetQuery, err := c.Definition.DatasetQuery(database, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve the query of card '%s': %w", c.Name, err)
	}

	visualizationSettings := make(map[string]any, len(c.VisualizationSettings))
	maps.Copy(visualizationSettings, c.VisualizationSettings)

	payload := map[string]any{
		"name":                                  c.Name,
		"display":                               c.Display,
		"query_type":                            c.Definition.QueryType(),
		metabase.DatabaseIdAttribute:            database,
		metabase.DatasetQueryAttribute:          datasetQuery,
		metabase.VisualizationSettingsAttribute: visualizationSettings,
	}

	if collection != 0 {
		payload[metabase.CollectionIdAttribute] = collection
	}

	if len(c.ResultMetadata) > 0 {
		payload["result_metadata"] = c.ResultMetadata
	}

	return payload, nil
}

// The database and collection a card is created for.
type Context struct {
	Database   int            // The ID of the database the card queries.
	Collection int            // The ID of the collection the card is saved in.
	Country    string         // The country code, if the card is specific to a country.
	Filter     *Filter        // An additional filter restricting the rows of the card, if any.
	Schema     mapping.Schema // The schema of the database, used to resolve table and field names.
}

// A transformation applied to a card after it is retrieved from the catalog.
type Decorator func(c Card, ctx Context) Card

// Renames the card.
func Rename(rename func(name string) string) Decorator {
	return func(c Card, ctx Context) Card {
		c.Name = rename(c.Name)
		return c
	}
}

// Suffixes the name of the card with the upper-cased country code, if the context has one.
func CountrySuffix() Decorator {
	return func(c Card, ctx Context) Card {
		if len(ctx.Country) == 0 {
			return c
		}

		c.Name = fmt.Sprintf("%s (%s)", c.Name, strings.ToUpper(ctx.Country))
		return c
	}
}

// Restricts the card to the assessments of a sector, and suffixes its name with the sector.
func SectorScope(sector string) Decorator {
	return func(c Card, ctx Context) Card {
		c = c.WithFilter(Filter{Table: AssessmentTable, Column: "sector", Value: sector})
		c.Name = fmt.Sprintf("%s (%s)", c.Name, sector)
		return c
	}
}

// Returns the token identifying a card in the catalog, derived from its name.
func Token(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

// A set of cards, indexed by token.
type Catalog struct {
	cards  map[string]Card
	tokens []string
}

// Creates a catalog from the given cards.
// Cards are indexed by a token derived from their name. Cards with the same token are suffixed with a number.
func New(cards ...Card) *Catalog {
	c := &Catalog{
		cards: make(map[string]Card, len(cards)),
	}

	for _, card := range cards {
		base := Token(card.Name)
		token := base
		for i := 1; ; i++ {
			if _, exists := c.cards[token]; !exists {
				break
			}
			token = fmt.Sprintf("%s_%03d", base, i)
		}

		c.cards[token] = card
		c.tokens = append(c.tokens, token)
	}

	return c
}

// Returns the tokens of all cards, in the order they were registered.
func (c *Catalog) Tokens() []string {
	return append([]string(nil), c.tokens...)
}

// Returns the card registered under the token, with the context filter and the decorators applied in order.
func (c *Catalog) Get(token string, ctx Context, decorators ...Decorator) (Card, error) {
	card, ok := c.cards[token]
	if !ok {
		return Card{}, fmt.Errorf("%w: %s", ErrUnknownCard, token)
	}

	if ctx.Filter != nil {
		card = card.WithFilter(*ctx.Filter)
	}

	for _, d := range decorators {
		card = d(card, ctx)
	}

	return card, nil
}

// Returns the card registered under the token, as the body used to create it in the context database and collection.
func (c *Catalog) Payload(token string, ctx Context, decorators ...Decorator) (Card, map[string]any, error) {
	card, err := c.Get(token, ctx, decorators...)
	if err != nil {
		return Card{}, nil, err
	}

	payload, err := card.Payload(ctx.Database, ctx.Collection, ctx.Schema)
	if err != nil {
		return Card{}, nil, err
	}

	return card, payload, nil
}
