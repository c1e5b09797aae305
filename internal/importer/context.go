// Package importer copies seed dashboards, and the cards placed on them, to the collection and database of a country.
package importer

import (
	"log/slog"

	"github.com/flovouin/metabase-provisioner/internal/layout"
	"github.com/flovouin/metabase-provisioner/internal/mapping"
	"github.com/flovouin/metabase-provisioner/internal/registry"
	"github.com/flovouin/metabase-provisioner/metabase"
)

// A card copied from a seed dashboard.
type importedCard struct {
	SourceId   int    // The ID of the seed card.
	SourceName string // The name of the seed card.
	Id         int    // The ID of the copy.
	Name       string // The name of the copy.
}

// The database and collection seed dashboards are copied to.
type Target struct {
	Database   int    // The ID of the database the copied cards query.
	Collection int    // The ID of the collection the copied cards are saved in.
	Country    string // The country code appended to the names of copied cards. Names are kept unchanged if empty.
}

// Identifies a card copied to a target.
type cardKey struct {
	Card   int
	Target Target
}

// A context that can be created to copy one or several seed dashboards.
type ImportContext struct {
	api        metabase.API               // The client to use to perform calls to the API.
	registry   *registry.Registry         // The registry used to find seed dashboards by name.
	mapper     *mapping.Mapper            // The mapper translating seed cards to the target databases.
	creator    layout.CardCreator         // Creates the copied cards.
	logger     *slog.Logger               // The logger reporting progress.
	cards      map[cardKey]importedCard   // The cards copied so far.
	dashboards map[int]metabase.Dashboard // The seed dashboards fetched so far.
}

// Creates a new import context. Cards are fetched with the given client and copied using the creator.
func NewImportContext(api metabase.API, registry *registry.Registry, mapper *mapping.Mapper, creator layout.CardCreator, logger *slog.Logger) *ImportContext {
	if logger == nil {
		logger = slog.Default()
	}

	return &ImportContext{
		api:        api,
		registry:   registry,
		mapper:     mapper,
		creator:    creator,
		logger:     logger,
		cards:      make(map[cardKey]importedCard),
		dashboards: make(map[int]metabase.Dashboard),
	}
}
