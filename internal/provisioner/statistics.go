package provisioner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flovouin/metabase-provisioner/internal/catalog"
	"github.com/flovouin/metabase-provisioner/internal/importer"
	"github.com/flovouin/metabase-provisioner/internal/layout"
	"github.com/flovouin/metabase-provisioner/internal/mapping"
	"github.com/flovouin/metabase-provisioner/internal/registry"
	"github.com/flovouin/metabase-provisioner/metabase"
)

// Names and colours of the provisioned collections and dashboards.
const (
	globalCollectionName        = "-Global-"
	globalCollectionColor       = "#0000FF"
	countryCollectionColor      = "#00FF00"
	sectorCollectionColor       = "#509EE3"
	sectorsOverviewName         = "Sectors Overview Dashboard"
	sectorsOverviewPosition     = 5
	countriesOverviewName       = "Countries Overview Dashboard"
	countriesOverviewPosition   = 6
	sectorOverviewWidth         = 16
	sectorOverviewHeight        = 8
	firstSeedDashboardPosition  = 5
	sectorDashboardPosition     = 1
	sectorCollectionNamePattern = "Sector: %s"
	sectorDashboardNamePattern  = "Assessments (%s)"
)

// Adds a statistics database to Metabase, or updates its connection details, and synchronises its schema.
// The schema of the database is then used to resolve the queries of the catalog cards.
func (p *Provisioner) setUpDatabase(ctx context.Context, code string) (int, error) {
	name := p.config.Warehouse.Name(code)

	id, err := p.reconciler.CreateOrReuse(ctx, registry.Database, name, p.config.Warehouse.Attributes(name), true)
	if err != nil {
		return 0, err
	}

	if err := p.waiter.Sync(ctx, id, name); err != nil {
		return 0, err
	}

	database, err := metabase.GetDatabaseMetadata(ctx, p.api, id)
	if err != nil {
		return 0, err
	}

	p.databases[name] = id
	p.schemas[id] = mapping.SchemaFromDatabase(database)

	return id, nil
}

// Creates a collection, or updates its colour if it exists.
func (p *Provisioner) setUpCollection(ctx context.Context, name string, color string) (int, error) {
	return p.reconciler.CreateOrReuse(ctx, registry.Collection, name, map[string]any{
		"color": color,
	}, true)
}

// Creates a dashboard from scratch, deleting any existing dashboard with the same name and its cards.
func (p *Provisioner) createDashboard(ctx context.Context, name string, collection int, position int) (int, error) {
	id, err := p.reconciler.CreateOrReuse(ctx, registry.Dashboard, name, map[string]any{
		"collection_id":       collection,
		"collection_position": position,
	}, false)
	if err != nil {
		return 0, err
	}

	p.dashboards[name] = id

	return id, nil
}

// Returns the layout item of a catalog card.
func (p *Provisioner) catalogItem(token string, cctx catalog.Context, decorators ...catalog.Decorator) (layout.Item, error) {
	card, payload, err := p.catalog.Payload(token, cctx, decorators...)
	if err != nil {
		return layout.Item{}, err
	}

	return layout.Item{
		Name:   card.Name,
		Card:   payload,
		Width:  card.Width,
		Height: card.Height,
	}, nil
}

// Returns the layout item displaying several catalog cards together. The cards of the additional series are created
// immediately, as their IDs are needed to place the combined item.
func (p *Provisioner) combinedItem(ctx context.Context, combined catalog.Combined, cctx catalog.Context, decorators ...catalog.Decorator) (layout.Item, error) {
	if len(combined.Series) == 0 {
		return layout.Item{}, fmt.Errorf("combined card '%s' has no series", combined.Title)
	}

	main, err := p.catalogItem(combined.Series[0].Token, cctx, decorators...)
	if err != nil {
		return layout.Item{}, err
	}

	names := []string{main.Name}
	for _, s := range combined.Series[1:] {
		series, err := p.catalogItem(s.Token, cctx, decorators...)
		if err != nil {
			return layout.Item{}, err
		}

		id, err := p.CreateCard(ctx, series.Name, series.Card)
		if err != nil {
			return layout.Item{}, err
		}

		main.Series = append(main.Series, id)
		names = append(names, series.Name)
	}

	main.VisualizationSettings = combined.VisualizationSettings(names)

	return main, nil
}

// Returns the layout items of dashboard entries.
func (p *Provisioner) entryItems(ctx context.Context, entries []catalog.Entry, cctx catalog.Context, decorators ...catalog.Decorator) ([]layout.Item, error) {
	items := make([]layout.Item, 0, len(entries))
	for _, e := range entries {
		var item layout.Item
		var err error
		if e.Combined != nil {
			item, err = p.combinedItem(ctx, *e.Combined, cctx, decorators...)
		} else {
			item, err = p.catalogItem(e.Token, cctx, decorators...)
		}
		if err != nil {
			return nil, err
		}

		if e.Width > 0 {
			item.Width = e.Width
		}
		if e.Height > 0 {
			item.Height = e.Height
		}

		items = append(items, item)
	}
	return items, nil
}

// Creates a dashboard and places the given entries on it.
func (p *Provisioner) setUpDashboard(ctx context.Context, name string, position int, entries []catalog.Entry, cctx catalog.Context, decorators ...catalog.Decorator) (int, error) {
	id, err := p.createDashboard(ctx, name, cctx.Collection, position)
	if err != nil {
		return 0, err
	}

	items, err := p.entryItems(ctx, entries, cctx, decorators...)
	if err != nil {
		return 0, err
	}

	if _, err := p.packer.Populate(ctx, p.api, p, id, items); err != nil {
		return 0, err
	}

	return id, nil
}

// Creates the statistics dashboards of a country, or the global dashboards if the country code is empty.
func (p *Provisioner) setUpStatisticsDashboards(ctx context.Context, database int, collection int, code string) error {
	cctx := catalog.Context{
		Database:   database,
		Collection: collection,
		Country:    code,
		Schema:     p.schemas[database],
	}

	for _, d := range catalog.StatisticsDashboards {
		name := d.Name
		if len(code) > 0 {
			name = fmt.Sprintf("%s (%s)", d.Name, strings.ToUpper(code))
		}

		if _, err := p.setUpDashboard(ctx, name, d.Position, d.EntriesFor(len(code) > 0), cctx, catalog.CountrySuffix()); err != nil {
			return err
		}
	}

	return nil
}

// Sets up the database, collection and dashboards of the global statistics.
func (p *Provisioner) setUpGlobalStatistics(ctx context.Context) (country, error) {
	p.logger.InfoContext(ctx, "Setting up global statistics")

	database, err := p.setUpDatabase(ctx, "")
	if err != nil {
		return country{}, err
	}

	collection, err := p.setUpCollection(ctx, globalCollectionName, globalCollectionColor)
	if err != nil {
		return country{}, err
	}

	if err := p.setUpStatisticsDashboards(ctx, database, collection, ""); err != nil {
		return country{}, err
	}

	return country{Database: database, Collection: collection}, nil
}

// Sets up the group of a country and, unless statistics are global, its database, collection and dashboards.
func (p *Provisioner) setUpCountry(ctx context.Context, code string) (country, error) {
	upper := strings.ToUpper(code)
	p.logger.InfoContext(ctx, fmt.Sprintf("Setting up country %s", upper))

	group, err := p.reconciler.CreateOrReuse(ctx, registry.Group, upper, nil, true)
	if err != nil {
		return country{}, err
	}

	c := country{Code: code, Group: group}
	if p.config.Global {
		return c, nil
	}

	c.Database, err = p.setUpDatabase(ctx, code)
	if err != nil {
		return country{}, err
	}

	c.Collection, err = p.setUpCollection(ctx, upper, countryCollectionColor)
	if err != nil {
		return country{}, err
	}

	if err := p.setUpStatisticsDashboards(ctx, c.Database, c.Collection, code); err != nil {
		return country{}, err
	}

	if err := p.copySeedDashboards(ctx, c); err != nil {
		return country{}, err
	}

	return c, nil
}

// Returns the ID of the database seed dashboards query.
func (p *Provisioner) baselineDatabase(ctx context.Context) (int, error) {
	name := p.config.BaselineName()
	if id, ok := p.databases[name]; ok {
		return id, nil
	}

	id, ok, err := p.registry.Find(ctx, registry.Database, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBaseline, name)
	}

	return id, nil
}

// Returns the import context copying seed dashboards, creating it on first use.
func (p *Provisioner) seedImporter(ctx context.Context) (*importer.ImportContext, error) {
	if p.imports != nil {
		return p.imports, nil
	}

	baseline, err := p.baselineDatabase(ctx)
	if err != nil {
		return nil, err
	}

	mapper := mapping.NewMapper(p.api, baseline, p.logger)
	p.imports = importer.NewImportContext(p.api, p.registry, mapper, seedCardCreator{p}, p.logger)

	return p.imports, nil
}

// Copies the seed dashboards to the collection of a country, with their cards querying the country database.
// A seed copy named like a statistics dashboard of the country is merged into it, below the statistics cards.
func (p *Provisioner) copySeedDashboards(ctx context.Context, c country) error {
	if len(p.config.Seeds) == 0 {
		return nil
	}

	ic, err := p.seedImporter(ctx)
	if err != nil {
		return err
	}

	target := importer.Target{Database: c.Database, Collection: c.Collection, Country: c.Code}

	for i, seed := range p.config.Seeds {
		seedId, err := ic.FindSeedDashboard(ctx, seed)
		if err != nil {
			return err
		}

		name := fmt.Sprintf("%s (%s)", seed, strings.ToUpper(c.Code))
		id, ok := p.dashboards[name]
		if !ok {
			id, err = p.createDashboard(ctx, name, c.Collection, firstSeedDashboardPosition+i)
			if err != nil {
				return err
			}
		}

		count, err := ic.CopyDashboard(ctx, seedId, id, target)
		if err != nil {
			return fmt.Errorf("failed to copy dashboard '%s': %w", seed, err)
		}

		p.logger.InfoContext(ctx, fmt.Sprintf("Copied dashboard '%s'", seed), slog.Int("dashboard", id), slog.Int("cards", count))
	}

	return nil
}

// Creates the dashboard comparing countries, in the global collection.
func (p *Provisioner) setUpCountriesOverview(ctx context.Context, global country) error {
	p.logger.InfoContext(ctx, "Setting up countries overview")

	_, err := p.setUpDashboard(ctx, countriesOverviewName, countriesOverviewPosition,
		[]catalog.Entry{{Token: catalog.CountriesOverviewToken}},
		catalog.Context{
			Database:   global.Database,
			Collection: global.Collection,
			Schema:     p.schemas[global.Database],
		})
	return err
}

// Creates the collection and dashboard of each sector, and the dashboard comparing them. Returns the IDs of the
// sector collections.
func (p *Provisioner) setUpSectors(ctx context.Context, global country) ([]int, error) {
	collections := make([]int, 0, len(p.config.Sectors))

	entries := make([]catalog.Entry, 0, len(catalog.SectorTokens))
	for _, token := range catalog.SectorTokens {
		entries = append(entries, catalog.Entry{Token: token})
	}

	for _, sector := range p.config.Sectors {
		p.logger.InfoContext(ctx, fmt.Sprintf("Setting up sector %s", sector))

		collection, err := p.setUpCollection(ctx, fmt.Sprintf(sectorCollectionNamePattern, sector), sectorCollectionColor)
		if err != nil {
			return nil, err
		}
		collections = append(collections, collection)

		cctx := catalog.Context{
			Database:   global.Database,
			Collection: collection,
			Schema:     p.schemas[global.Database],
		}

		name := fmt.Sprintf(sectorDashboardNamePattern, sector)
		if _, err := p.setUpDashboard(ctx, name, sectorDashboardPosition, entries, cctx, catalog.SectorScope(sector)); err != nil {
			return nil, err
		}
	}

	if len(p.config.Sectors) == 0 {
		return collections, nil
	}

	if err := p.setUpSectorsOverview(ctx, global, collections); err != nil {
		return nil, err
	}

	return collections, nil
}

// Creates the dashboard displaying the same cards for all sectors together.
func (p *Provisioner) setUpSectorsOverview(ctx context.Context, global country, sectorCollections []int) error {
	p.logger.InfoContext(ctx, "Setting up sectors overview")

	id, err := p.createDashboard(ctx, sectorsOverviewName, global.Collection, sectorsOverviewPosition)
	if err != nil {
		return err
	}

	items := make([]layout.Item, 0, len(catalog.SectorOverviewEntries))
	for _, e := range catalog.SectorOverviewEntries {
		combined := catalog.Combined{
			Title:      fmt.Sprintf("%s Per Sector", e.Title),
			Dimensions: e.Dimensions,
		}

		var item layout.Item
		names := make([]string, 0, len(p.config.Sectors))
		for i, sector := range p.config.Sectors {
			cctx := catalog.Context{
				Database:   global.Database,
				Collection: sectorCollections[i],
				Schema:     p.schemas[global.Database],
			}

			sectorItem, err := p.catalogItem(e.Token, cctx, catalog.SectorScope(sector))
			if err != nil {
				return err
			}

			s := catalog.Series{Token: e.Token, Title: sector}
			if i == 0 {
				s.Color = catalog.SectorColor
				item = sectorItem
			} else {
				seriesId, err := p.CreateCard(ctx, sectorItem.Name, sectorItem.Card)
				if err != nil {
					return err
				}
				item.Series = append(item.Series, seriesId)
			}

			combined.Series = append(combined.Series, s)
			names = append(names, sectorItem.Name)
		}

		item.Width = sectorOverviewWidth
		item.Height = sectorOverviewHeight
		item.VisualizationSettings = combined.VisualizationSettings(names)
		items = append(items, item)
	}

	_, err = p.packer.Populate(ctx, p.api, p, id, items)
	return err
}
