// Package provisioner sets up the groups, databases, collections, dashboards, permissions and users of a Metabase
// instance displaying the OiRA statistics.
package provisioner

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flovouin/metabase-provisioner/internal/catalog"
	"github.com/flovouin/metabase-provisioner/internal/importer"
	"github.com/flovouin/metabase-provisioner/internal/layout"
	"github.com/flovouin/metabase-provisioner/internal/mapping"
	"github.com/flovouin/metabase-provisioner/internal/permissions"
	"github.com/flovouin/metabase-provisioner/internal/reconciler"
	"github.com/flovouin/metabase-provisioner/internal/registry"
	"github.com/flovouin/metabase-provisioner/internal/schemasync"
	"github.com/flovouin/metabase-provisioner/metabase"
)

//go:embed resources/intro_text.md
var introText string

// The name of the dashboard introducing the statistics.
const startHereDashboardName = "-> Start here"

// Returned when the database queried by seed dashboards does not exist.
var ErrUnknownBaseline = errors.New("unknown baseline database")

// Returned when a card copied from a seed dashboard has the name of a statistics card.
var ErrCardNameConflict = errors.New("copied card has the name of a statistics card")

// The settings disabling the suggestions displayed on the Metabase home page.
var homepageSettings = []string{"show-homepage-xrays", "show-homepage-data"}

// The resources provisioned for a single country.
type country struct {
	Code       string
	Group      int
	Database   int
	Collection int
}

// Sets up a Metabase instance. A provisioner can be run several times against the same instance, each run converging
// to the same objects.
type Provisioner struct {
	api        metabase.API           // The client to use to perform calls to the API.
	config     Config                 // What to set up.
	catalog    *catalog.Catalog       // The cards placed on the statistics dashboards.
	registry   *registry.Registry     // The objects existing in the instance, indexed by name.
	reconciler *reconciler.Reconciler // Creates or reuses objects by name.
	waiter     *schemasync.Waiter     // Synchronises the schema of new databases.
	packer     layout.Packer          // Places cards on dashboards.
	logger     *slog.Logger           // The logger reporting progress.

	cards      map[string]int          // The cards created or reused during the current run, by name.
	copies     map[string]bool         // The names of the cards copied from seed dashboards during the current run.
	dashboards map[string]int          // The dashboards created during the current run, by name.
	databases  map[string]int          // The databases created or reused during the current run, by name.
	schemas    map[int]mapping.Schema  // The schemas of the databases used by the catalog cards.
	imports    *importer.ImportContext // Copies seed dashboards. Created on first use.
}

// Creates a new provisioner.
func New(api metabase.API, config Config, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}

	reg := registry.New(api)

	return &Provisioner{
		api:        api,
		config:     config,
		catalog:    catalog.Default(),
		registry:   reg,
		reconciler: reconciler.New(api, reg, logger),
		waiter:     schemasync.NewWaiter(api, config.Sync, logger),
		packer:     layout.NewPacker(),
		logger:     logger,
	}
}

// Ensures the provisioner satisfies the `CardCreator` interface.
var _ layout.CardCreator = &Provisioner{}

// Creates or reuses a card by name. A card is only created or updated once per run, even if it is placed on several
// dashboards.
func (p *Provisioner) CreateCard(ctx context.Context, name string, attrs map[string]any) (int, error) {
	return p.createCard(ctx, name, attrs, false)
}

// Creates or reuses a card, which is either a statistics card or a copy of a seed card. Both kinds cannot share a
// name, as the second one would silently reuse the first.
func (p *Provisioner) createCard(ctx context.Context, name string, attrs map[string]any, copied bool) (int, error) {
	if id, ok := p.cards[name]; ok {
		if p.copies[name] != copied {
			return 0, fmt.Errorf("%w: '%s'", ErrCardNameConflict, name)
		}
		return id, nil
	}

	id, err := p.reconciler.CreateOrReuse(ctx, registry.Card, name, attrs, true)
	if err != nil {
		return 0, err
	}

	p.cards[name] = id
	if copied {
		p.copies[name] = true
	}

	return id, nil
}

// Creates the copies of seed cards.
type seedCardCreator struct {
	p *Provisioner
}

func (c seedCardCreator) CreateCard(ctx context.Context, name string, attrs map[string]any) (int, error) {
	return c.p.createCard(ctx, name, attrs, true)
}

// Resets the state of the previous run, such that the current state of the instance is listed again.
func (p *Provisioner) reset() {
	p.registry.Invalidate()
	p.cards = make(map[string]int)
	p.copies = make(map[string]bool)
	p.dashboards = make(map[string]int)
	p.databases = make(map[string]int)
	p.schemas = make(map[int]mapping.Schema)
	p.imports = nil
}

// Sets up the whole instance.
func (p *Provisioner) Run(ctx context.Context) error {
	p.reset()

	codes := p.config.CountryCodes()

	if p.config.Warehouse.Preflight {
		if err := p.preflight(ctx, codes); err != nil {
			return err
		}
	}

	p.setUpSettings(ctx)

	if err := p.removeSampleDatabases(ctx); err != nil {
		return err
	}

	if err := p.setUpStartHereDashboard(ctx); err != nil {
		return err
	}

	globalGroup, err := p.reconciler.CreateOrReuse(ctx, registry.Group, p.config.GlobalGroup, nil, true)
	if err != nil {
		return err
	}

	allUsersGroup, ok, err := p.registry.Find(ctx, registry.Group, metabase.AllUsersPermissionsGroupName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unable to find the '%s' group", metabase.AllUsersPermissionsGroupName)
	}

	var global country
	if p.config.Global {
		global, err = p.setUpGlobalStatistics(ctx)
		if err != nil {
			return err
		}
	}

	countries := make([]country, 0, len(codes))
	for _, code := range codes {
		c, err := p.setUpCountry(ctx, code)
		if err != nil {
			return err
		}
		countries = append(countries, c)
	}

	if len(countries) > 0 {
		if !p.config.Global {
			if err := p.setUpCountryPermissions(ctx, allUsersGroup, globalGroup, countries); err != nil {
				return err
			}
		} else {
			if err := p.setUpCountriesOverview(ctx, global); err != nil {
				return err
			}
		}
	}

	if p.config.Global {
		sectorCollections, err := p.setUpSectors(ctx, global)
		if err != nil {
			return err
		}

		if err := p.setUpGlobalPermissions(ctx, allUsersGroup, globalGroup, global, sectorCollections, countries); err != nil {
			return err
		}
	}

	if p.config.Ldap.Enabled() {
		if err := p.setUpLdap(ctx, globalGroup, countries); err != nil {
			return err
		}
	}

	if err := p.setUpUsers(ctx, []int{allUsersGroup, globalGroup}); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "Done initializing metabase instance")

	return nil
}

// Checks the statistics databases accept connections before adding them to Metabase.
func (p *Provisioner) preflight(ctx context.Context, codes []string) error {
	var names []string
	if p.config.Global {
		names = append(names, p.config.Warehouse.Name(""))
	} else {
		for _, code := range codes {
			names = append(names, p.config.Warehouse.Name(code))
		}
	}

	p.logger.InfoContext(ctx, "Checking statistics databases", slog.Any("databases", names))

	return p.config.Warehouse.Ping(ctx, names...)
}

// Disables the suggestions of the home page. Failures are logged by the client and do not stop the run.
func (p *Provisioner) setUpSettings(ctx context.Context) {
	for _, key := range homepageSettings {
		resp, err := metabase.PutSetting(ctx, p.api, key, false)
		if err := metabase.CheckResponse(resp, err, []int{200, 204}, fmt.Sprintf("set %s", key)); err != nil {
			p.logger.WarnContext(ctx, "Failed to update setting", slog.String("setting", key), slog.Any("error", err))
		}
	}
}

// Removes the sample database shipped with Metabase.
func (p *Provisioner) removeSampleDatabases(ctx context.Context) error {
	for _, name := range metabase.SampleDatabaseNames {
		id, ok, err := p.registry.Find(ctx, registry.Database, name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		p.logger.InfoContext(ctx, fmt.Sprintf("Deleting sample database '%s'", name), slog.Int("id", id))

		path, err := metabase.ObjectPath(registry.Database.Endpoint(), id)
		if err != nil {
			return err
		}

		resp, err := p.api.Delete(ctx, path)
		if err := metabase.CheckResponse(resp, err, []int{200, 204, 404}, "delete sample database"); err != nil {
			return err
		}
	}

	return nil
}

// Creates the dashboard introducing the statistics, at the root of the instance.
func (p *Provisioner) setUpStartHereDashboard(ctx context.Context) error {
	id, err := p.reconciler.CreateOrReuse(ctx, registry.Dashboard, startHereDashboardName, map[string]any{
		"description":         "Introduction to the statistics",
		"collection_position": 1,
		"collection_id":       nil,
	}, false)
	if err != nil {
		return err
	}

	intro := layout.Item{
		Name:    "Introduction",
		Virtual: true,
		Width:   8,
		Height:  9,
		VisualizationSettings: map[string]any{
			"virtual_card": map[string]any{
				"name":    nil,
				"display": "text",
			},
			"text": introText,
		},
	}

	_, err = p.packer.Populate(ctx, p.api, p, id, []layout.Item{intro})
	return err
}

// Applies the database and collection permissions updates.
func (p *Provisioner) applyPermissions(ctx context.Context, databases permissions.Updates, collections permissions.Updates) error {
	if err := permissions.Apply(ctx, p.api, permissions.Databases, databases); err != nil {
		return err
	}

	return permissions.Apply(ctx, p.api, permissions.Collections, collections)
}

// Restricts each country's resources to its own group and the global group.
func (p *Provisioner) setUpCountryPermissions(ctx context.Context, allUsersGroup int, globalGroup int, countries []country) error {
	p.logger.InfoContext(ctx, "Setting up country permissions")

	policy := make([]permissions.Country, 0, len(countries))
	for _, c := range countries {
		policy = append(policy, permissions.Country(c))
	}

	databases, collections := permissions.CountryPolicy(allUsersGroup, globalGroup, policy)

	return p.applyPermissions(ctx, databases, collections)
}

// Grants access to the global resources to the global and country groups.
func (p *Provisioner) setUpGlobalPermissions(ctx context.Context, allUsersGroup int, globalGroup int, global country, sectorCollections []int, countries []country) error {
	p.logger.InfoContext(ctx, "Setting up global permissions")

	policy := make([]permissions.Country, 0, len(countries))
	for _, c := range countries {
		policy = append(policy, permissions.Country(c))
	}

	databases, collections := permissions.GlobalPolicy(allUsersGroup, globalGroup, permissions.Global{
		Database:          global.Database,
		Collection:        global.Collection,
		SectorCollections: sectorCollections,
	}, policy)

	return p.applyPermissions(ctx, databases, collections)
}

// Configures the LDAP directory, and maps its groups to the country groups and the global group.
func (p *Provisioner) setUpLdap(ctx context.Context, globalGroup int, countries []country) error {
	p.logger.InfoContext(ctx, "Setting up LDAP")

	l := p.config.Ldap
	resp, err := metabase.PutLdapSettings(ctx, p.api, metabase.LdapSettings{
		Enabled:            true,
		Host:               l.Host,
		Port:               l.Port,
		BindDn:             l.BindDn,
		Password:           l.Password,
		UserBase:           l.UserBase,
		UserFilter:         l.UserFilter,
		AttributeFirstname: l.AttributeFirstname,
		GroupSync:          true,
		GroupBase:          l.GroupBase,
	})
	if err := metabase.CheckResponse(resp, err, []int{200, 204}, "update LDAP settings"); err != nil {
		return err
	}

	mappings := make(map[string][]int, len(countries)+1)
	for _, c := range countries {
		mappings[l.CountryDn(c.Code)] = []int{c.Group}
	}
	mappings[l.AdminGroupDn] = []int{globalGroup}

	resp, err = metabase.PutSetting(ctx, p.api, "ldap-group-mappings", mappings)
	return metabase.CheckResponse(resp, err, []int{200, 204}, "update LDAP group mappings")
}

// Creates the statistics viewer accounts, or updates them if they exist.
func (p *Provisioner) setUpUsers(ctx context.Context, groups []int) error {
	if len(p.config.Users) == 0 {
		return nil
	}

	existing, err := metabase.ListUsers(ctx, p.api)
	if err != nil {
		return err
	}

	ids := make(map[string]int, len(existing))
	for _, u := range existing {
		ids[strings.ToLower(u.Email)] = u.Id
	}

	for _, u := range p.config.Users {
		body := metabase.UserBody{
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Email:     u.Email,
			Password:  u.Password,
			GroupIds:  groups,
		}

		id, exists := ids[strings.ToLower(u.Email)]
		if !exists {
			p.logger.InfoContext(ctx, fmt.Sprintf("Creating user %s", u.Email))

			resp, err := metabase.CreateUser(ctx, p.api, body)
			if err := metabase.CheckOK(resp, err, "create user"); err != nil {
				return err
			}
			continue
		}

		p.logger.InfoContext(ctx, fmt.Sprintf("Modifying user %s", u.Email), slog.Int("id", id))

		resp, err := metabase.UpdateUser(ctx, p.api, id, body)
		if err := metabase.CheckOK(resp, err, "update user"); err != nil {
			return err
		}
	}

	return nil
}
