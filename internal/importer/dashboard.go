package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/flovouin/metabase-provisioner/internal/registry"
	"github.com/flovouin/metabase-provisioner/metabase"
)

// Returned when no dashboard exists with the name of a seed dashboard.
var ErrUnknownSeedDashboard = errors.New("unknown seed dashboard")

// Returns the ID of the seed dashboard with the given name.
func (ic *ImportContext) FindSeedDashboard(ctx context.Context, name string) (int, error) {
	id, ok, err := ic.registry.Find(ctx, registry.Dashboard, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: '%s'", ErrUnknownSeedDashboard, name)
	}

	return id, nil
}

// Fetches a seed dashboard, including the cards placed on it.
func (ic *ImportContext) getDashboard(ctx context.Context, dashboardId int) (*metabase.Dashboard, error) {
	dashboard, ok := ic.dashboards[dashboardId]
	if ok {
		return &dashboard, nil
	}

	fetched, _, err := metabase.GetDashboard(ctx, ic.api, dashboardId)
	if err != nil {
		return nil, err
	}

	ic.dashboards[dashboardId] = *fetched

	return fetched, nil
}

// Returns a copy of the visualization settings of a dashboard card, where the series settings refer to the copied cards.
// Series settings are indexed by card name, which changes when cards are copied for a country.
func renameSeriesSettings(settings map[string]any, names map[string]string) map[string]any {
	if settings == nil {
		return nil
	}

	renamed := maps.Clone(settings)

	seriesSettings, ok := settings["series_settings"].(map[string]any)
	if !ok {
		return renamed
	}

	renamedSeries := make(map[string]any, len(seriesSettings))
	for k, v := range seriesSettings {
		if newName, ok := names[k]; ok {
			k = newName
		}
		renamedSeries[k] = v
	}
	renamed["series_settings"] = renamedSeries

	return renamed
}

// Converts a card placed on a seed dashboard to the body placing its copy on another dashboard.
// The position and size of the card are kept.
func (ic *ImportContext) copyDashboardCard(ctx context.Context, dashcard metabase.DashboardCard, target Target) (metabase.AddDashboardCardBody, error) {
	body := metabase.AddDashboardCardBody{
		Col:   dashcard.Col,
		Row:   dashcard.Row,
		SizeX: dashcard.SizeX,
		SizeY: dashcard.SizeY,
	}

	if dashcard.CardId == nil {
		// Virtual cards, e.g. text, only consist of their visualization settings.
		body.VisualizationSettings = maps.Clone(dashcard.VisualizationSettings)
		return body, nil
	}

	names := make(map[string]string)

	card, err := ic.importCard(ctx, *dashcard.CardId, target)
	if err != nil {
		return body, err
	}
	body.CardId = &card.Id
	if len(card.SourceName) > 0 {
		names[card.SourceName] = card.Name
	}

	for _, s := range dashcard.Series {
		seriesCard, err := ic.importCard(ctx, s.Id, target)
		if err != nil {
			return body, err
		}

		body.Series = append(body.Series, metabase.SeriesCard{Id: seriesCard.Id})
		if len(seriesCard.SourceName) > 0 {
			names[seriesCard.SourceName] = seriesCard.Name
		} else if len(s.Name) > 0 {
			names[s.Name] = seriesCard.Name
		}
	}

	body.VisualizationSettings = renameSeriesSettings(dashcard.VisualizationSettings, names)

	return body, nil
}

// Returns the first row below the cards already placed on a dashboard.
func (ic *ImportContext) bottomRow(ctx context.Context, dashboardId int) (int, error) {
	dashboard, _, err := metabase.GetDashboard(ctx, ic.api, dashboardId)
	if err != nil {
		return 0, err
	}

	bottom := 0
	for _, dashcard := range dashboard.Cards() {
		bottom = max(bottom, dashcard.Row+dashcard.SizeY)
	}
	return bottom, nil
}

// Copies the cards of a seed dashboard to another dashboard, creating the copied cards for the target database and
// collection. Cards already on the dashboard are kept, and the copies are placed below them.
// Returns the number of cards placed on the dashboard.
func (ic *ImportContext) CopyDashboard(ctx context.Context, seedId int, dashboardId int, target Target) (int, error) {
	seed, err := ic.getDashboard(ctx, seedId)
	if err != nil {
		return 0, err
	}

	offset, err := ic.bottomRow(ctx, dashboardId)
	if err != nil {
		return 0, err
	}

	ic.logger.InfoContext(ctx, fmt.Sprintf("Copying cards of dashboard '%s'", seed.Name),
		slog.Int("dashboard", dashboardId),
		slog.Int("database", target.Database))

	count := 0
	for _, dashcard := range seed.Cards() {
		body, err := ic.copyDashboardCard(ctx, dashcard, target)
		if err != nil {
			return count, err
		}
		body.Row += offset

		resp, err := metabase.AddDashboardCard(ctx, ic.api, dashboardId, body)
		if err := metabase.CheckOK(resp, err, "add copied card to dashboard"); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}
