// Package layout places cards on a dashboard grid.
package layout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// The default layout settings.
const (
	DefaultGridWidth = 16
	DefaultWidth     = 4
	DefaultHeight    = 4
)

// A card to place on a dashboard.
type Item struct {
	Id                    int            // The ID of an existing card. If zero, the card is created from `Card`.
	Name                  string         // The name of the card, used to create it and in logs.
	Card                  map[string]any // The definition of the card, used to create it.
	Width                 int            // The width of the card on the grid. Defaults to the packer's width if zero.
	Height                int            // The height of the card on the grid. Defaults to the packer's height if zero.
	Series                []int          // The IDs of cards displayed as additional series of this card.
	Virtual               bool           // Whether this is a virtual card (e.g. text), which does not reference any card.
	VisualizationSettings map[string]any // Settings specific to this dashboard card, overriding the card settings.
}

// The position and size attributed to an item on the grid.
type Placement struct {
	Item  Item
	Col   int
	Row   int
	SizeX int
	SizeY int
}

// Creates cards that do not exist yet and returns their ID.
type CardCreator interface {
	CreateCard(ctx context.Context, name string, attrs map[string]any) (int, error)
}

// Adapts a function to the `CardCreator` interface.
type CardCreatorFunc func(ctx context.Context, name string, attrs map[string]any) (int, error)

func (f CardCreatorFunc) CreateCard(ctx context.Context, name string, attrs map[string]any) (int, error) {
	return f(ctx, name, attrs)
}

// Packs cards in rows from left to right, and rows from top to bottom.
type Packer struct {
	GridWidth     int // The number of columns in the dashboard grid.
	DefaultWidth  int // The width of items without an explicit width.
	DefaultHeight int // The height of items without an explicit height.
}

// Creates a packer with the default settings.
func NewPacker() Packer {
	return Packer{
		GridWidth:     DefaultGridWidth,
		DefaultWidth:  DefaultWidth,
		DefaultHeight: DefaultHeight,
	}
}

// Returns the settings of the packer, replacing unset values by the defaults.
func (p Packer) withDefaults() Packer {
	if p.GridWidth <= 0 {
		p.GridWidth = DefaultGridWidth
	}
	if p.DefaultWidth <= 0 {
		p.DefaultWidth = DefaultWidth
	}
	if p.DefaultHeight <= 0 {
		p.DefaultHeight = DefaultHeight
	}
	return p
}

// Computes the placement of each item, in order.
// An item that does not fit in the remaining width of the current row starts a new row below the tallest item of the
// current row. Items wider than the grid are shrunk to the grid width.
func (p Packer) LayOut(items []Item) []Placement {
	p = p.withDefaults()

	placements := make([]Placement, 0, len(items))
	col, row, rowHeight := 0, 0, 0

	for _, item := range items {
		width := item.Width
		if width <= 0 {
			width = p.DefaultWidth
		}
		width = min(width, p.GridWidth)

		height := item.Height
		if height <= 0 {
			height = p.DefaultHeight
		}

		if col+width > p.GridWidth {
			col = 0
			row += rowHeight
			rowHeight = height
		} else {
			rowHeight = max(rowHeight, height)
		}

		placements = append(placements, Placement{
			Item:  item,
			Col:   col,
			Row:   row,
			SizeX: width,
			SizeY: height,
		})

		col += width
	}

	return placements
}

// Converts a placement to the body attaching it to a dashboard.
func (pl Placement) body(cardId int) metabase.AddDashboardCardBody {
	body := metabase.AddDashboardCardBody{
		Col:                   pl.Col,
		Row:                   pl.Row,
		SizeX:                 pl.SizeX,
		SizeY:                 pl.SizeY,
		ParameterMappings:     []any{},
		Series:                []metabase.SeriesCard{},
		VisualizationSettings: pl.Item.VisualizationSettings,
	}

	if !pl.Item.Virtual {
		body.CardId = &cardId
	}

	for _, s := range pl.Item.Series {
		body.Series = append(body.Series, metabase.SeriesCard{Id: s})
	}

	return body
}

// Lays out the items and attaches them to the dashboard, creating the cards that do not exist yet.
// Cards are created and attached in order, such that a failure leaves the dashboard with the items preceding it.
func (p Packer) Populate(ctx context.Context, api metabase.API, creator CardCreator, dashboardId int, items []Item) ([]Placement, error) {
	placements := p.LayOut(items)

	for i, pl := range placements {
		cardId := pl.Item.Id
		if cardId == 0 && !pl.Item.Virtual {
			id, err := creator.CreateCard(ctx, pl.Item.Name, pl.Item.Card)
			if err != nil {
				return nil, fmt.Errorf("failed to create card '%s': %w", pl.Item.Name, err)
			}

			cardId = id
			placements[i].Item.Id = id
		}

		resp, err := metabase.AddDashboardCard(ctx, api, dashboardId, pl.body(cardId))
		if err := metabase.CheckOK(resp, err, fmt.Sprintf("add card '%s' to dashboard", pl.Item.Name)); err != nil {
			return nil, err
		}

		slog.DebugContext(ctx, "Placed card on dashboard",
			slog.Int("dashboard", dashboardId),
			slog.Int("card", cardId),
			slog.Int("col", pl.Col),
			slog.Int("row", pl.Row))
	}

	return placements, nil
}
