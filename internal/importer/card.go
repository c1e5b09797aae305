package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// Returned when a seed card uses a structured query against another database than the baseline database.
var ErrForeignDatabase = errors.New("seed card does not query the baseline database")

// Returns the name of a card copied to the target.
func (t Target) cardName(name string) string {
	if len(t.Country) == 0 {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, strings.ToUpper(t.Country))
}

// Returns the ID of the database queried by a card, if it can be read.
func queriedDatabase(card map[string]any) (int, bool) {
	datasetQuery, ok := card[metabase.DatasetQueryAttribute].(map[string]any)
	if !ok {
		return 0, false
	}

	switch id := datasetQuery[metabase.DatabaseAttribute].(type) {
	case float64:
		return int(id), true
	case int:
		return id, true
	case json.Number:
		i, err := id.Int64()
		return int(i), err == nil
	}

	return 0, false
}

// Returns whether the card is defined using the query builder rather than native SQL.
func isStructured(card map[string]any) bool {
	datasetQuery, ok := card[metabase.DatasetQueryAttribute].(map[string]any)
	if !ok {
		return false
	}

	_, ok = datasetQuery[metabase.QueryAttribute].(map[string]any)
	return ok
}

// Fetches a seed card from the Metabase API and creates its copy for the target.
// Copies are memoized, such that a card placed several times only gets copied once per target.
func (ic *ImportContext) importCard(ctx context.Context, cardId int, target Target) (*importedCard, error) {
	key := cardKey{Card: cardId, Target: target}
	if card, ok := ic.cards[key]; ok {
		return &card, nil
	}

	card, err := metabase.GetCard(ctx, ic.api, cardId)
	if err != nil {
		return nil, err
	}

	name, _ := card["name"].(string)

	for _, attr := range metabase.NonDefiningCardAttributes {
		delete(card, attr)
	}

	if database, ok := queriedDatabase(card); ok && isStructured(card) && database != ic.mapper.Baseline() {
		return nil, fmt.Errorf("%w: card '%s' queries database %d", ErrForeignDatabase, name, database)
	}

	translated, err := ic.mapper.TranslateCard(ctx, card, target.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to translate card '%s': %w", name, err)
	}

	copyName := target.cardName(name)
	translated["name"] = copyName
	if target.Collection != 0 {
		translated[metabase.CollectionIdAttribute] = target.Collection
	} else {
		translated[metabase.CollectionIdAttribute] = nil
	}

	id, err := ic.creator.CreateCard(ctx, copyName, translated)
	if err != nil {
		return nil, fmt.Errorf("failed to copy card '%s': %w", name, err)
	}

	imported := importedCard{
		SourceId:   cardId,
		SourceName: name,
		Id:         id,
		Name:       copyName,
	}

	ic.cards[key] = imported

	return &imported, nil
}
