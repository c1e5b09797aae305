package mapping

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// Returned when a card does not have the expected structure.
var ErrInvalidCard = errors.New("invalid card definition")

// Converts a JSON number to an integer. Numbers are `float64` when unmarshalled, but cards built in code use `int`.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}

	return 0, false
}

// Returns whether the value is a field reference, e.g. `["field-id", 12]` or `["field", 12, null]`.
func isFieldReference(v any) ([]any, bool) {
	ref, ok := v.([]any)
	if !ok || len(ref) < 2 {
		return nil, false
	}

	literal, ok := ref[0].(string)
	if !ok || (literal != metabase.FieldIdLiteral && literal != metabase.FieldLiteral) {
		return nil, false
	}

	if _, ok := toInt(ref[1]); !ok {
		// Fields can also be referenced by name in nested queries. Those do not need to be translated.
		return nil, false
	}

	return ref, true
}

// Replaces the field ID of a field reference, in place.
func translateFieldReference(ref []any, mapping *Mapping) error {
	id, _ := toInt(ref[1])

	target, err := mapping.Field(id)
	if err != nil {
		return err
	}

	ref[1] = target
	return nil
}

// Translates the references in a breakout. Each entry is either a field reference, or a field reference wrapped in
// another clause, e.g. `["datetime-field", ["field-id", 12], "month"]`.
func translateBreakout(breakout any, mapping *Mapping) error {
	items, ok := breakout.([]any)
	if !ok {
		return fmt.Errorf("%w: breakout is not a list", ErrInvalidCard)
	}

	for _, item := range items {
		if ref, ok := isFieldReference(item); ok {
			if err := translateFieldReference(ref, mapping); err != nil {
				return err
			}
			continue
		}

		wrapper, ok := item.([]any)
		if !ok || len(wrapper) < 2 {
			continue
		}

		if ref, ok := isFieldReference(wrapper[1]); ok {
			if err := translateFieldReference(ref, mapping); err != nil {
				return err
			}
		}
	}

	return nil
}

// Translates the field reference of a single-clause filter, e.g. `["=", ["field-id", 12], "x"]`.
// Compound filters (`and`, `or`...) are left untouched.
func translateFilter(filter any, mapping *Mapping) error {
	clause, ok := filter.([]any)
	if !ok || len(clause) < 2 {
		return nil
	}

	if ref, ok := isFieldReference(clause[1]); ok {
		return translateFieldReference(ref, mapping)
	}

	return nil
}

// Translates the source table, breakout and filter references of a structured query, in place.
func TranslateQuery(query map[string]any, mapping *Mapping) error {
	if sourceTable, ok := query[metabase.SourceTableAttribute]; ok {
		id, ok := toInt(sourceTable)
		if !ok {
			return fmt.Errorf("%w: source table %v is not an ID", ErrInvalidCard, sourceTable)
		}

		target, err := mapping.Table(id)
		if err != nil {
			return err
		}

		query[metabase.SourceTableAttribute] = target
	}

	if breakout, ok := query[metabase.BreakoutAttribute]; ok {
		if err := translateBreakout(breakout, mapping); err != nil {
			return err
		}
	}

	if filter, ok := query[metabase.FilterAttribute]; ok {
		if err := translateFilter(filter, mapping); err != nil {
			return err
		}
	}

	return nil
}

// Translates the query of a card, in place. Native queries do not reference tables and fields by ID, and are left
// untouched.
func Translate(card map[string]any, mapping *Mapping) error {
	datasetQuery, ok := card[metabase.DatasetQueryAttribute].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrInvalidCard, metabase.DatasetQueryAttribute)
	}

	query, ok := datasetQuery[metabase.QueryAttribute].(map[string]any)
	if !ok {
		return nil
	}

	return TranslateQuery(query, mapping)
}

// Points the card and its query to the given database.
func setDatabase(card map[string]any, databaseId int) {
	card[metabase.DatabaseIdAttribute] = databaseId

	if datasetQuery, ok := card[metabase.DatasetQueryAttribute].(map[string]any); ok {
		datasetQuery[metabase.DatabaseAttribute] = databaseId
	}
}

// Copies a JSON object.
func deepCopy(obj map[string]any) (map[string]any, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	var copied map[string]any
	if err := json.Unmarshal(b, &copied); err != nil {
		return nil, err
	}

	return copied, nil
}
