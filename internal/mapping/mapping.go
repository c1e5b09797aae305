// Package mapping translates table and field IDs between databases sharing the same logical schema.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// Returned when a table of the baseline database does not exist in the target database.
var ErrUnmappedTable = errors.New("table does not exist in the target database")

// Returned when a field of the baseline database does not exist in the target database.
var ErrUnmappedField = errors.New("field does not exist in the target database")

// A table in a schema, with the IDs of its fields indexed by name.
type Table struct {
	Id     int            // The ID of the table in Metabase.
	Fields map[string]int // The IDs of the fields in the table, indexed by name.
}

// The tables of a database, indexed by name.
type Schema map[string]Table

// Builds the schema of a database from its metadata.
func SchemaFromDatabase(database *metabase.Database) Schema {
	schema := make(Schema, len(database.Tables))
	for _, t := range database.Tables {
		table := Table{
			Id:     t.Id,
			Fields: make(map[string]int, len(t.Fields)),
		}
		for _, f := range t.Fields {
			table.Fields[f.Name] = f.Id
		}
		schema[t.Name] = table
	}
	return schema
}

// Returns the ID of the table with the given name.
func (s Schema) TableId(table string) (int, error) {
	t, ok := s[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnmappedTable, table)
	}
	return t.Id, nil
}

// Returns the ID of the field with the given name, in the table with the given name.
func (s Schema) FieldId(table string, field string) (int, error) {
	t, ok := s[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnmappedTable, table)
	}

	id, ok := t.Fields[field]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrUnmappedField, table, field)
	}
	return id, nil
}

// The correspondence between the table and field IDs of a baseline database and a target database.
type Mapping struct {
	Tables map[int]int // Target table IDs, indexed by baseline table ID.
	Fields map[int]int // Target field IDs, indexed by baseline field ID.
}

// Returns the target ID for a baseline table ID.
func (m *Mapping) Table(id int) (int, error) {
	target, ok := m.Tables[id]
	if !ok {
		return 0, fmt.Errorf("%w: no mapping for table %d", ErrUnmappedTable, id)
	}
	return target, nil
}

// Returns the target ID for a baseline field ID.
func (m *Mapping) Field(id int) (int, error) {
	target, ok := m.Fields[id]
	if !ok {
		return 0, fmt.Errorf("%w: no mapping for field %d", ErrUnmappedField, id)
	}
	return target, nil
}

// Matches every table and field of the baseline schema with the table and field of the same name in the target schema.
// The target schema may contain additional tables and fields. All baseline tables and fields must exist in the target.
func BuildMapping(base Schema, target Schema) (*Mapping, error) {
	mapping := &Mapping{
		Tables: make(map[int]int, len(base)),
		Fields: make(map[int]int),
	}

	for tableName, baseTable := range base {
		targetTable, ok := target[tableName]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnmappedTable, tableName)
		}

		mapping.Tables[baseTable.Id] = targetTable.Id

		for fieldName, baseFieldId := range baseTable.Fields {
			targetFieldId, ok := targetTable.Fields[fieldName]
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnmappedField, tableName, fieldName)
			}

			mapping.Fields[baseFieldId] = targetFieldId
		}
	}

	return mapping, nil
}

// Fetches database schemas and builds mappings from a baseline database, caching both until invalidated.
type Mapper struct {
	api      metabase.API     // The client used to fetch database metadata.
	baseline int              // The ID of the database cards are initially defined against.
	schemas  map[int]Schema   // The schemas fetched so far, indexed by database ID.
	mappings map[int]*Mapping // The mappings built so far, indexed by target database ID.
	logger   *slog.Logger     // The logger reporting progress.
}

// Creates a mapper from the given baseline database.
func NewMapper(api metabase.API, baseline int, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}

	return &Mapper{
		api:      api,
		baseline: baseline,
		schemas:  make(map[int]Schema),
		mappings: make(map[int]*Mapping),
		logger:   logger,
	}
}

// Returns the ID of the baseline database.
func (m *Mapper) Baseline() int {
	return m.baseline
}

// Returns the schema of a database, fetching it on first access.
func (m *Mapper) Schema(ctx context.Context, databaseId int) (Schema, error) {
	if schema, ok := m.schemas[databaseId]; ok {
		return schema, nil
	}

	database, err := metabase.GetDatabaseMetadata(ctx, m.api, databaseId)
	if err != nil {
		return nil, err
	}

	schema := SchemaFromDatabase(database)
	m.schemas[databaseId] = schema

	return schema, nil
}

// Returns the mapping from the baseline database to the given database, building it on first access.
func (m *Mapper) Map(ctx context.Context, target int) (*Mapping, error) {
	if mapping, ok := m.mappings[target]; ok {
		return mapping, nil
	}

	base, err := m.Schema(ctx, m.baseline)
	if err != nil {
		return nil, err
	}

	targetSchema, err := m.Schema(ctx, target)
	if err != nil {
		return nil, err
	}

	mapping, err := BuildMapping(base, targetSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to map database %d to database %d: %w", m.baseline, target, err)
	}

	m.logger.DebugContext(ctx, "Built database mapping",
		slog.Int("baseline", m.baseline),
		slog.Int("target", target),
		slog.Int("tables", len(mapping.Tables)),
		slog.Int("fields", len(mapping.Fields)))

	m.mappings[target] = mapping

	return mapping, nil
}

// Drops the cached schemas and mappings for the given databases, or for all databases if none is given.
// Dropping the baseline schema also drops all mappings.
func (m *Mapper) Invalidate(databaseIds ...int) {
	if len(databaseIds) == 0 {
		m.schemas = make(map[int]Schema)
		m.mappings = make(map[int]*Mapping)
		return
	}

	for _, id := range databaseIds {
		delete(m.schemas, id)
		delete(m.mappings, id)

		if id == m.baseline {
			m.mappings = make(map[int]*Mapping)
		}
	}
}

// Returns a copy of the card, with its references to the baseline database translated to the target database.
func (m *Mapper) TranslateCard(ctx context.Context, card map[string]any, target int) (map[string]any, error) {
	translated, err := deepCopy(card)
	if err != nil {
		return nil, err
	}

	if target == m.baseline {
		setDatabase(translated, target)
		return translated, nil
	}

	mapping, err := m.Map(ctx, target)
	if err != nil {
		return nil, err
	}

	if err := Translate(translated, mapping); err != nil {
		return nil, err
	}

	setDatabase(translated, target)

	return translated, nil
}
