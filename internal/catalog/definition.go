package catalog

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/lib/pq"

	"github.com/flovouin/metabase-provisioner/internal/mapping"
	"github.com/flovouin/metabase-provisioner/metabase"
)

// Restricts the rows of a query to those where a column has a given value.
type Filter struct {
	Table    string // The name of the table containing the column.
	Column   string // The name of the filtered column.
	Operator string // The comparison operator. Defaults to `=`.
	Value    any    // The value the column is compared to.
}

// Returns the comparison operator of the filter.
func (f Filter) operator() string {
	if len(f.Operator) == 0 {
		return "="
	}
	return f.Operator
}

// The query of a card, which can be resolved against the schema of any database.
// A definition is either a `Query` or a `Native` query.
type Definition interface {
	// Returns the type of query, as set in the `dataset_query` of the card.
	QueryType() string
	// Returns the `dataset_query` of the card, with table and field names resolved using the schema.
	DatasetQuery(database int, schema mapping.Schema) (map[string]any, error)
	// Returns a copy of the definition, restricted to rows matching the filter.
	WithFilter(f Filter) Definition
}

// A column in the source table of a query, optionally truncated to a time unit.
type Column struct {
	Name string // The name of the field.
	Unit string // The time unit the value is truncated to (e.g. `month`). Empty if the value is used as is.
}

// An aggregation of the rows of a query, e.g. `count`, or `avg` on a column.
type Aggregation struct {
	Operator string // The aggregation operator, e.g. `count`, `cum-count`, `distinct`, `avg`.
	Column   string // The column the aggregation applies to. Empty for operators without argument.
}

// A structured query, built with the Metabase query builder.
type Query struct {
	SourceTable  string        // The name of the table the query reads from.
	Aggregations []Aggregation // The aggregations computed for each group.
	Breakout     []Column      // The columns rows are grouped by.
	Filters      []Filter      // The filters rows must all match.
	OrderByDesc  bool          // Whether groups are sorted by descending value of the first aggregation.
	Limit        int           // The maximum number of groups. No limit if zero.
}

// Ensures both kinds of queries satisfy the `Definition` interface.
var (
	_ Definition = Query{}
	_ Definition = Native{}
)

func (q Query) QueryType() string {
	return "query"
}

// Returns a field reference, e.g. `["field-id", 12]`.
func fieldReference(schema mapping.Schema, table string, column string) ([]any, error) {
	id, err := schema.FieldId(table, column)
	if err != nil {
		return nil, err
	}
	return []any{metabase.FieldIdLiteral, id}, nil
}

// Returns a single filter clause, e.g. `["=", ["field-id", 12], "full"]`.
func (f Filter) clause(schema mapping.Schema) ([]any, error) {
	ref, err := fieldReference(schema, f.Table, f.Column)
	if err != nil {
		return nil, err
	}
	return []any{f.operator(), ref, f.Value}, nil
}

func (q Query) DatasetQuery(database int, schema mapping.Schema) (map[string]any, error) {
	tableId, err := schema.TableId(q.SourceTable)
	if err != nil {
		return nil, err
	}

	query := map[string]any{
		metabase.SourceTableAttribute: tableId,
	}

	aggregations := make([]any, 0, len(q.Aggregations))
	for _, a := range q.Aggregations {
		if len(a.Column) == 0 {
			aggregations = append(aggregations, []any{a.Operator})
			continue
		}

		ref, err := fieldReference(schema, q.SourceTable, a.Column)
		if err != nil {
			return nil, err
		}
		aggregations = append(aggregations, []any{a.Operator, ref})
	}
	query["aggregation"] = aggregations

	if len(q.Breakout) > 0 {
		breakout := make([]any, 0, len(q.Breakout))
		for _, c := range q.Breakout {
			ref, err := fieldReference(schema, q.SourceTable, c.Name)
			if err != nil {
				return nil, err
			}

			if len(c.Unit) == 0 {
				breakout = append(breakout, ref)
			} else {
				breakout = append(breakout, []any{"datetime-field", ref, c.Unit})
			}
		}
		query[metabase.BreakoutAttribute] = breakout
	}

	switch len(q.Filters) {
	case 0:
	case 1:
		clause, err := q.Filters[0].clause(schema)
		if err != nil {
			return nil, err
		}
		query[metabase.FilterAttribute] = clause
	default:
		clauses := []any{"and"}
		for _, f := range q.Filters {
			clause, err := f.clause(schema)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
		}
		query[metabase.FilterAttribute] = clauses
	}

	if q.OrderByDesc {
		query["order-by"] = []any{[]any{"desc", []any{"aggregation", 0}}}
	}

	if q.Limit > 0 {
		query["limit"] = q.Limit
	}

	return map[string]any{
		"type":                     q.QueryType(),
		metabase.QueryAttribute:    query,
		metabase.DatabaseAttribute: database,
	}, nil
}

func (q Query) WithFilter(f Filter) Definition {
	q.Filters = append(append([]Filter(nil), q.Filters...), f)
	return q
}

// A native SQL query.
// The SQL is a template, in which `{{.Where}}` is replaced by the `WHERE` clause built from the conditions and filters.
type Native struct {
	SQL        string   // The template of the SQL query.
	Conditions []string // Raw SQL conditions the rows must match.
	Filters    []Filter // Filters the rows must match. The table of each filter is ignored.
}

func (n Native) QueryType() string {
	return "native"
}

// Returns the SQL literal for a value.
func sqlLiteral(v any) string {
	switch typed := v.(type) {
	case nil:
		return "NULL"
	case string:
		return pq.QuoteLiteral(typed)
	case bool:
		if typed {
			return "TRUE"
		}
		return "FALSE"
	}
	return fmt.Sprint(v)
}

// Returns the `WHERE` clause, or an empty string if there is no condition.
func (n Native) where() string {
	conditions := make([]string, 0, len(n.Conditions)+len(n.Filters))
	for _, c := range n.Conditions {
		conditions = append(conditions, "("+c+")")
	}
	for _, f := range n.Filters {
		conditions = append(conditions, fmt.Sprintf("%s %s %s", pq.QuoteIdentifier(f.Column), f.operator(), sqlLiteral(f.Value)))
	}

	if len(conditions) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(conditions, " AND ")
}

// Renders the SQL query.
func (n Native) Render() (string, error) {
	tmpl, err := template.New("native").Parse(n.SQL)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct{ Where string }{Where: n.where()}); err != nil {
		return "", err
	}

	return strings.TrimSpace(buf.String()), nil
}

func (n Native) DatasetQuery(database int, schema mapping.Schema) (map[string]any, error) {
	sql, err := n.Render()
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"type": n.QueryType(),
		"native": map[string]any{
			"query":         sql,
			"template-tags": map[string]any{},
		},
		metabase.DatabaseAttribute: database,
	}, nil
}

func (n Native) WithFilter(f Filter) Definition {
	n.Filters = append(append([]Filter(nil), n.Filters...), f)
	return n
}
