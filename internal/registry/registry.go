// Package registry indexes the objects already existing in Metabase by name.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// The type of an object managed by the provisioner.
type ObjectType string

const (
	Group      ObjectType = "group"
	Database   ObjectType = "database"
	Collection ObjectType = "collection"
	Dashboard  ObjectType = "dashboard"
	Card       ObjectType = "card"
)

// All the object types, in the order they are fetched when refreshing the registry.
var ObjectTypes = []ObjectType{Group, Database, Collection, Dashboard, Card}

// Returns the API endpoint used to list and create objects of this type.
func (t ObjectType) Endpoint() string {
	if t == Group {
		return "/api/permissions/group"
	}
	return fmt.Sprintf("/api/%s", t)
}

// Returns the key under which an object name is indexed. Groups are matched case-insensitively.
func (t ObjectType) Key(name string) string {
	if t == Group {
		return strings.ToUpper(name)
	}
	return name
}

// A named object, as returned when listing objects of any type.
type namedObject struct {
	Id      json.RawMessage          `json:"id"`
	Name    string                   `json:"name"`
	Details metabase.DatabaseDetails `json:"details"`
}

// A cache of the objects existing in Metabase, indexed by name.
// Each type is listed the first time it is looked up. Subsequent lookups return the cached index, even if objects have
// been created or deleted since. `Invalidate` should be called when a fresh view is needed.
type Registry struct {
	api   metabase.API                  // The client used to list objects.
	items map[ObjectType]map[string]int // The name → ID index for each type that has already been listed.
}

// Creates an empty registry.
func New(api metabase.API) *Registry {
	return &Registry{
		api:   api,
		items: make(map[ObjectType]map[string]int),
	}
}

// Lists the objects of the given type from the Metabase API.
func (r *Registry) list(ctx context.Context, t ObjectType) ([]namedObject, error) {
	resp, err := r.api.Get(ctx, t.Endpoint())
	if err := metabase.CheckOK(resp, err, fmt.Sprintf("list %ss", t)); err != nil {
		return nil, err
	}

	var objects []namedObject
	if err := json.Unmarshal(resp.Body, &objects); err == nil {
		return objects, nil
	}

	// Databases (and possibly other types in recent versions) are wrapped in a `data` attribute.
	var wrapped struct {
		Data []namedObject `json:"data"`
	}
	if err := resp.DecodeJSON(&wrapped); err != nil {
		return nil, err
	}

	return wrapped.Data, nil
}

// Returns the name under which an object is indexed. Databases are indexed by the name of the underlying database,
// which is what the provisioner controls.
func indexedName(t ObjectType, o namedObject) string {
	if t == Database && len(o.Details.DbName) > 0 {
		return o.Details.DbName
	}
	return t.Key(o.Name)
}

// Returns the name → ID index of existing objects of the given type, listing them on first access.
func (r *Registry) Lookup(ctx context.Context, t ObjectType) (map[string]int, error) {
	if items, ok := r.items[t]; ok {
		return items, nil
	}

	objects, err := r.list(ctx, t)
	if err != nil {
		return nil, err
	}

	items := make(map[string]int, len(objects))
	for _, o := range objects {
		// Objects with non-integer IDs (e.g. the `root` collection) cannot be managed and are not indexed.
		var id int
		if err := json.Unmarshal(o.Id, &id); err != nil {
			continue
		}

		name := indexedName(t, o)
		if _, exists := items[name]; exists {
			// The first object returned by the API wins, consistently with name lookups in the Metabase UI.
			continue
		}
		items[name] = id
	}

	r.items[t] = items

	return items, nil
}

// Returns the ID of the object with the given type and name, and whether it exists.
func (r *Registry) Find(ctx context.Context, t ObjectType, name string) (int, bool, error) {
	items, err := r.Lookup(ctx, t)
	if err != nil {
		return 0, false, err
	}

	id, ok := items[t.Key(name)]
	return id, ok, nil
}

// Drops the cached index for the given types, or for all types if none is given.
func (r *Registry) Invalidate(types ...ObjectType) {
	if len(types) == 0 {
		r.items = make(map[ObjectType]map[string]int)
		return
	}

	for _, t := range types {
		delete(r.items, t)
	}
}

// Drops all cached indexes and lists every type again.
func (r *Registry) Refresh(ctx context.Context) error {
	r.Invalidate()

	for _, t := range ObjectTypes {
		if _, err := r.Lookup(ctx, t); err != nil {
			return err
		}
	}

	return nil
}
