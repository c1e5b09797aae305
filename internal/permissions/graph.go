// Package permissions merges access rules into the Metabase permissions graphs.
package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// The kind of resources a permissions graph applies to.
type Kind string

const (
	Databases   Kind = "databases"
	Collections Kind = "collections"
)

// Collection access rules.
const (
	Read = "read"
	None = "none"
)

// Returns the database access rule, granting or denying access to all schemas.
func SchemaAccess(all bool) map[string]any {
	if all {
		return map[string]any{"schemas": "all"}
	}
	return map[string]any{"schemas": "none"}
}

// A permissions graph, mapping group IDs to resource IDs to access rules.
// IDs are strings, as they are JSON object keys in the Metabase API.
type Graph struct {
	Revision int                       // The revision of the graph, which must be sent back unchanged when updating it.
	Groups   map[string]map[string]any // The access rules, indexed by group ID and resource ID.
}

// Rules to merge into a graph, indexed by group ID and resource ID.
type Updates map[string]map[string]any

// Adds a rule for the given group and resource, replacing any rule previously set for the same cell.
func (u Updates) Set(groupId int, resourceId int, rule any) {
	group := strconv.Itoa(groupId)
	if _, ok := u[group]; !ok {
		u[group] = make(map[string]any)
	}
	u[group][strconv.Itoa(resourceId)] = rule
}

// Sets the rule for a single group and resource. Other resources of the group, and other groups, are left untouched.
func MergeCell(g *Graph, group string, resource string, rule any) {
	if g.Groups == nil {
		g.Groups = make(map[string]map[string]any)
	}

	resources, ok := g.Groups[group]
	if !ok || resources == nil {
		resources = make(map[string]any)
		g.Groups[group] = resources
	}

	resources[resource] = rule
}

// Merges all the updates into the graph, cell by cell.
func (g *Graph) Merge(updates Updates) {
	for group, resources := range updates {
		for resource, rule := range resources {
			MergeCell(g, group, resource, rule)
		}
	}
}

// Merges database access rules, as returned by `SchemaAccess`, into the database permissions graph.
func MergeDatabasePermissions(g *Graph, updates Updates) *Graph {
	g.Merge(updates)
	return g
}

// Merges collection access rules, `read` or `none`, into the collection permissions graph.
func MergeCollectionPermissions(g *Graph, updates Updates) *Graph {
	g.Merge(updates)
	return g
}

// Fetches the current graph of the given kind.
func Get(ctx context.Context, api metabase.API, kind Kind) (*Graph, error) {
	switch kind {
	case Databases:
		g, err := metabase.GetPermissionsGraph(ctx, api)
		if err != nil {
			return nil, err
		}
		return &Graph{Revision: g.Revision, Groups: g.Groups}, nil
	case Collections:
		g, err := metabase.GetCollectionPermissionsGraph(ctx, api)
		if err != nil {
			return nil, err
		}
		return &Graph{Revision: g.Revision, Groups: g.Groups}, nil
	}

	return nil, fmt.Errorf("unknown permissions graph kind '%s'", kind)
}

// Replaces the graph of the given kind.
func Put(ctx context.Context, api metabase.API, kind Kind, g *Graph) error {
	switch kind {
	case Databases:
		return metabase.ReplacePermissionsGraph(ctx, api, metabase.PermissionsGraph{Revision: g.Revision, Groups: g.Groups})
	case Collections:
		return metabase.ReplaceCollectionPermissionsGraph(ctx, api, metabase.CollectionPermissionsGraph{Revision: g.Revision, Groups: g.Groups})
	}

	return fmt.Errorf("unknown permissions graph kind '%s'", kind)
}

// Fetches the graph of the given kind, merges the updates into it, and writes it back.
// The graph is not locked between the read and the write. A concurrent modification is reported by Metabase as a
// revision conflict.
func Apply(ctx context.Context, api metabase.API, kind Kind, updates Updates) error {
	g, err := Get(ctx, api, kind)
	if err != nil {
		return err
	}

	if kind == Databases {
		g = MergeDatabasePermissions(g, updates)
	} else {
		g = MergeCollectionPermissions(g, updates)
	}

	if err := Put(ctx, api, kind, g); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Updated permissions graph", slog.String("kind", string(kind)), slog.Int("groups", len(updates)))

	return nil
}
