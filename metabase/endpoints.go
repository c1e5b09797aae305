package metabase

import (
	"context"
	"fmt"

	"github.com/oapi-codegen/runtime"
)

// Makes an API path from a format containing a single `%s` placeholder, replaced by the encoded path parameter.
func makePath(format string, name string, value any) (string, error) {
	param, err := runtime.StyleParamWithLocation("simple", false, name, runtime.ParamLocationPath, value)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(format, param), nil
}

// Makes the path to a single object, given the endpoint listing objects of that type.
func ObjectPath(endpoint string, id int) (string, error) {
	return makePath(endpoint+"/%s", "id", id)
}

// Fetches all the users.
func ListUsers(ctx context.Context, api API) ([]User, error) {
	resp, err := api.Get(ctx, "/api/user")
	if err := CheckOK(resp, err, "list users"); err != nil {
		return nil, err
	}

	var users []User
	if err := resp.DecodeJSON(&users); err == nil {
		return users, nil
	}

	var list UserList
	if err := resp.DecodeJSON(&list); err != nil {
		return nil, err
	}

	return list.Data, nil
}

// Creates a user.
func CreateUser(ctx context.Context, api API, body UserBody) (*Response, error) {
	return api.Post(ctx, "/api/user", body)
}

// Updates an existing user.
func UpdateUser(ctx context.Context, api API, userId int, body UserBody) (*Response, error) {
	path, err := ObjectPath("/api/user", userId)
	if err != nil {
		return nil, err
	}

	return api.Put(ctx, path, body)
}

// Sets the value of a single setting.
func PutSetting(ctx context.Context, api API, key string, value any) (*Response, error) {
	path, err := makePath("/api/setting/%s", "key", key)
	if err != nil {
		return nil, err
	}

	return api.Put(ctx, path, SettingBody{Value: value})
}

// Replaces the LDAP settings.
func PutLdapSettings(ctx context.Context, api API, settings LdapSettings) (*Response, error) {
	return api.Put(ctx, "/api/ldap/settings", settings)
}

// Attaches a card to a dashboard.
func AddDashboardCard(ctx context.Context, api API, dashboardId int, body AddDashboardCardBody) (*Response, error) {
	path, err := makePath("/api/dashboard/%s/cards", "id", dashboardId)
	if err != nil {
		return nil, err
	}

	return api.Post(ctx, path, body)
}

// Fetches a dashboard, including the cards placed on it.
func GetDashboard(ctx context.Context, api API, dashboardId int) (*Dashboard, []byte, error) {
	path, err := ObjectPath("/api/dashboard", dashboardId)
	if err != nil {
		return nil, nil, err
	}

	resp, err := api.Get(ctx, path)
	if err := CheckOK(resp, err, "get dashboard"); err != nil {
		return nil, nil, err
	}

	var dashboard Dashboard
	if err := resp.DecodeJSON(&dashboard); err != nil {
		return nil, nil, err
	}

	return &dashboard, resp.Body, nil
}

// Fetches a card as an untyped JSON object, such that it can be copied without losing any attribute.
func GetCard(ctx context.Context, api API, cardId int) (map[string]any, error) {
	path, err := ObjectPath("/api/card", cardId)
	if err != nil {
		return nil, err
	}

	resp, err := api.Get(ctx, path)
	if err := CheckOK(resp, err, "get card"); err != nil {
		return nil, err
	}

	var card map[string]any
	if err := resp.DecodeJSON(&card); err != nil {
		return nil, err
	}

	return card, nil
}

// Fetches a database, including its tables and their fields.
func GetDatabaseMetadata(ctx context.Context, api API, databaseId int) (*Database, error) {
	path, err := ObjectPath("/api/database", databaseId)
	if err != nil {
		return nil, err
	}

	resp, err := api.Get(ctx, path+"?include=tables.fields")
	if err := CheckOK(resp, err, "get database metadata"); err != nil {
		return nil, err
	}

	var database Database
	if err := resp.DecodeJSON(&database); err != nil {
		return nil, err
	}

	return &database, nil
}

// Triggers a synchronisation of the schema of a database. This returns before the synchronisation is done.
func SyncDatabaseSchema(ctx context.Context, api API, databaseId int) error {
	path, err := makePath("/api/database/%s/sync_schema", "id", databaseId)
	if err != nil {
		return err
	}

	resp, err := api.Post(ctx, path, nil)
	return CheckOK(resp, err, "sync database schema")
}

// Fetches the latest log entries of the Metabase server.
func ListLogs(ctx context.Context, api API) ([]LogEntry, error) {
	resp, err := api.Get(ctx, "/api/util/logs")
	if err := CheckOK(resp, err, "list logs"); err != nil {
		return nil, err
	}

	var entries []LogEntry
	if err := resp.DecodeJSON(&entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// Fetches the permissions graph for databases.
func GetPermissionsGraph(ctx context.Context, api API) (*PermissionsGraph, error) {
	resp, err := api.Get(ctx, "/api/permissions/graph")
	if err := CheckOK(resp, err, "get permissions graph"); err != nil {
		return nil, err
	}

	var graph PermissionsGraph
	if err := resp.DecodeJSON(&graph); err != nil {
		return nil, err
	}

	return &graph, nil
}

// Replaces the permissions graph for databases.
func ReplacePermissionsGraph(ctx context.Context, api API, graph PermissionsGraph) error {
	resp, err := api.Put(ctx, "/api/permissions/graph", graph)
	return CheckOK(resp, err, "update permissions graph")
}

// Fetches the permissions graph for collections.
func GetCollectionPermissionsGraph(ctx context.Context, api API) (*CollectionPermissionsGraph, error) {
	resp, err := api.Get(ctx, "/api/collection/graph")
	if err := CheckOK(resp, err, "read collection graph"); err != nil {
		return nil, err
	}

	var graph CollectionPermissionsGraph
	if err := resp.DecodeJSON(&graph); err != nil {
		return nil, err
	}

	return &graph, nil
}

// Replaces the permissions graph for collections.
func ReplaceCollectionPermissionsGraph(ctx context.Context, api API, graph CollectionPermissionsGraph) error {
	resp, err := api.Put(ctx, "/api/collection/graph", graph)
	return CheckOK(resp, err, "update collection graph")
}
