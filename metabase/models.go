package metabase

import (
	"encoding/json"
)

// A permissions group, to which users belong.
type PermissionsGroup struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

// The connection details of a database. Only the attributes set by the provisioner are modelled.
type DatabaseDetails struct {
	DbName   string `json:"dbname,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// A database connected to Metabase.
type Database struct {
	Id      int             `json:"id"`
	Name    string          `json:"name"`
	Engine  string          `json:"engine,omitempty"`
	Details DatabaseDetails `json:"details"`
	Tables  []Table         `json:"tables,omitempty"`
}

// The response when listing databases. Recent Metabase versions wrap the list in a `data` attribute.
type DatabaseList struct {
	Data []Database `json:"data"`
}

// Parses a list of databases, accepting both the bare array and the wrapped formats.
func ParseDatabaseList(body []byte) ([]Database, error) {
	var databases []Database
	if err := json.Unmarshal(body, &databases); err == nil {
		return databases, nil
	}

	var list DatabaseList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}

	return list.Data, nil
}

// A table in a database, as returned when including tables and fields in the database response.
type Table struct {
	Id     int     `json:"id"`
	DbId   int     `json:"db_id"`
	Name   string  `json:"name"`
	Schema *string `json:"schema,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

// A field (column) in a table.
type Field struct {
	Id      int    `json:"id"`
	Name    string `json:"name"`
	TableId int    `json:"table_id"`
}

// A collection. The ID is usually an integer, except for the `root` collection.
type Collection struct {
	Id    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Color string          `json:"color,omitempty"`
}

// Returns the integer ID of the collection, or `false` if the ID is not an integer (e.g. the `root` collection).
func (c Collection) IntId() (int, bool) {
	var id int
	if err := json.Unmarshal(c.Id, &id); err != nil {
		return 0, false
	}
	return id, true
}

// A dashboard, as returned when getting a single dashboard.
type Dashboard struct {
	Id                 int             `json:"id"`
	Name               string          `json:"name"`
	Description        *string         `json:"description,omitempty"`
	CollectionId       *int            `json:"collection_id"`
	CollectionPosition *int            `json:"collection_position"`
	Dashcards          []DashboardCard `json:"dashcards,omitempty"`
	OrderedCards       []DashboardCard `json:"ordered_cards,omitempty"`
}

// Returns the cards placed on the dashboard. Older Metabase versions name them `ordered_cards`.
func (d Dashboard) Cards() []DashboardCard {
	if len(d.Dashcards) > 0 {
		return d.Dashcards
	}
	return d.OrderedCards
}

// A card placed on a dashboard.
type DashboardCard struct {
	Id                    int             `json:"id,omitempty"`
	CardId                *int            `json:"card_id,omitempty"`
	Card                  json.RawMessage `json:"card,omitempty"`
	Col                   int             `json:"col"`
	Row                   int             `json:"row"`
	SizeX                 int             `json:"size_x"`
	SizeY                 int             `json:"size_y"`
	Series                []Card          `json:"series,omitempty"`
	VisualizationSettings map[string]any  `json:"visualization_settings,omitempty"`
}

// The body sent to attach a card to a dashboard.
type AddDashboardCardBody struct {
	CardId                *int           `json:"cardId"`
	Col                   int            `json:"col"`
	Row                   int            `json:"row"`
	SizeX                 int            `json:"sizeX"`
	SizeY                 int            `json:"sizeY"`
	Series                []SeriesCard   `json:"series,omitempty"`
	ParameterMappings     []any          `json:"parameter_mappings,omitempty"`
	VisualizationSettings map[string]any `json:"visualization_settings,omitempty"`
}

// A reference to a card displayed as an additional series on a dashboard card.
type SeriesCard struct {
	Id int `json:"id"`
}

// A card (question). Only the identifying attributes are typed, the definition itself is kept as raw JSON.
type Card struct {
	Id           int    `json:"id"`
	Name         string `json:"name"`
	CollectionId *int   `json:"collection_id,omitempty"`
}

// A user account.
type User struct {
	Id        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// The body sent to create or update a user.
type UserBody struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	GroupIds  []int  `json:"group_ids"`
}

// The response when listing users. Recent Metabase versions wrap the list in a `data` attribute.
type UserList struct {
	Data []User `json:"data"`
}

// A single entry returned by the logs utility endpoint.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Fqns      string `json:"fqns"`
	Msg       string `json:"msg"`
}

// The graph of permissions between groups and databases.
// Values are kept untyped such that permissions set outside of the provisioner are sent back unchanged.
type PermissionsGraph struct {
	Revision int                       `json:"revision"`
	Groups   map[string]map[string]any `json:"groups"`
}

// The graph of permissions between groups and collections.
type CollectionPermissionsGraph struct {
	Revision int                       `json:"revision"`
	Groups   map[string]map[string]any `json:"groups"`
}

// The LDAP settings, as expected by the LDAP settings endpoint.
type LdapSettings struct {
	Enabled            bool   `json:"ldap-enabled"`
	Host               string `json:"ldap-host"`
	Port               string `json:"ldap-port"`
	BindDn             string `json:"ldap-bind-dn"`
	Password           string `json:"ldap-password"`
	UserBase           string `json:"ldap-user-base"`
	UserFilter         string `json:"ldap-user-filter,omitempty"`
	AttributeFirstname string `json:"ldap-attribute-firstname,omitempty"`
	GroupSync          bool   `json:"ldap-group-sync"`
	GroupBase          string `json:"ldap-group-base"`
}

// The body sent to update a single setting.
type SettingBody struct {
	Value any `json:"value"`
}

// The attributes returned by the API when an object is created or fetched, used to read its ID.
type identifiedObject struct {
	Id *int `json:"id"`
}

// Reads the ID of the object returned in the response.
func ParseId(r *Response) (int, error) {
	var obj identifiedObject
	if err := r.DecodeJSON(&obj); err != nil {
		return 0, err
	}
	if obj.Id == nil {
		return 0, ErrUnexpectedResponse
	}
	return *obj.Id, nil
}
