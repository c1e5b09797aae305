package metabase

// The name of the group every user belongs to. Group names are compared case-insensitively.
const AllUsersPermissionsGroupName = "All Users"

// The names of the sample database shipped with Metabase, depending on the version.
var SampleDatabaseNames = []string{"Sample Dataset", "Sample Database"}

// The names of the literals in an array, indicating a reference to a `Field` object.
// `field-id` is used by older versions of the query language.
const (
	FieldLiteral   = "field"
	FieldIdLiteral = "field-id"
)

// Attributes of a card (and its dataset query) referencing other objects.
const (
	SourceTableAttribute           = "source-table"
	BreakoutAttribute              = "breakout"
	FilterAttribute                = "filter"
	QueryAttribute                 = "query"
	DatasetQueryAttribute          = "dataset_query"
	DatabaseAttribute              = "database"
	DatabaseIdAttribute            = "database_id"
	CollectionIdAttribute          = "collection_id"
	VisualizationSettingsAttribute = "visualization_settings"
)

// Attributes of a card that are read-only or specific to the instance it was fetched from. They are removed when a
// card is copied.
var NonDefiningCardAttributes = []string{
	"id",
	"entity_id",
	"created_at",
	"updated_at",
	"creator_id",
	"creator",
	"made_public_by_id",
	"public_uuid",
	"last-edit-info",
	"table_id",
	"can_write",
	"dashboard_count",
	"collection",
}
