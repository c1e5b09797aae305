package permissions

// The country whose group can read the sector collections.
const sectorReaderCountry = "eu"

// The resources provisioned for a single country.
type Country struct {
	Code       string // The country code, in lowercase.
	Group      int    // The ID of the country permissions group.
	Database   int    // The ID of the country database. Zero when the global database is shared.
	Collection int    // The ID of the country collection. Zero when the global collection is shared.
}

// Returns the updates restricting each country database and collection to its own group and the global group.
// Every country group is explicitly denied access to the other countries' resources, and the catch-all group is denied
// access to all of them.
func CountryPolicy(allUsersGroup int, globalGroup int, countries []Country) (databases Updates, collections Updates) {
	databases = make(Updates)
	collections = make(Updates)

	for _, c := range countries {
		databases.Set(allUsersGroup, c.Database, SchemaAccess(false))
		databases.Set(globalGroup, c.Database, SchemaAccess(true))
		collections.Set(allUsersGroup, c.Collection, None)
		collections.Set(globalGroup, c.Collection, Read)

		for _, other := range countries {
			if other.Group == c.Group {
				continue
			}
			databases.Set(c.Group, other.Database, SchemaAccess(false))
			collections.Set(c.Group, other.Collection, None)
		}

		databases.Set(c.Group, c.Database, SchemaAccess(true))
		collections.Set(c.Group, c.Collection, Read)
	}

	return databases, collections
}

// The resources shared by all countries when statistics are global.
type Global struct {
	Database          int   // The ID of the global database.
	Collection        int   // The ID of the global collection.
	SectorCollections []int // The IDs of the sector collections.
}

// Returns the updates granting access to the global database and collection to the global group and every country
// group. Sector collections are only readable by the global group and the European country group.
func GlobalPolicy(allUsersGroup int, globalGroup int, global Global, countries []Country) (databases Updates, collections Updates) {
	databases = make(Updates)
	collections = make(Updates)

	databases.Set(allUsersGroup, global.Database, SchemaAccess(false))
	databases.Set(globalGroup, global.Database, SchemaAccess(true))

	collections.Set(allUsersGroup, global.Collection, None)
	collections.Set(globalGroup, global.Collection, Read)
	for _, s := range global.SectorCollections {
		collections.Set(allUsersGroup, s, None)
		collections.Set(globalGroup, s, Read)
	}

	for _, c := range countries {
		databases.Set(c.Group, global.Database, SchemaAccess(true))
		collections.Set(c.Group, global.Collection, Read)

		if c.Code == sectorReaderCountry {
			for _, s := range global.SectorCollections {
				collections.Set(c.Group, s, Read)
			}
		}
	}

	return databases, collections
}
