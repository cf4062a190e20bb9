package store

import "sort"

// EntityType describes one synchronizable table: its wire name, the backing
// table, the domain columns a client may set, and which of those must be
// present on create. The sync columns (id, created_at, updated_at,
// deleted_at, version) are implicit on every table and owned by the store.
type EntityType struct {
	Name     string
	Table    string
	Columns  []string
	Required []string
}

// entityTypes mirrors the desktop schema's synchronizable tables. The wire
// name doubles as the entity_type value in push/pull batches and sync_log.
var entityTypes = map[string]EntityType{
	"storyline": {
		Name:     "storyline",
		Table:    "storyline",
		Columns:  []string{"name", "description"},
		Required: []string{"name"},
	},
	"actor": {
		Name:     "actor",
		Table:    "actor",
		Columns:  []string{"first_name", "last_name", "title", "notes"},
		Required: []string{"first_name"},
	},
	"location": {
		Name:     "location",
		Table:    "location",
		Columns:  []string{"name", "description", "location_type"},
		Required: []string{"name"},
	},
	"faction": {
		Name:     "faction",
		Table:    "faction",
		Columns:  []string{"name", "description"},
		Required: []string{"name"},
	},
	"litography_node": {
		Name:     "litography_node",
		Table:    "litography_node",
		Columns:  []string{"node_type", "x_position", "y_position", "storyline_id"},
		Required: []string{"node_type"},
	},
	"node_connection": {
		Name:     "node_connection",
		Table:    "node_connection",
		Columns:  []string{"output_node_id", "input_node_id"},
		Required: []string{"output_node_id", "input_node_id"},
	},
}

// LookupEntityType resolves a wire entity_type name.
func LookupEntityType(name string) (EntityType, bool) {
	et, ok := entityTypes[name]
	return et, ok
}

// EntityTypeNames returns all registered type names in a stable order, so
// pull batches are deterministic.
func EntityTypeNames() []string {
	names := make([]string, 0, len(entityTypes))
	for name := range entityTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (et EntityType) hasColumn(name string) bool {
	for _, c := range et.Columns {
		if c == name {
			return true
		}
	}
	return false
}
