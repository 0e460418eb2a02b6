package types

// Schema defines the structure of the persisted session table.
type Schema struct {
	// Version tracks schema evolution for backward compatibility
	Version int `json:"version"`
	// Columns defines the columns in the schema
	Columns []ColumnDef `json:"columns"`
	// Indexes defines the indexes to create on the table
	Indexes []IndexDef `json:"indexes"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`
	// Type is the SQLite type: TEXT, INTEGER
	Type string `json:"type"`
	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`
	// PrimaryKey indicates whether this column is part of the primary key
	PrimaryKey bool `json:"primary_key"`
}

// IndexDef defines an index on the table.
type IndexDef struct {
	// Name is the index name
	Name string `json:"name"`
	// Columns lists the columns included in the index
	Columns []string `json:"columns"`
	// Unique indicates whether the index enforces uniqueness
	Unique bool `json:"unique"`
}

// SessionSchema returns the schema of the session table. The natural key
// forms the primary key; partition_date is the logical partition column.
// ts and session_start hold Unix microseconds.
func SessionSchema() Schema {
	return Schema{
		Version: 2,
		Columns: []ColumnDef{
			{Name: "user_id", Type: "TEXT", PrimaryKey: true},
			{Name: "event_id", Type: "TEXT", PrimaryKey: true},
			{Name: "product_code", Type: "TEXT", PrimaryKey: true},
			{Name: "ts", Type: "INTEGER", PrimaryKey: true},
			{Name: "session_start", Type: "INTEGER", Nullable: true},
			{Name: "session_id", Type: "TEXT", Nullable: true},
			{Name: "partition_date", Type: "TEXT"},
		},
		Indexes: []IndexDef{
			{Name: "idx_sessions_partition_date", Columns: []string{"partition_date"}},
			{Name: "idx_sessions_pair_date", Columns: []string{"user_id", "product_code", "partition_date"}},
		},
	}
}
