// Package table provides the persisted session table: a SQLite database
// holding one row per event, logically partitioned by partition_date, with
// an atomic conditional merge and a version bumped on every commit.
package table

import (
	"fmt"
	"strings"

	"github.com/arkilian/sessionize/pkg/types"
)

// SessionsTable is the name of the session table.
const SessionsTable = "sessions"

// CreateTableMetaSQL creates the key/value table holding the table version.
const CreateTableMetaSQL = `
CREATE TABLE IF NOT EXISTS table_meta (
    key TEXT PRIMARY KEY,
    value INTEGER NOT NULL
)`

// CreateRunsTableSQL creates the run history table. One row is written in
// the same transaction as each committed load.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    process_date TEXT NOT NULL,
    mode TEXT NOT NULL,
    candidates INTEGER NOT NULL,
    inserted INTEGER NOT NULL,
    updated INTEGER NOT NULL,
    unchanged INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    table_version INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    committed_at INTEGER NOT NULL
)`

// CreateRunsIndexSQL indexes run history by process date.
const CreateRunsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_runs_process_date ON runs(process_date)`

// metaSchemaSQL returns the statements run on every open. The sessions table
// itself is only created by an initial load.
func metaSchemaSQL() []string {
	return []string{CreateTableMetaSQL, CreateRunsTableSQL, CreateRunsIndexSQL}
}

// CreateSessionsSQL renders the CREATE TABLE and CREATE INDEX statements for
// the sessions table from its schema.
func CreateSessionsSQL(schema types.Schema) []string {
	var cols, pk []string
	for _, c := range schema.Columns {
		def := fmt.Sprintf("    %s %s", c.Name, c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
		if c.PrimaryKey {
			pk = append(pk, c.Name)
		}
	}
	cols = append(cols, fmt.Sprintf("    PRIMARY KEY (%s)", strings.Join(pk, ", ")))

	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n) WITHOUT ROWID",
		SessionsTable, strings.Join(cols, ",\n"))}

	for _, idx := range schema.Indexes {
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)",
			unique, idx.Name, SessionsTable, strings.Join(idx.Columns, ", ")))
	}
	return stmts
}
