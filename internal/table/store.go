package table

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/pkg/types"
	"github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed session table.
type Store struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (snapshot readers)
	dbPath string
	mu     sync.Mutex // Serializes writers within the process
}

// RunInfo describes the run committing a write.
type RunInfo struct {
	RunID       string
	ProcessDate string
	Mode        string
	StartedAt   time.Time
}

// RunRecord is one row of run history.
type RunRecord struct {
	RunInfo
	Candidates   int
	Inserted     int
	Updated      int
	Unchanged    int
	Skipped      int
	TableVersion int64
	CommittedAt  time.Time
}

// Open opens (creating if needed) the database at dbPath. The sessions table
// is not created here; Exists reports whether an initial load has happened.
func Open(dbPath string) (*Store, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("table: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range metaSchemaSQL() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("table: failed to initialize schema: %w", err)
		}
	}

	// Read connection pool: WAL readers see the last committed state only
	readDB, err := sql.Open("sqlite3", "file:"+dbPath+"?_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("table: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, readDB: readDB, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes both connections.
func (s *Store) Close() error {
	rerr := s.readDB.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// Exists reports whether the sessions table has been created.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	return tableExists(ctx, s.readDB)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func tableExists(ctx context.Context, q queryer) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", SessionsTable,
	).Scan(&n)
	if err != nil {
		return false, wrapSQLError(serrors.CodeReadFailed, "failed to check table existence", err)
	}
	return n > 0, nil
}

// Version returns the committed table version (0 before the first commit).
func (s *Store) Version(ctx context.Context) (int64, error) {
	return readVersion(ctx, s.readDB)
}

func readVersion(ctx context.Context, q queryer) (int64, error) {
	var v int64
	err := q.QueryRowContext(ctx, "SELECT value FROM table_meta WHERE key = 'version'").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapSQLError(serrors.CodeReadFailed, "failed to read table version", err)
	}
	return v, nil
}

// bumpVersion increments the table version inside tx and returns the new value.
func bumpVersion(ctx context.Context, tx *sql.Tx) (int64, error) {
	current, err := readVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO table_meta (key, value) VALUES ('version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		next,
	); err != nil {
		return 0, wrapSQLError(serrors.CodeMergeFailed, "failed to bump table version", err)
	}
	return next, nil
}

// Scan returns persisted rows ordered by (user_id, product_code, timestamp).
// A limit <= 0 returns every row.
func (s *Store) Scan(ctx context.Context, limit int) ([]types.SessionRow, error) {
	if err := s.requireTable(ctx); err != nil {
		return nil, err
	}

	query := "SELECT " + rowColumns + " FROM sessions ORDER BY user_id, product_code, ts, event_id"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeReadFailed, "failed to scan sessions", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Runs returns the most recent run history entries, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT run_id, process_date, mode, candidates, inserted, updated, unchanged, skipped,
		       table_version, started_at, committed_at
		FROM runs ORDER BY table_version DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeReadFailed, "failed to read run history", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, committed int64
		if err := rows.Scan(&r.RunID, &r.ProcessDate, &r.Mode, &r.Candidates, &r.Inserted, &r.Updated,
			&r.Unchanged, &r.Skipped, &r.TableVersion, &started, &committed); err != nil {
			return nil, wrapSQLError(serrors.CodeReadFailed, "failed to scan run record", err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		r.CommittedAt = time.Unix(committed, 0).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLError(serrors.CodeReadFailed, "failed to iterate run history", err)
	}
	return records, nil
}

func (s *Store) requireTable(ctx context.Context) error {
	ok, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return serrors.NewTableError(serrors.CodeTableNotFound,
			fmt.Sprintf("table %q does not exist in %s (run an initial load first)", SessionsTable, s.dbPath), nil)
	}
	return nil
}

// wrapSQLError maps SQLite lock contention to a retryable error and
// everything else to the given code.
func wrapSQLError(code, message string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return serrors.NewTableError(serrors.CodeTableBusy, message, err)
	}
	return serrors.NewTableError(code, message, err)
}
