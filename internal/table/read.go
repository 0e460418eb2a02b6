package table

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/pkg/types"
)

const rowColumns = "user_id, event_id, product_code, ts, session_start, session_id, partition_date"

// WindowQuery selects the historical rows pulled back into an incremental run.
type WindowQuery struct {
	// From is the first partition_date read in full (inclusive, no upper bound).
	From string
	// ActionDay is a partition_date from which only action events are read.
	// Empty disables it.
	ActionDay string
	// ActionEvents is the action event set used for ActionDay.
	ActionEvents []string
	// Pairs restricts the result to these (user_id, product_code) pairs.
	// An empty slice yields no rows.
	Pairs []types.PartitionKey
}

// ReadWindow returns persisted rows in the window for the affected pairs.
// The pair restriction is an inner join against a temporary table, read in
// one transaction so it sees a single committed version.
func (s *Store) ReadWindow(ctx context.Context, q WindowQuery) ([]types.SessionRow, error) {
	if len(q.Pairs) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeReadFailed, "failed to begin read transaction", err)
	}
	// Rollback discards the temp table contents.
	defer tx.Rollback()

	ok, err := tableExists(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, serrors.NewTableError(serrors.CodeTableNotFound,
			fmt.Sprintf("table %q does not exist in %s", SessionsTable, s.dbPath), nil)
	}

	if err := loadPairs(ctx, tx, q.Pairs); err != nil {
		return nil, err
	}

	where := "s.partition_date >= ?"
	args := []interface{}{q.From}
	if q.ActionDay != "" && len(q.ActionEvents) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.ActionEvents)), ", ")
		where = fmt.Sprintf("(%s OR (s.partition_date = ? AND s.event_id IN (%s)))", where, placeholders)
		args = append(args, q.ActionDay)
		for _, id := range q.ActionEvents {
			args = append(args, id)
		}
	}

	query := `
		SELECT s.user_id, s.event_id, s.product_code, s.ts, s.session_start, s.session_id, s.partition_date
		FROM sessions s
		JOIN temp.affected_pairs p ON p.user_id = s.user_id AND p.product_code = s.product_code
		WHERE ` + where
	query += " ORDER BY s.user_id, s.product_code, s.ts, s.event_id"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeReadFailed, "failed to read history window", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func loadPairs(ctx context.Context, tx *sql.Tx, pairs []types.PartitionKey) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS affected_pairs (
			user_id TEXT NOT NULL,
			product_code TEXT NOT NULL,
			PRIMARY KEY (user_id, product_code)
		)`); err != nil {
		return wrapSQLError(serrors.CodeReadFailed, "failed to create affected pairs table", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM temp.affected_pairs"); err != nil {
		return wrapSQLError(serrors.CodeReadFailed, "failed to reset affected pairs", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO temp.affected_pairs (user_id, product_code) VALUES (?, ?)")
	if err != nil {
		return wrapSQLError(serrors.CodeReadFailed, "failed to prepare pair insert", err)
	}
	defer stmt.Close()

	for _, p := range pairs {
		if _, err := stmt.ExecContext(ctx, p.UserID, p.ProductCode); err != nil {
			return wrapSQLError(serrors.CodeReadFailed, "failed to load affected pair", err)
		}
	}
	return nil
}

func scanRows(rows *sql.Rows) ([]types.SessionRow, error) {
	var out []types.SessionRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQLError(serrors.CodeReadFailed, "failed to iterate rows", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(sc scanner) (types.SessionRow, error) {
	var (
		r     types.SessionRow
		ts    int64
		start sql.NullInt64
		id    sql.NullString
	)
	if err := sc.Scan(&r.UserID, &r.EventID, &r.ProductCode, &ts, &start, &id, &r.PartitionDate); err != nil {
		return types.SessionRow{}, wrapSQLError(serrors.CodeReadFailed, "failed to scan row", err)
	}
	r.Timestamp = time.UnixMicro(ts).UTC()
	if start.Valid {
		st := time.UnixMicro(start.Int64).UTC()
		r.SessionStart = &st
	}
	if id.Valid {
		sid := id.String
		r.SessionID = &sid
	}
	return r, nil
}

// rowArgs returns the column values of a row in rowColumns order.
func rowArgs(r types.SessionRow) []interface{} {
	var start, id interface{}
	if r.SessionStart != nil {
		start = r.SessionStart.UnixMicro()
	}
	if r.SessionID != nil {
		id = *r.SessionID
	}
	return []interface{}{r.UserID, r.EventID, r.ProductCode, r.Timestamp.UnixMicro(), start, id, r.PartitionDate}
}
