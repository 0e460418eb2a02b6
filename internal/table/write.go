package table

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/reconcile"
	"github.com/arkilian/sessionize/pkg/types"
)

// CommitResult reports what a committed write did.
type CommitResult struct {
	Inserted     int
	Updated      int
	Unchanged    int
	Deleted      int
	Skipped      int
	TableVersion int64
}

// Overwrite replaces the contents of every partition_date in [min, max] of
// rows with rows, creating the sessions table if needed. It is destructive
// for that range and intended for bootstrap loads only. The whole operation
// is one transaction.
func (s *Store) Overwrite(ctx context.Context, rows []types.SessionRow, run RunInfo) (*CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, stmt := range CreateSessionsSQL(types.SessionSchema()) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to create sessions table", err)
		}
	}

	result := &CommitResult{}
	if len(rows) > 0 {
		minDate, maxDate := rows[0].PartitionDate, rows[0].PartitionDate
		for _, r := range rows {
			if r.PartitionDate < minDate {
				minDate = r.PartitionDate
			}
			if r.PartitionDate > maxDate {
				maxDate = r.PartitionDate
			}
		}

		res, err := tx.ExecContext(ctx,
			"DELETE FROM sessions WHERE partition_date >= ? AND partition_date <= ?", minDate, maxDate)
		if err != nil {
			return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to clear partitions", err)
		}
		deleted, _ := res.RowsAffected()
		result.Deleted = int(deleted)

		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to prepare insert", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, rowArgs(r)...); err != nil {
				return nil, wrapSQLError(serrors.CodeMergeFailed, fmt.Sprintf("failed to insert %s", r.Key()), err)
			}
		}
		result.Inserted = len(rows)
	}

	if err := s.commit(ctx, tx, run, len(rows), result); err != nil {
		return nil, err
	}
	return result, nil
}

const insertSQL = "INSERT INTO sessions (" + rowColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?)"

// Merge applies candidates to the table in one transaction. A candidate
// matches a persisted row on its natural key when the persisted row's
// partition_date equals the candidate's and is not before floor; the
// reconcile rule then decides between no-op, update and insert. Persisted
// rows dated before floor are never updated: a candidate dated before floor
// is inserted only when its natural key is absent from the table, otherwise
// it is skipped.
func (s *Store) Merge(ctx context.Context, candidates []types.SessionRow, floor string, run RunInfo) (*CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	ok, err := tableExists(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, serrors.NewTableError(serrors.CodeTableNotFound,
			fmt.Sprintf("table %q does not exist in %s (run an initial load first)", SessionsTable, s.dbPath), nil)
	}

	existsStmt, err := tx.PrepareContext(ctx, `SELECT 1 FROM sessions
		WHERE user_id = ? AND event_id = ? AND product_code = ? AND ts = ?`)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to prepare existence query", err)
	}
	defer existsStmt.Close()

	inScope := make([]types.SessionRow, 0, len(candidates))
	var late []types.SessionRow
	skipped := 0
	for _, c := range candidates {
		if c.PartitionDate >= floor {
			inScope = append(inScope, c)
			continue
		}
		var one int
		err := existsStmt.QueryRowContext(ctx, c.UserID, c.EventID, c.ProductCode, c.Timestamp.UnixMicro()).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			late = append(late, c)
		case err != nil:
			return nil, wrapSQLError(serrors.CodeMergeFailed, fmt.Sprintf("failed to look up %s", c.Key()), err)
		default:
			skipped++
		}
	}

	selectStmt, err := tx.PrepareContext(ctx, "SELECT "+rowColumns+` FROM sessions
		WHERE user_id = ? AND event_id = ? AND product_code = ? AND ts = ?
		  AND partition_date = ? AND partition_date >= ?`)
	if err != nil {
		return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to prepare match query", err)
	}
	defer selectStmt.Close()

	plan, err := reconcile.BuildPlan(inScope, func(c types.SessionRow) (*types.SessionRow, error) {
		existing, err := scanRow(selectStmt.QueryRowContext(ctx,
			c.UserID, c.EventID, c.ProductCode, c.Timestamp.UnixMicro(), c.PartitionDate, floor))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &existing, nil
	})
	if err != nil {
		return nil, err
	}

	if len(plan.Updates) > 0 {
		updateStmt, err := tx.PrepareContext(ctx, `UPDATE sessions SET session_start = ?, session_id = ?
			WHERE user_id = ? AND event_id = ? AND product_code = ? AND ts = ?`)
		if err != nil {
			return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to prepare update", err)
		}
		defer updateStmt.Close()

		for _, r := range plan.Updates {
			args := rowArgs(r)
			if _, err := updateStmt.ExecContext(ctx, args[4], args[5], args[0], args[1], args[2], args[3]); err != nil {
				return nil, wrapSQLError(serrors.CodeMergeFailed, fmt.Sprintf("failed to update %s", r.Key()), err)
			}
		}
	}

	inserts := append(plan.Inserts, late...)
	if len(inserts) > 0 {
		insertStmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return nil, wrapSQLError(serrors.CodeMergeFailed, "failed to prepare insert", err)
		}
		defer insertStmt.Close()

		for _, r := range inserts {
			if _, err := insertStmt.ExecContext(ctx, rowArgs(r)...); err != nil {
				return nil, wrapSQLError(serrors.CodeMergeFailed, fmt.Sprintf("failed to insert %s", r.Key()), err)
			}
		}
	}

	result := &CommitResult{
		Inserted:  len(inserts),
		Updated:   len(plan.Updates),
		Unchanged: plan.NoOps,
		Skipped:   skipped,
	}
	if err := s.commit(ctx, tx, run, len(candidates), result); err != nil {
		return nil, err
	}
	return result, nil
}

// commit bumps the table version, records the run, and commits tx.
func (s *Store) commit(ctx context.Context, tx *sql.Tx, run RunInfo, candidates int, result *CommitResult) error {
	version, err := bumpVersion(ctx, tx)
	if err != nil {
		return err
	}
	result.TableVersion = version

	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, process_date, mode, candidates, inserted, updated, unchanged, skipped,
		                  table_version, started_at, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ProcessDate, run.Mode, candidates, result.Inserted, result.Updated,
		result.Unchanged, result.Skipped, version, started.Unix(), time.Now().Unix(),
	); err != nil {
		return wrapSQLError(serrors.CodeMergeFailed, "failed to record run", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapSQLError(serrors.CodeMergeFailed, "failed to commit", err)
	}
	return nil
}
