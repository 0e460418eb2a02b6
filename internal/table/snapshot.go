package table

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	serrors "github.com/arkilian/sessionize/internal/errors"
)

// Snapshot writes a consistent copy of the committed database to destPath
// using VACUUM INTO. destPath must not exist.
func (s *Store) Snapshot(ctx context.Context, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("table: failed to create snapshot directory: %w", err)
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("table: snapshot destination %s already exists", destPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quoted := "'" + strings.ReplaceAll(destPath, "'", "''") + "'"
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return wrapSQLError(serrors.CodeReadFailed, "failed to write snapshot", err)
	}
	return nil
}
