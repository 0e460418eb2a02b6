// Package export publishes snapshots of the session table to object storage.
package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/logging"
	"github.com/arkilian/sessionize/internal/storage"
)

// SnapshotExt is the extension of uploaded snapshots: a SQLite database,
// snappy framed.
const SnapshotExt = ".db.sz"

// Source produces consistent database copies.
type Source interface {
	Version(ctx context.Context) (int64, error)
	Snapshot(ctx context.Context, destPath string) error
}

// Result describes one published snapshot.
type Result struct {
	ObjectPath   string
	TableVersion int64
	Bytes        int64
	Pruned       []string
}

// Exporter snapshots the table, compresses the copy and uploads it under
// prefix, keeping at most retain snapshots (0 keeps all).
type Exporter struct {
	source  Source
	objects storage.ObjectStorage
	prefix  string
	workDir string
	retain  int
}

// New creates an exporter.
func New(source Source, objects storage.ObjectStorage, prefix, workDir string, retain int) *Exporter {
	return &Exporter{
		source:  source,
		objects: objects,
		prefix:  strings.Trim(prefix, "/"),
		workDir: workDir,
		retain:  retain,
	}
}

// ObjectPath returns the object path of the snapshot of a table version.
// Zero padding keeps lexical and version order identical.
func ObjectPath(prefix string, version int64) string {
	return path.Join(strings.Trim(prefix, "/"), fmt.Sprintf("sessions-v%012d%s", version, SnapshotExt))
}

// Export publishes a snapshot of the current table version. Re-exporting a
// version that is already published overwrites it.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	logger := logging.FromContext(ctx)

	version, err := e.source.Version(ctx)
	if err != nil {
		return nil, err
	}

	stage, err := os.MkdirTemp(e.workDir, "snapshot-*")
	if err != nil {
		return nil, serrors.NewInternalError("failed to create snapshot staging dir", err)
	}
	defer os.RemoveAll(stage)

	dbPath := filepath.Join(stage, "sessions.db")
	if err := e.source.Snapshot(ctx, dbPath); err != nil {
		return nil, err
	}

	szPath := dbPath + ".sz"
	size, err := compressFile(dbPath, szPath)
	if err != nil {
		return nil, serrors.NewInternalError("failed to compress snapshot", err)
	}

	objectPath := ObjectPath(e.prefix, version)
	if err := e.objects.Upload(ctx, szPath, objectPath); err != nil {
		return nil, serrors.NewStorageError(serrors.CodeUploadFailed,
			fmt.Sprintf("failed to upload snapshot %s", objectPath), err)
	}

	result := &Result{ObjectPath: objectPath, TableVersion: version, Bytes: size}
	result.Pruned, err = e.prune(ctx)
	if err != nil {
		// The snapshot is published; a failed prune only leaves extra objects.
		logger.Warnw("Failed to prune old snapshots", "prefix", e.prefix, "error", err)
	}

	logger.Infow("Exported table snapshot",
		"object", objectPath, "tableVersion", version, "bytes", size, "pruned", len(result.Pruned))
	return result, nil
}

// prune deletes the oldest snapshots beyond the retention count.
func (e *Exporter) prune(ctx context.Context) ([]string, error) {
	if e.retain <= 0 {
		return nil, nil
	}

	objects, err := e.objects.ListObjects(ctx, e.prefix)
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, o := range objects {
		if strings.HasSuffix(o, SnapshotExt) {
			snapshots = append(snapshots, o)
		}
	}
	if len(snapshots) <= e.retain {
		return nil, nil
	}

	// ListObjects is sorted, so the oldest versions come first.
	expired := snapshots[:len(snapshots)-e.retain]
	var deleted []string
	for _, o := range expired {
		if err := e.objects.Delete(ctx, o); err != nil {
			return deleted, err
		}
		deleted = append(deleted, o)
	}
	return deleted, nil
}

// compressFile writes a snappy framed copy of src to dst and returns the
// compressed size.
func compressFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	w := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(w, bufio.NewReader(in)); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	info, err := out.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Restore downloads a published snapshot and decompresses it to destPath.
func Restore(ctx context.Context, objects storage.ObjectStorage, objectPath, destPath string) error {
	tmp := destPath + ".sz.tmp"
	defer os.Remove(tmp)

	if err := objects.Download(ctx, objectPath, tmp); err != nil {
		code := serrors.CodeDownloadFailed
		if errors.Is(err, storage.ErrObjectNotFound) {
			code = serrors.CodeObjectNotFound
		}
		return serrors.NewStorageError(code, fmt.Sprintf("failed to download snapshot %s", objectPath), err)
	}

	in, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, snappy.NewReader(bufio.NewReader(in))); err != nil {
		out.Close()
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return out.Close()
}
