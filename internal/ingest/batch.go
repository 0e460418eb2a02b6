package ingest

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
	"github.com/arkilian/sessionize/pkg/types"
)

// Batch file extensions, in lookup order.
const (
	ExtSnappyCSV = ".csv.sz"
	ExtCSV       = ".csv"
)

// BatchPaths returns the candidate object paths of the raw batch for
// processDate under prefix.
func BatchPaths(prefix, processDate string) []string {
	base := path.Join(strings.Trim(prefix, "/"), processDate)
	return []string{base + ExtSnappyCSV, base + ExtCSV}
}

// Loader fetches raw batches from object storage.
type Loader struct {
	store   storage.ObjectStorage
	prefix  string
	workDir string
}

// NewLoader creates a loader reading batches under prefix. Downloaded files
// are staged in workDir (os.TempDir when empty) and removed after parsing.
func NewLoader(store storage.ObjectStorage, prefix, workDir string) *Loader {
	return &Loader{store: store, prefix: prefix, workDir: workDir}
}

// Load returns the events of the raw batch for processDate. A missing batch
// is a non-retryable OBJECT_NOT_FOUND error.
func (l *Loader) Load(ctx context.Context, processDate string) ([]types.Event, error) {
	logger := logging.FromContext(ctx)

	for _, objectPath := range BatchPaths(l.prefix, processDate) {
		exists, err := l.store.Exists(ctx, objectPath)
		if err != nil {
			return nil, serrors.NewStorageError(serrors.CodeDownloadFailed,
				fmt.Sprintf("failed to stat raw batch %s", objectPath), err)
		}
		if !exists {
			continue
		}

		events, err := l.fetch(ctx, objectPath)
		if err != nil {
			return nil, err
		}
		logger.Infow("Loaded raw batch", "object", objectPath, "events", len(events))
		return events, nil
	}

	return nil, serrors.NewStorageError(serrors.CodeObjectNotFound,
		fmt.Sprintf("no raw batch for %s under %q", processDate, l.prefix), storage.ErrObjectNotFound)
}

func (l *Loader) fetch(ctx context.Context, objectPath string) ([]types.Event, error) {
	tmp, err := os.CreateTemp(l.workDir, "batch-*"+path.Ext(objectPath))
	if err != nil {
		return nil, serrors.NewInternalError("failed to create staging file", err)
	}
	localPath := tmp.Name()
	tmp.Close()
	defer os.Remove(localPath)

	if err := l.store.Download(ctx, objectPath, localPath); err != nil {
		code := serrors.CodeDownloadFailed
		if errors.Is(err, storage.ErrObjectNotFound) {
			code = serrors.CodeObjectNotFound
		}
		return nil, serrors.NewStorageError(code, fmt.Sprintf("failed to download raw batch %s", objectPath), err)
	}

	return ReadFile(localPath)
}

// ReadFile parses a local batch file, decoding snappy framing when the name
// ends in .sz.
func ReadFile(localPath string) ([]types.Event, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, serrors.NewStorageError(serrors.CodeObjectNotFound,
			fmt.Sprintf("failed to open batch %s", localPath), err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if filepath.Ext(localPath) == ".sz" {
		r = snappy.NewReader(r)
	}
	return ReadCSV(r)
}

// WriteFile writes events as a batch file, snappy framed when the name ends
// in .sz. Used to stage batches for upload.
func WriteFile(localPath string, events []types.Event) (err error) {
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if filepath.Ext(localPath) == ".sz" {
		sw := snappy.NewBufferedWriter(f)
		defer func() {
			if cerr := sw.Close(); err == nil {
				err = cerr
			}
		}()
		w = sw
	}
	return WriteCSV(w, events)
}
