// Package app assembles the job's components from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/arkilian/sessionize/internal/config"
	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/export"
	"github.com/arkilian/sessionize/internal/ingest"
	"github.com/arkilian/sessionize/internal/orchestrator"
	"github.com/arkilian/sessionize/internal/sessionizer"
	"github.com/arkilian/sessionize/internal/storage"
	"github.com/arkilian/sessionize/internal/table"
	"github.com/arkilian/sessionize/pkg/types"
)

// App owns the shared resources of one CLI invocation.
type App struct {
	cfg *config.Config

	storage     storage.ObjectStorage
	table       *table.Store
	sessionizer *sessionizer.Sessionizer
	loader      *ingest.Loader
	exporter    *export.Exporter
}

// New resolves and validates cfg, creates local directories and opens the
// object storage and the session table.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	objects, err := NewStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	workers := cfg.Session.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sess, err := sessionizer.New(
		sessionizer.WithTimeout(cfg.Session.Timeout),
		sessionizer.WithActionEvents(cfg.Session.ActionEvents...),
		sessionizer.WithWorkers(workers),
	)
	if err != nil {
		return nil, err
	}

	store, err := table.Open(cfg.TablePath)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:         cfg,
		storage:     objects,
		table:       store,
		sessionizer: sess,
		loader:      ingest.NewLoader(objects, cfg.Ingest.RawPrefix, cfg.WorkDir),
		exporter:    export.New(store, objects, cfg.Export.Prefix, cfg.WorkDir, cfg.Export.Retain),
	}, nil
}

// NewStorage creates the object storage described by cfg.
func NewStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// Config returns the effective configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Table returns the session table.
func (a *App) Table() *table.Store {
	return a.table
}

// Storage returns the object storage.
func (a *App) Storage() storage.ObjectStorage {
	return a.storage
}

// Sessionizer returns the configured sessionizer.
func (a *App) Sessionizer() *sessionizer.Sessionizer {
	return a.sessionizer
}

// Exporter returns the snapshot exporter.
func (a *App) Exporter() *export.Exporter {
	return a.exporter
}

// Orchestrator builds the run orchestrator, exporting after each run when
// export.after_run is set.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithLookback(orchestrator.Lookback{
			FullDays:           a.cfg.Lookback.FullDays,
			ActionOnlyDaysBack: a.cfg.Lookback.ActionOnlyDaysBack,
			MergeFloorDays:     a.cfg.Lookback.MergeFloorDays,
		}),
	}
	if a.cfg.Export.AfterRun {
		opts = append(opts, orchestrator.WithExporter(a.exporter))
	}
	return orchestrator.New(a.loader, a.table, a.sessionizer, opts...)
}

// Stage validates a local batch file and uploads it as the raw batch of
// processDate, snappy framed when compress is set. It returns the object path.
func (a *App) Stage(ctx context.Context, localPath, processDate string, compress bool) (string, error) {
	if _, err := types.ParseDate(processDate); err != nil {
		return "", serrors.NewValidationError(serrors.CodeInvalidProcessDate, err.Error())
	}

	events, err := ingest.ReadFile(localPath)
	if err != nil {
		return "", err
	}

	paths := ingest.BatchPaths(a.cfg.Ingest.RawPrefix, processDate)
	objectPath := paths[1]
	if compress {
		objectPath = paths[0]
	}
	// Remove the other encoding so the loader cannot pick a stale batch.
	for _, p := range paths {
		if p != objectPath {
			if err := a.storage.Delete(ctx, p); err != nil {
				return "", serrors.NewStorageError(serrors.CodeUploadFailed, "failed to remove stale batch", err)
			}
		}
	}

	staged := filepath.Join(a.cfg.WorkDir, "stage-"+filepath.Base(objectPath))
	defer os.Remove(staged)
	if err := ingest.WriteFile(staged, events); err != nil {
		return "", serrors.NewInternalError("failed to stage batch", err)
	}
	if err := a.storage.Upload(ctx, staged, objectPath); err != nil {
		return "", serrors.NewStorageError(serrors.CodeUploadFailed,
			fmt.Sprintf("failed to upload batch %s", objectPath), err)
	}
	return objectPath, nil
}

// Close releases the session table.
func (a *App) Close() error {
	return a.table.Close()
}
