// Package orchestrator runs one daily sessionization: it loads the day's
// raw batch, pulls the bounded history those events can interact with back
// out of the session table, sessionizes the union and merges the result.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/export"
	"github.com/arkilian/sessionize/internal/logging"
	"github.com/arkilian/sessionize/internal/observability"
	"github.com/arkilian/sessionize/internal/sessionizer"
	"github.com/arkilian/sessionize/internal/table"
	"github.com/arkilian/sessionize/pkg/types"
)

// Run modes recorded in run history.
const (
	ModeInitial     = "initial"
	ModeIncremental = "incremental"
)

// BatchSource loads the raw events of one process date.
type BatchSource interface {
	Load(ctx context.Context, processDate string) ([]types.Event, error)
}

// Table is the persisted session table.
type Table interface {
	Exists(ctx context.Context) (bool, error)
	ReadWindow(ctx context.Context, q table.WindowQuery) ([]types.SessionRow, error)
	Merge(ctx context.Context, candidates []types.SessionRow, floor string, run table.RunInfo) (*table.CommitResult, error)
	Overwrite(ctx context.Context, rows []types.SessionRow, run table.RunInfo) (*table.CommitResult, error)
}

// Exporter publishes a snapshot after a committed run.
type Exporter interface {
	Export(ctx context.Context) (*export.Result, error)
}

// RunResult summarizes one run.
type RunResult struct {
	RunID       string
	ProcessDate string
	Mode        string

	BatchEvents int
	Duplicates  int
	HistoryRows int
	Candidates  int
	// LateEvents counts batch events dated before the merge floor. They are
	// inserted when new, but persisted rows before the floor are not updated
	// to account for them.
	LateEvents int

	Inserted     int
	Updated      int
	Unchanged    int
	Deleted      int
	Skipped      int
	TableVersion int64
	// Committed is false when the batch was empty and nothing was written.
	Committed bool

	Snapshot string
	Duration time.Duration
	Stages   []observability.StageStats
}

// Orchestrator wires the batch source, sessionizer and table together.
type Orchestrator struct {
	source   BatchSource
	table    Table
	sess     *sessionizer.Sessionizer
	lookback Lookback
	exporter Exporter
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLookback overrides DefaultLookback.
func WithLookback(lb Lookback) Option {
	return func(o *Orchestrator) {
		o.lookback = lb
	}
}

// WithExporter publishes a snapshot after every committed run.
func WithExporter(e Exporter) Option {
	return func(o *Orchestrator) {
		o.exporter = e
	}
}

// New creates an orchestrator.
func New(source BatchSource, tbl Table, sess *sessionizer.Sessionizer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:   source,
		table:    tbl,
		sess:     sess,
		lookback: DefaultLookback(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes the batch of processDate. initialLoad overwrites the
// partitions the batch covers; otherwise the table must already exist and
// the result is merged. Either the whole run commits or nothing is written.
func (o *Orchestrator) Run(ctx context.Context, processDate string, initialLoad bool) (*RunResult, error) {
	started := time.Now()
	timer := observability.NewStageTimer()
	window, err := NewWindow(processDate, o.lookback)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:       uuid.NewString(),
		ProcessDate: processDate,
		Mode:        ModeIncremental,
	}
	if initialLoad {
		result.Mode = ModeInitial
	}

	logger := logging.FromContext(ctx).With("runID", result.RunID, "processDate", processDate, "mode", result.Mode)
	ctx = logging.WithLogger(ctx, logger)

	if !initialLoad {
		ok, err := o.table.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, serrors.NewTableError(serrors.CodeTableNotFound,
				"session table does not exist; run an initial load first", nil)
		}
	}

	stopLoad := timer.Start("load")
	batch, err := o.source.Load(ctx, processDate)
	stopLoad()
	if err != nil {
		return nil, err
	}
	deduped := sessionizer.Dedup(batch)
	if err := sessionizer.EnsureUnique(deduped); err != nil {
		return nil, err
	}
	result.BatchEvents = len(deduped)
	result.Duplicates = len(batch) - len(deduped)
	if result.Duplicates > 0 {
		logger.Infow("Dropped duplicate batch events", "duplicates", result.Duplicates)
	}

	if len(deduped) == 0 {
		logger.Warnw("Raw batch is empty, nothing to commit")
		result.Duration = time.Since(started)
		return result, nil
	}

	run := table.RunInfo{
		RunID:       result.RunID,
		ProcessDate: processDate,
		Mode:        result.Mode,
		StartedAt:   started,
	}

	var commit *table.CommitResult
	if initialLoad {
		commit, err = o.initialLoad(ctx, timer, deduped, run, result)
	} else {
		commit, err = o.incremental(ctx, timer, window, deduped, run, result)
	}
	if err != nil {
		return nil, err
	}

	result.Committed = true
	result.Inserted = commit.Inserted
	result.Updated = commit.Updated
	result.Unchanged = commit.Unchanged
	result.Deleted = commit.Deleted
	result.Skipped = commit.Skipped
	result.TableVersion = commit.TableVersion

	if o.exporter != nil {
		stopExport := timer.Start("export")
		snap, err := o.exporter.Export(ctx)
		stopExport()
		if err != nil {
			result.Duration = time.Since(started)
			result.Stages = timer.Stages()
			// The run is committed; the snapshot can be exported again.
			return result, fmt.Errorf("run committed at version %d but export failed: %w", result.TableVersion, err)
		}
		result.Snapshot = snap.ObjectPath
	}

	result.Duration = time.Since(started)
	result.Stages = timer.Stages()
	fields := []interface{}{
		"batchEvents", result.BatchEvents,
		"historyRows", result.HistoryRows,
		"candidates", result.Candidates,
		"inserted", result.Inserted,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"tableVersion", result.TableVersion,
		"duration", result.Duration,
	}
	logger.Infow("Run committed", append(fields, timer.Fields()...)...)
	return result, nil
}

func (o *Orchestrator) initialLoad(ctx context.Context, timer *observability.StageTimer, events []types.Event, run table.RunInfo, result *RunResult) (*table.CommitResult, error) {
	rows, err := o.sessionize(ctx, timer, events)
	if err != nil {
		return nil, err
	}
	result.Candidates = len(rows)

	defer timer.Start("overwrite")()
	return o.table.Overwrite(ctx, rows, run)
}

func (o *Orchestrator) incremental(ctx context.Context, timer *observability.StageTimer, w Window, events []types.Event, run table.RunInfo, result *RunResult) (*table.CommitResult, error) {
	logger := logging.FromContext(ctx)

	pairs := AffectedPairs(events)
	stopHistory := timer.Start("history")
	history, err := o.table.ReadWindow(ctx, table.WindowQuery{
		From:         w.From,
		ActionDay:    w.ActionDay,
		ActionEvents: o.sess.Actions().IDs(),
		Pairs:        pairs,
	})
	stopHistory()
	if err != nil {
		return nil, err
	}
	result.HistoryRows = len(history)
	logger.Debugw("Loaded history window",
		"from", w.From, "actionDay", w.ActionDay, "pairs", len(pairs), "rows", len(history))

	union := make([]types.Event, 0, len(history)+len(events))
	for _, r := range history {
		union = append(union, r.Event)
	}
	union = append(union, events...)

	rows, err := o.sessionize(ctx, timer, union)
	if err != nil {
		return nil, err
	}
	result.Candidates = len(rows)

	for _, ev := range events {
		if types.PartitionDateOf(ev.Timestamp) < w.Floor {
			result.LateEvents++
		}
	}
	if result.LateEvents > 0 {
		logger.Warnw("Batch contains events dated before the merge floor; new ones are inserted but earlier rows are not updated",
			"lateEvents", result.LateEvents, "floor", w.Floor)
	}

	defer timer.Start("merge")()
	return o.table.Merge(ctx, rows, w.Floor, run)
}

// sessionize assigns sessions and re-checks the invariants before anything
// is written.
func (o *Orchestrator) sessionize(ctx context.Context, timer *observability.StageTimer, events []types.Event) ([]types.SessionRow, error) {
	defer timer.Start("sessionize")()
	rows, err := o.sess.Process(ctx, events)
	if err != nil {
		return nil, err
	}
	if err := sessionizer.Verify(rows, o.sess.Actions()); err != nil {
		return nil, err
	}
	return rows, nil
}
