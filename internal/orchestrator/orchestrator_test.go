package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/arkilian/sessionize/internal/errors"
	"github.com/arkilian/sessionize/internal/export"
	"github.com/arkilian/sessionize/internal/sessionizer"
	"github.com/arkilian/sessionize/internal/storage"
	"github.com/arkilian/sessionize/internal/table"
	"github.com/arkilian/sessionize/pkg/types"
)

// memSource serves batches from memory.
type memSource struct {
	batches map[string][]types.Event
	err     error
	calls   int
}

func (m *memSource) Load(_ context.Context, processDate string) ([]types.Event, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	events, ok := m.batches[processDate]
	if !ok {
		return nil, serrors.NewStorageError(serrors.CodeObjectNotFound,
			fmt.Sprintf("no batch for %s", processDate), storage.ErrObjectNotFound)
	}
	return events, nil
}

type fixture struct {
	source *memSource
	store  *table.Store
	sess   *sessionizer.Sessionizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := table.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sess, err := sessionizer.New(sessionizer.WithWorkers(2))
	require.NoError(t, err)

	return &fixture{
		source: &memSource{batches: map[string][]types.Event{}},
		store:  store,
		sess:   sess,
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	return New(f.source, f.store, f.sess, opts...)
}

func (f *fixture) rows(t *testing.T) map[string]types.SessionRow {
	t.Helper()
	rows, err := f.store.Scan(context.Background(), 0)
	require.NoError(t, err)
	byKey := make(map[string]types.SessionRow, len(rows))
	for _, r := range rows {
		byKey[r.Key().String()] = r
	}
	return byKey
}

// ts returns a March 2024 UTC timestamp.
func ts(d, h, m, s int) time.Time {
	return time.Date(2024, 3, d, h, m, s, 0, time.UTC)
}

func event(user, product, eventID string, at time.Time) types.Event {
	return types.Event{UserID: user, EventID: eventID, ProductCode: product, Timestamp: at}
}

func sessionOf(user, product string, start time.Time) string {
	return types.SessionID(types.PartitionKey{UserID: user, ProductCode: product}, start)
}

func requireRow(t *testing.T, rows map[string]types.SessionRow, ev types.Event) types.SessionRow {
	t.Helper()
	r, ok := rows[ev.Key().String()]
	require.True(t, ok, "row %s not persisted", ev.Key())
	return r
}

func TestRun_InitialLoadTwoSessions(t *testing.T) {
	f := newFixture(t)
	first := event("u1", "p1", "a", ts(1, 10, 0, 0))
	second := event("u1", "p1", "a", ts(1, 10, 8, 20))
	f.source.batches["2024-03-01"] = []types.Event{second, first}

	res, err := f.orchestrator().Run(context.Background(), "2024-03-01", true)
	require.NoError(t, err)
	assert.True(t, res.Committed)
	assert.Equal(t, ModeInitial, res.Mode)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2, res.BatchEvents)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, int64(1), res.TableVersion)

	rows := f.rows(t)
	assert.Equal(t, sessionOf("u1", "p1", first.Timestamp), requireRow(t, rows, first).SessionIDString())
	assert.Equal(t, sessionOf("u1", "p1", second.Timestamp), requireRow(t, rows, second).SessionIDString())
	assert.Equal(t, "2024-03-01", requireRow(t, rows, first).PartitionDate)
}

func TestRun_LeadingNonActionRowsArePending(t *testing.T) {
	f := newFixture(t)
	x := event("u1", "p1", "x", ts(1, 9, 59, 0))
	y := event("u1", "p1", "y", ts(1, 9, 59, 30))
	a := event("u1", "p1", "a", ts(1, 10, 0, 0))
	z := event("u1", "p1", "z", ts(1, 10, 1, 0))
	f.source.batches["2024-03-01"] = []types.Event{z, a, y, x}

	_, err := f.orchestrator().Run(context.Background(), "2024-03-01", true)
	require.NoError(t, err)

	rows := f.rows(t)
	assert.True(t, requireRow(t, rows, x).Pending())
	assert.True(t, requireRow(t, rows, y).Pending())
	assert.Equal(t, sessionOf("u1", "p1", a.Timestamp), requireRow(t, rows, a).SessionIDString())
	assert.Equal(t, sessionOf("u1", "p1", a.Timestamp), requireRow(t, rows, z).SessionIDString())
}

func TestRun_DuplicateBatchEventsCollapse(t *testing.T) {
	f := newFixture(t)
	a := event("u1", "p1", "a", ts(1, 10, 0, 0))
	f.source.batches["2024-03-01"] = []types.Event{a, a}

	res, err := f.orchestrator().Run(context.Background(), "2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BatchEvents)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Inserted)
	assert.Len(t, f.rows(t), 1)
}

func TestRun_IncrementalContinuesSessionAcrossMidnight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opener := event("u1", "p1", "a", ts(1, 23, 58, 0))
	f.source.batches["2024-03-01"] = []types.Event{opener}
	_, err := f.orchestrator().Run(ctx, "2024-03-01", true)
	require.NoError(t, err)

	next := event("u1", "p1", "x", ts(2, 0, 1, 0))
	f.source.batches["2024-03-02"] = []types.Event{next}
	res, err := f.orchestrator().Run(ctx, "2024-03-02", false)
	require.NoError(t, err)

	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 1, res.HistoryRows)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped, "the previous day is context only")
	assert.Equal(t, int64(2), res.TableVersion)

	row := requireRow(t, f.rows(t), next)
	assert.Equal(t, "2024-03-02", row.PartitionDate)
	assert.Equal(t, sessionOf("u1", "p1", opener.Timestamp), row.SessionIDString())
}

func TestRun_RerunResolvesPendingRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := event("u1", "p1", "x", ts(1, 23, 59, 50))
	f.source.batches["2024-03-01"] = []types.Event{pending}
	_, err := f.orchestrator().Run(ctx, "2024-03-01", true)
	require.NoError(t, err)
	require.True(t, requireRow(t, f.rows(t), pending).Pending())

	// a late action for the same day arrives and the day is reprocessed
	late := event("u1", "p1", "a", ts(1, 23, 59, 40))
	f.source.batches["2024-03-01"] = []types.Event{late}
	res, err := f.orchestrator().Run(ctx, "2024-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Skipped)

	rows := f.rows(t)
	want := sessionOf("u1", "p1", late.Timestamp)
	assert.Equal(t, want, requireRow(t, rows, late).SessionIDString())
	assert.Equal(t, want, requireRow(t, rows, pending).SessionIDString())
}

func TestRun_LateEventsBelowFloor(t *testing.T) {
	pending := event("u1", "p1", "x", ts(1, 23, 59, 50))
	late := event("u1", "p1", "a", ts(1, 23, 59, 40))
	today := event("u1", "p1", "b", ts(2, 10, 0, 0))

	setup := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.source.batches["2024-03-01"] = []types.Event{pending}
		f.source.batches["2024-03-02"] = []types.Event{late, today}
		_, err := f.orchestrator().Run(context.Background(), "2024-03-01", true)
		require.NoError(t, err)
		return f
	}

	t.Run("default floor inserts them without touching earlier rows", func(t *testing.T) {
		f := setup(t)
		res, err := f.orchestrator().Run(context.Background(), "2024-03-02", false)
		require.NoError(t, err)
		assert.Equal(t, 1, res.LateEvents)
		assert.Equal(t, 2, res.Inserted)
		assert.Equal(t, 0, res.Updated)
		assert.Equal(t, 1, res.Skipped)

		rows := f.rows(t)
		assert.True(t, requireRow(t, rows, pending).Pending())
		assert.Equal(t, sessionOf("u1", "p1", late.Timestamp), requireRow(t, rows, late).SessionIDString())
		assert.Equal(t, sessionOf("u1", "p1", today.Timestamp), requireRow(t, rows, today).SessionIDString())
	})

	t.Run("late event of a new pair is persisted", func(t *testing.T) {
		f := setup(t)
		newPair := event("u2", "p9", "a", ts(1, 22, 0, 0))
		f.source.batches["2024-03-02"] = []types.Event{newPair, today}

		res, err := f.orchestrator().Run(context.Background(), "2024-03-02", false)
		require.NoError(t, err)
		assert.Equal(t, 1, res.LateEvents)
		assert.Equal(t, 2, res.Inserted)
		assert.Equal(t, 0, res.Skipped)

		rows := f.rows(t)
		r := requireRow(t, rows, newPair)
		assert.Equal(t, "2024-03-01", r.PartitionDate)
		assert.Equal(t, sessionOf("u2", "p9", newPair.Timestamp), r.SessionIDString())

		again, err := f.orchestrator().Run(context.Background(), "2024-03-02", false)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Inserted)
		assert.Equal(t, 1, again.Skipped)
	})

	t.Run("merge floor moved back corrects the earlier day", func(t *testing.T) {
		f := setup(t)
		lb := DefaultLookback()
		lb.MergeFloorDays = 1
		res, err := f.orchestrator(WithLookback(lb)).Run(context.Background(), "2024-03-02", false)
		require.NoError(t, err)
		assert.Equal(t, 0, res.LateEvents)
		assert.Equal(t, 2, res.Inserted)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, 0, res.Skipped)

		rows := f.rows(t)
		want := sessionOf("u1", "p1", late.Timestamp)
		assert.Equal(t, want, requireRow(t, rows, pending).SessionIDString())
		assert.Equal(t, want, requireRow(t, rows, late).SessionIDString())
		assert.Equal(t, sessionOf("u1", "p1", today.Timestamp), requireRow(t, rows, today).SessionIDString())
	})
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.batches["2024-03-01"] = []types.Event{event("u1", "p1", "a", ts(1, 10, 0, 0))}
	f.source.batches["2024-03-02"] = []types.Event{
		event("u1", "p1", "a", ts(2, 9, 0, 0)),
		event("u1", "p1", "x", ts(2, 9, 1, 0)),
	}
	_, err := f.orchestrator().Run(ctx, "2024-03-01", true)
	require.NoError(t, err)

	first, err := f.orchestrator().Run(ctx, "2024-03-02", false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	before := f.rows(t)

	second, err := f.orchestrator().Run(ctx, "2024-03-02", false)
	require.NoError(t, err)
	assert.Equal(t, 3, second.HistoryRows)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, first.TableVersion+1, second.TableVersion)
	assert.Equal(t, before, f.rows(t))
}

func TestRun_HistoryRestrictedToAffectedPairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.batches["2024-03-01"] = []types.Event{
		event("u1", "p1", "a", ts(1, 10, 0, 0)),
		event("u2", "p1", "a", ts(1, 10, 0, 0)),
		event("u2", "p2", "a", ts(1, 10, 0, 0)),
	}
	f.source.batches["2024-03-02"] = []types.Event{event("u2", "p1", "x", ts(2, 8, 0, 0))}
	_, err := f.orchestrator().Run(ctx, "2024-03-01", true)
	require.NoError(t, err)

	res, err := f.orchestrator().Run(ctx, "2024-03-02", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.HistoryRows)
	assert.Equal(t, 2, res.Candidates)
}

func TestRun_ActionOnlyDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.batches["2024-03-04"] = []types.Event{
		event("u1", "p1", "a", ts(4, 10, 0, 0)),
		event("u1", "p1", "x", ts(4, 10, 1, 0)),
	}
	f.source.batches["2024-03-10"] = []types.Event{event("u1", "p1", "a", ts(10, 10, 0, 0))}
	_, err := f.orchestrator().Run(ctx, "2024-03-04", true)
	require.NoError(t, err)

	res, err := f.orchestrator().Run(ctx, "2024-03-10", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.HistoryRows, "only the action event of the sixth day is read")
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Skipped)
}

func TestRun_MissingTableIsFatal(t *testing.T) {
	f := newFixture(t)
	f.source.batches["2024-03-02"] = []types.Event{event("u1", "p1", "a", ts(2, 10, 0, 0))}

	_, err := f.orchestrator().Run(context.Background(), "2024-03-02", false)
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCategoryTable, serrors.GetCategory(err))
	assert.Equal(t, serrors.CodeTableNotFound, serrors.GetCode(err))
	assert.Equal(t, 0, f.source.calls, "batch must not be read")

	ok, err := f.store.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_SourceErrorAbortsBeforeWrite(t *testing.T) {
	f := newFixture(t)
	f.source.err = serrors.NewValidationError(serrors.CodeUnparseableTimestamp, "bad timestamp")

	_, err := f.orchestrator().Run(context.Background(), "2024-03-01", true)
	require.Error(t, err)
	assert.Equal(t, serrors.CodeUnparseableTimestamp, serrors.GetCode(err))

	ok, err := f.store.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_InvalidProcessDate(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().Run(context.Background(), "03/01/2024", true)
	assert.Equal(t, serrors.CodeInvalidProcessDate, serrors.GetCode(err))
	assert.Equal(t, 0, f.source.calls)
}

func TestRun_EmptyBatchCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.source.batches["2024-03-01"] = nil

	res, err := f.orchestrator().Run(context.Background(), "2024-03-01", true)
	require.NoError(t, err)
	assert.False(t, res.Committed)

	version, err := f.store.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

type failingExporter struct{}

func (failingExporter) Export(context.Context) (*export.Result, error) {
	return nil, errors.New("bucket unavailable")
}

func TestRun_ExportAfterRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	objects, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f.source.batches["2024-03-01"] = []types.Event{event("u1", "p1", "a", ts(1, 10, 0, 0))}

	exp := export.New(f.store, objects, "snapshots", t.TempDir(), 0)
	res, err := f.orchestrator(WithExporter(exp)).Run(ctx, "2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, export.ObjectPath("snapshots", res.TableVersion), res.Snapshot)

	ok, err := objects.Exists(ctx, res.Snapshot)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_ExportFailureKeepsCommit(t *testing.T) {
	f := newFixture(t)
	f.source.batches["2024-03-01"] = []types.Event{event("u1", "p1", "a", ts(1, 10, 0, 0))}

	res, err := f.orchestrator(WithExporter(failingExporter{})).Run(context.Background(), "2024-03-01", true)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Committed)
	assert.Len(t, f.rows(t), 1)
}

func TestRun_RecordsStageTimings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.batches["2024-03-01"] = []types.Event{event("u1", "p1", "a", ts(1, 10, 0, 0))}
	f.source.batches["2024-03-02"] = []types.Event{event("u1", "p1", "x", ts(2, 10, 0, 0))}

	res, err := f.orchestrator().Run(ctx, "2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"load", "sessionize", "overwrite"}, stageNames(res))

	res, err = f.orchestrator().Run(ctx, "2024-03-02", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"load", "history", "sessionize", "merge"}, stageNames(res))
}

func stageNames(res *RunResult) []string {
	names := make([]string, len(res.Stages))
	for i, s := range res.Stages {
		names[i] = s.Stage
	}
	return names
}
