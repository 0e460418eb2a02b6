package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/sessionize/internal/config"
	serrors "github.com/arkilian/sessionize/internal/errors"
)

func newApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Session.Timeout = 0

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewStorage_Unsupported(t *testing.T) {
	_, err := NewStorage(context.Background(), config.StorageConfig{Type: "ftp"})
	require.Error(t, err)
}

func TestStageAndRun(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, func(c *config.Config) { c.Export.AfterRun = true })

	src := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(src, []byte("user_id,event_id,product_code,timestamp\n"+
		"u1,a,p1,2024-03-01 10:00:00\n"+
		"u1,x,p1,2024-03-01 10:02:00\n"), 0644))

	objectPath, err := a.Stage(ctx, src, "2024-03-01", false)
	require.NoError(t, err)
	assert.Equal(t, "raw/2024-03-01.csv", objectPath)

	// restaging compressed replaces the plain batch
	objectPath, err = a.Stage(ctx, src, "2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, "raw/2024-03-01.csv.sz", objectPath)
	exists, err := a.Storage().Exists(ctx, "raw/2024-03-01.csv")
	require.NoError(t, err)
	assert.False(t, exists)

	res, err := a.Orchestrator().Run(ctx, "2024-03-01", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.NotEmpty(t, res.Snapshot, "export.after_run publishes a snapshot")

	exists, err = a.Storage().Exists(ctx, res.Snapshot)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStage_InvalidDate(t *testing.T) {
	a := newApp(t, nil)
	_, err := a.Stage(context.Background(), "unused.csv", "2024-13-01", true)
	assert.Equal(t, serrors.CodeInvalidProcessDate, serrors.GetCode(err))
}

func TestOrchestratorUsesConfiguredLookback(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, func(c *config.Config) { c.Lookback.MergeFloorDays = 1 })

	day1 := filepath.Join(t.TempDir(), "d1.csv")
	require.NoError(t, os.WriteFile(day1, []byte("user_id,event_id,product_code,timestamp\nu1,x,p1,2024-03-01 23:59:50\n"), 0644))
	day2 := filepath.Join(t.TempDir(), "d2.csv")
	require.NoError(t, os.WriteFile(day2, []byte("user_id,event_id,product_code,timestamp\nu1,a,p1,2024-03-01 23:59:40\n"), 0644))

	_, err := a.Stage(ctx, day1, "2024-03-01", true)
	require.NoError(t, err)
	_, err = a.Stage(ctx, day2, "2024-03-02", true)
	require.NoError(t, err)

	_, err = a.Orchestrator().Run(ctx, "2024-03-01", true)
	require.NoError(t, err)
	res, err := a.Orchestrator().Run(ctx, "2024-03-02", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.LateEvents)
}
