package appbootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resetwatch/config"
	"resetwatch/core/utils"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.DBURL = filepath.Join(t.TempDir(), "app.db")
	cfg.Upstream.APIKey = "test-key"
	return cfg
}

func TestComposeRuntimeWiresEngine(t *testing.T) {
	cfg := testConfig(t)
	logger := utils.NopLogger()
	db, err := OpenDatabase(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer db.Close()

	comp, err := composeRuntime(cfg, db, logger)
	require.NoError(t, err)
	assert.NotNil(t, comp.serverDeps.Engine)
	assert.NotNil(t, comp.serverDeps.Hub)
	assert.NotNil(t, comp.serverDeps.Gatherer)
	require.Len(t, comp.workers, 1)
	assert.Empty(t, comp.closers)

	assert.NotNil(t, comp.serverDeps.Backups)

	cfg.Tracker.AutoStart = false
	comp, err = composeRuntime(cfg, db, logger)
	require.NoError(t, err)
	assert.Empty(t, comp.workers)

	cfg.Backup.Interval = time.Hour
	comp, err = composeRuntime(cfg, db, logger)
	require.NoError(t, err)
	assert.Len(t, comp.workers, 1)
}

func TestComposeSinksSkipsBrokenNotifiers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.URLs = []string{"not-a-url"}
	sinks, closers := composeSinks(cfg, utils.NopLogger())
	assert.Empty(t, sinks)
	assert.Empty(t, closers)

	cfg.Notify.URLs = []string{"logger://"}
	sinks, _ = composeSinks(cfg, utils.NopLogger())
	assert.Len(t, sinks, 1)
}

func TestNewRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upstream.APIKey = ""
	_, err := New(context.Background(), cfg, utils.NopLogger())
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestToolWorksWithoutAPIKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upstream.APIKey = ""
	tool, err := NewTool(context.Background(), cfg, utils.NopLogger())
	require.NoError(t, err)
	defer tool.Close()
	st := tool.Engine.GetStats(context.Background())
	assert.Zero(t, st.TotalEntities)
	assert.False(t, st.Running)
}

func TestRunStopsEngineStartedOutsideWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Tracker.AutoStart = false
	cfg.Tracker.SkipInitialIndex = true
	app, err := New(context.Background(), cfg, utils.NopLogger())
	require.NoError(t, err)
	require.Empty(t, app.workers)

	app.engine.Start()
	require.Eventually(t, app.engine.Running, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, app.Run(ctx))
	assert.False(t, app.engine.Running())
}
