package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.GitHub.Token = "test-token"
	cfg.GitHub.Owner = "octo"
	cfg.GitHub.Repo = "hello"
	cfg.Database.Path = filepath.Join(t.TempDir(), "imq.db")
	return cfg
}

func TestBuildComponents(t *testing.T) {
	cfg := testConfig(t)

	c, err := buildComponents(cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.store.Close()
	defer c.results.Close()

	assert.NotNil(t, c.bus)
	assert.NotNil(t, c.server)
	assert.NotNil(t, c.proc)
	assert.NotNil(t, c.metrics)

	require.NoError(t, c.store.Ping())
}

func TestBuildComponents_SeedsTriggerLabel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queue.TriggerLabel = "ship-it"

	c, err := buildComponents(cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.store.Close()
	defer c.results.Close()

	sc, err := c.store.SystemConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ship-it", sc.TriggerLabel)
}

func TestSeedTriggerLabel_KeepsOperatorEdit(t *testing.T) {
	cfg := testConfig(t)

	c, err := buildComponents(cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.store.Close()
	defer c.results.Close()

	ctx := context.Background()
	sc, err := c.store.SystemConfig(ctx)
	require.NoError(t, err)
	sc.TriggerLabel = "operator-choice"
	require.NoError(t, c.store.SaveSystemConfig(ctx, sc))

	require.NoError(t, seedTriggerLabel(c.store, "from-config"))

	sc, err = c.store.SystemConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "operator-choice", sc.TriggerLabel)
}
