package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/config"
)

func withTestConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	prev := cfg
	t.Cleanup(func() { cfg = prev })

	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "env.db"),
		},
		Scheduler: config.SchedulerConfig{Workers: 2},
		Server:    config.ServerConfig{Port: 8080},
	}
	if mutate != nil {
		mutate(cfg)
	}
}

func TestInitLocalEnvRejectsBadDriver(t *testing.T) {
	withTestConfig(t, func(c *config.Config) {
		c.Store.Driver = "mongo"
	})

	e, err := initLocalEnv(context.Background())
	require.Error(t, err)
	assert.Nil(t, e)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestInitLocalEnvWiresStore(t *testing.T) {
	withTestConfig(t, nil)

	e, err := initLocalEnv(context.Background())
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.Store)
	assert.NotNil(t, e.Registry)
	assert.NotNil(t, e.Eval)
}

func TestInitRunEnvRequiresProviderKey(t *testing.T) {
	withTestConfig(t, nil)

	e, err := initRunEnv(context.Background())
	require.Error(t, err)
	assert.Nil(t, e)
	assert.Contains(t, err.Error(), "provider.key is required")
}

func TestInitRunEnvWiresScheduler(t *testing.T) {
	withTestConfig(t, func(c *config.Config) {
		c.Provider.Key = "test-key"
	})

	e, err := initRunEnv(context.Background())
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.Scheduler)
}
