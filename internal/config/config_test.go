package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Database.Database = "vulnhawk"
	cfg.Database.Username = "vulnhawk"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Scanning.WorkerPoolSize)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Len(t, cfg.Scanning.BlockedCIDRs, 5)
	assert.Contains(t, cfg.Scanning.BlockedCIDRs, "127.0.0.0/8")
	assert.NotEmpty(t, cfg.Scanning.Resolvers)
}

func TestValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing database name", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Database = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("zero worker pool", func(t *testing.T) {
		cfg := validConfig()
		cfg.Scanning.WorkerPoolSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("malformed blocked cidr", func(t *testing.T) {
		cfg := validConfig()
		cfg.Scanning.BlockedCIDRs = append(cfg.Scanning.BlockedCIDRs, "not-a-cidr")
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid api port", func(t *testing.T) {
		cfg := validConfig()
		cfg.API.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("api disabled skips api checks", func(t *testing.T) {
		cfg := validConfig()
		cfg.API.Enabled = false
		cfg.API.Port = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "loud"
		assert.Error(t, cfg.Validate())
	})
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default().API.Port, cfg.API.Port)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
database:
  database: vulnhawk
  username: vulnhawk
scanning:
  worker_pool_size: 8
api:
  port: 9090
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Scanning.WorkerPoolSize)
		assert.Equal(t, 9090, cfg.API.Port)
		// Untouched settings keep defaults.
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("invalid yaml rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("invalid settings rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
database:
  database: vulnhawk
  username: vulnhawk
scanning:
  worker_pool_size: -1
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestGetAPIAddress(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:8080", cfg.GetAPIAddress())
}
