package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, "local", cfg.Execution.Backend)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 0, cfg.Scheduler.MaxQueued)
	assert.Equal(t, "uploads", cfg.Uploads.Directory)
	assert.EqualValues(t, 100<<20, cfg.Uploads.MaxBytes)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datafactory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: "9090"
database:
  driver: postgres
  url: postgres://localhost/factory
scheduler:
  workers: 2
  timezone: Europe/Berlin
notifications:
  email:
    enabled: true
    from: factory@example.com
    smtp_host: smtp.example.com
    recipients: [ops@example.com]
`), 0o644))
	t.Setenv("DATAFACTORY_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
	assert.Equal(t, 587, cfg.Notifications.Email.SMTPPort)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Notifications.Email.Recipients)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Scheduler: SchedulerConfig{Workers: 1, Timezone: "UTC"},
			Execution: ExecutionConfig{Backend: "local"},
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "8080", cfg.ServerPort)

	cfg = base()
	cfg.Scheduler.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Execution.Backend = "kafka"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Scheduler.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Scheduler.MaxQueued = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Uploads.MaxBytes = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Notifications.Email.Enabled = true
	assert.Error(t, cfg.Validate())
}
