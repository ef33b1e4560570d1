package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/pce/internal/models"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 3, config.Queue.MaxAttempts)
	assert.Equal(t, 3, config.Pipeline.StageMaxRetries)
	assert.Equal(t, "loopback", config.Collaborators.Mode)
}

func TestLoadFromFiles_LaterFileOverrides(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
[server]
port = 9000
host = "0.0.0.0"

[queue]
concurrency = 2
`)
	override := writeConfigFile(t, "override.toml", `
[server]
port = 9100

[quota]
default_plan = "business"

[quota.tenants]
brand-A = "enterprise"
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 2, config.Queue.Concurrency)
	assert.Equal(t, "business", config.Quota.DefaultPlan)
	assert.Equal(t, "enterprise", config.Quota.Tenants["brand-A"])
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "pce.toml", `
[server]
port = 9000
`)
	t.Setenv("PCE_SERVER_PORT", "9500")
	t.Setenv("PCE_LOG_OUTPUT", "stdout, file")
	t.Setenv("PCE_QUOTA_DEFAULT_PLAN", "professional")
	t.Setenv("PCE_COLLABORATORS_TOKEN", "collab-secret")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "collab-secret", config.Collaborators.Token)

	assert.Equal(t, 9500, config.Server.Port)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.Equal(t, "professional", config.Quota.DefaultPlan)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadFromFiles_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad cron", "[scheduler]\ncleanup_schedule = \"every now and then\"\n"},
		{"unknown stage", "[pipeline.stage_sla]\nPACKING = \"1h\"\n"},
		{"bad sla", "[pipeline.stage_sla]\nRENDER = \"soon\"\n"},
		{"zero attempts", "[queue]\nmax_attempts = 0\n"},
		{"bad mode", "[collaborators]\nmode = \"grpc\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, "pce.toml", tt.content)
			_, err := LoadFromFiles(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8085, config.Server.Port)

	ApplyFlagOverrides(config, 7000, "example.internal")
	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, "example.internal", config.Server.Host)
}

func TestStageSLAs(t *testing.T) {
	config := NewDefaultConfig()
	config.Pipeline.StageSLA = map[string]string{"render": "45m"}
	config.Pipeline.DefaultSLA = "3h"

	slas, fallback := config.StageSLAs()
	assert.Equal(t, 45*time.Minute, slas[models.StageRender])
	assert.Equal(t, 3*time.Hour, fallback)
}

func TestConcurrencyFor(t *testing.T) {
	config := NewDefaultConfig()
	config.Queue.Concurrency = 4
	config.Queue.QueueConcurrency = map[string]int{models.QueueRender: 1}

	assert.Equal(t, 1, config.ConcurrencyFor(models.QueueRender))
	assert.Equal(t, 4, config.ConcurrencyFor(models.QueuePipeline))
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("@hourly"))
	assert.Error(t, ValidateSchedule("0 0 */6 * * *"))
	assert.Error(t, ValidateSchedule(""))
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDurationOr("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("nope", time.Minute))
}
