package run

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
retry:
  attempts: 3
  backoff: 250ms
checkpoint_every: 5
breakpoints:
  - "1.2"
  - "2"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, "250ms", cfg.Retry.Backoff)
	assert.Equal(t, 5, cfg.CheckpointEvery)
	assert.Equal(t, []string{"1.2", "2"}, cfg.Breakpoints)

	policy, err := cfg.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, 3, policy.Attempts)
	assert.Equal(t, 250*time.Millisecond, policy.Backoff)
}

func TestLoadConfig_DefaultsApplyWhenAbsent(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Retry.Attempts)
	assert.Equal(t, 1, cfg.CheckpointEvery)
	assert.Empty(t, cfg.Breakpoints)
}

func TestLoadConfig_RejectsBadBackoff(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "retry:\n  backoff: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestRetryPolicy_ZeroAttemptsClampedToOne(t *testing.T) {
	var cfg Config
	policy, err := cfg.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, 1, policy.Attempts)
}
