// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.BufferSize)
	assert.Equal(t, time.Hour, cfg.BufferTTL)
	assert.Equal(t, 10*time.Minute, cfg.ReplayWindow)
	assert.Equal(t, 5*time.Minute, cfg.InactivityTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 64, cfg.SubscriberQueueSize)
	assert.Equal(t, time.Hour, cfg.AckTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TXSTREAM_BUFFER_SIZE", "50")
	t.Setenv("TXSTREAM_REPLAY_WINDOW", "5m")
	t.Setenv("TXSTREAM_REDIS_ADDR", "redis:6380")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.BufferSize)
	assert.Equal(t, 5*time.Minute, cfg.ReplayWindow)
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("TXSTREAM_BUFFER_SIZE", "not-a-number")
	t.Setenv("TXSTREAM_SWEEP_INTERVAL", "sometimes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.BufferSize)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoad_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"buffer_size: 25\nheartbeat_interval: 10s\nlisten_addr: \":9999\"\n",
	), 0o600))
	t.Setenv("TXSTREAM_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.BufferSize)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("buffer_size: 25\n"), 0o600))
	t.Setenv("TXSTREAM_CONFIG_FILE", path)
	t.Setenv("TXSTREAM_BUFFER_SIZE", "13")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 13, cfg.BufferSize)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("TXSTREAM_CONFIG_FILE", "/does/not/exist.yaml")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())

	cfg.BufferSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.SubscriberQueueSize = -1
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.ReplayWindow = 0
	assert.Error(t, cfg.Validate())
}
