package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyleap/authsessions/internal/credential"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig([]string{
		"--port", "9000",
		"--session-mode", "redis",
		"--session-ttl", "30m",
		"--redis-key-prefix", "test:",
		"--log-level", "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "redis", cfg.SessionMode)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "test:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "ADMIN", cfg.AdminRole)
	assert.Equal(t, "clients.yaml", cfg.ClientsPath)
	assert.False(t, cfg.S3.Enabled)

	logger := cfg.NewLogger()
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestLoadConfig_RejectsUnknownChoice(t *testing.T) {
	_, err := LoadConfig([]string{"--session-mode", "etcd"})
	assert.Error(t, err)
}

func TestPrintEncodedPassword(t *testing.T) {
	cfg, err := LoadConfig([]string{"--hash-password", "s3cret"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printEncodedPassword(&buf, cfg.HashPassword))

	encoded := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasPrefix(encoded, "{bcrypt}"), encoded)
	assert.NoError(t, credential.Verify(encoded, "s3cret"))
	assert.ErrorIs(t, credential.Verify(encoded, "wrong"), credential.ErrMismatch)
}
