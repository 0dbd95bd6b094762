package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "mongo", cfg.Store)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, "fleetops-documents", cfg.S3Config.Bucket)
	assert.Empty(t, cfg.RedisAddr)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE", "memory")
	t.Setenv("LOCK_TTL", "5s")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("TIMEZONE", "Africa/Conakry")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.True(t, cfg.S3Config.UseSSL)
	assert.Equal(t, "Africa/Conakry", cfg.TimeZone)
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MQTT_BROKER=tcp://broker:1883\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MQTT_BROKER") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"STORE", "postgres"},
		{"TIMEZONE", "Mars/Olympus"},
		{"LOG_LEVEL", "chatty"},
		{"ADMIN_USERNAME", "root"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	logger := log.New()
	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	cfg.ConfigureLogger(logger)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)
}
