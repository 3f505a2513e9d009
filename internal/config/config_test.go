package config

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
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := writeConfig(t, `
app:
  name: bloodlink-test
notification:
  aggregation_window: 10m
`)
	cfg, _, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "bloodlink-test", cfg.App.Name)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 10*time.Minute, cfg.Notification.AggregationWindow)
	assert.Equal(t, 15*time.Second, cfg.Notification.DeliveryTimeout)
	assert.Equal(t, 30, cfg.Notification.RetentionDays)
	assert.Equal(t, "user:", cfg.Realtime.RoomPrefix)
	assert.Equal(t, 25*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, "mysql", cfg.Match.Backend)
	assert.Equal(t, []string{"websocket", "polling"}, cfg.Client.Transports)
	assert.Equal(t, uint(5), cfg.Client.ReconnectAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Client.DebounceWindow)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := writeConfig(t, "app:\n  port: 8080\n")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("NOTIFICATION_NOTIFY_SELF", "true")

	cfg, _, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.True(t, cfg.Notification.NotifySelf)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestInitSetsGlobal(t *testing.T) {
	dir := writeConfig(t, "mysql:\n  host: db\n  port: 3306\n  username: u\n  password: p\n  database: bl\n")
	require.NoError(t, Init(dir))
	cfg := GetConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "u:p@tcp(db:3306)/bl?charset=utf8mb4&parseTime=True&loc=UTC", cfg.MySQL.DSN())
	assert.Equal(t, "127.0.0.1:6379", (&RedisConfig{Host: "127.0.0.1", Port: 6379}).Addr())
}
