package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/internal/hub"
	"github.com/mandrindraa/bbe-my-eyes/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "bbe_my_eyes", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, "be_my_eyes/locations", cfg.Topics.Locations)
	assert.Equal(t, "be_my_eyes/sensors", cfg.Topics.Sensors)
	assert.Equal(t, "be_my_eyes/camera", cfg.Topics.Camera)

	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.Hub.CameraThrottle)
	assert.Equal(t, 64, cfg.Hub.SendQueue)
	assert.Equal(t, hub.PolicyThrottledCoalesced, cfg.Hub.Policies[models.ChannelCamera])
	assert.Equal(t, hub.PolicyImmediate, cfg.Hub.Policies[models.ChannelLocationUpdate])

	assert.Equal(t, 300*time.Second, cfg.Cache.LatestTTL)
	assert.Equal(t, 10*time.Second, cfg.Poller.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("PORT", "8080")
	t.Setenv("CAMERA_THROTTLE_MS", "2500")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "45")
	t.Setenv("UNREAD_POLL_INTERVAL", "1m")
	t.Setenv("SSL_CERT_PATH", "/etc/tls/cert.pem")
	t.Setenv("SSL_KEY_PATH", "/etc/tls/key.pem")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "tcp://localhost:8883", cfg.MQTT.Broker)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2500*time.Millisecond, cfg.Hub.CameraThrottle)
	assert.Equal(t, 45*time.Second, cfg.Hub.HeartbeatInterval)
	assert.Equal(t, time.Minute, cfg.Poller.Interval)
	assert.Equal(t, "/etc/tls/cert.pem", cfg.HTTP.CertFile)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	os.Clearenv()
	t.Setenv("DB_PORT", "abc")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Hub.HeartbeatInterval)
}

func TestLoad_ChannelsFile(t *testing.T) {
	os.Clearenv()

	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
channels:
  update_camera:
    policy: throttled
    window_ms: 3000
  update_steps:
    policy: coalesced
  location_update:
    policy: immediate
`), 0o644))
	t.Setenv("CHANNELS_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, hub.PolicyThrottledCoalesced, cfg.Hub.Policies[models.ChannelSteps])
	assert.Equal(t, 3*time.Second, cfg.Hub.Windows[models.ChannelCamera])
	_, ok := cfg.Hub.Windows[models.ChannelSteps]
	assert.False(t, ok)
}

func TestLoad_ChannelsFileErrors(t *testing.T) {
	os.Clearenv()
	t.Setenv("CHANNELS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels:\n  update_camera:\n    policy: sometimes\n"), 0o644))
	t.Setenv("CHANNELS_CONFIG", path)
	_, err = Load()
	assert.ErrorContains(t, err, "update_camera")
}
