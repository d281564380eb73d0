package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mandrindraa/bbe-my-eyes/common/config"
	"github.com/mandrindraa/bbe-my-eyes/internal/hub"

	"gopkg.in/yaml.v3"
)

// Config bbe-gateway 服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// MQTT 订阅主题
	Topics struct {
		Locations string
		Sensors   string
		Camera    string
	}

	HTTP struct {
		Addr     string
		CertFile string // 与 KeyFile 同时设置时启用 HTTPS
		KeyFile  string
	}

	// 推送 Hub 配置
	Hub struct {
		HeartbeatInterval time.Duration
		CameraThrottle    time.Duration
		SendQueue         int
		WriteTimeout      time.Duration
		ChannelsFile      string
		Policies          map[string]hub.DeliveryPolicy
		Windows           map[string]time.Duration // 按频道覆盖节流窗口
	}

	Cache struct {
		LatestTTL    time.Duration
		Stream       string
		StreamMaxLen int64
	}

	Poller struct {
		Interval time.Duration
	}

	Metrics struct {
		ReportInterval time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "bbe_my_eyes",
		SSLMode:  "disable",
		MaxConns: 10,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:" + getEnv("MQTT_PORT", "1883"),
		ClientID: "bbe-gateway",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")
	cfg.MQTT.ConnectTimeout = 10 * time.Second
	cfg.MQTT.ReconnectDelay = 5 * time.Second

	cfg.Topics.Locations = getEnv("MQTT_TOPIC_LOCATIONS", "be_my_eyes/locations")
	cfg.Topics.Sensors = getEnv("MQTT_TOPIC_SENSORS", "be_my_eyes/sensors")
	cfg.Topics.Camera = getEnv("MQTT_TOPIC_CAMERA", "be_my_eyes/camera")

	cfg.HTTP.Addr = ":" + getEnv("PORT", "3000")
	cfg.HTTP.CertFile = getEnv("SSL_CERT_PATH", "")
	cfg.HTTP.KeyFile = getEnv("SSL_KEY_PATH", "")

	cfg.Hub.HeartbeatInterval = getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second)
	cfg.Hub.CameraThrottle = time.Duration(getEnvInt("CAMERA_THROTTLE_MS", 10000)) * time.Millisecond
	cfg.Hub.SendQueue = getEnvInt("WS_SEND_QUEUE", 64)
	cfg.Hub.WriteTimeout = getEnvDuration("WS_WRITE_TIMEOUT", 5*time.Second)
	cfg.Hub.ChannelsFile = getEnv("CHANNELS_CONFIG", "")
	cfg.Hub.Policies = hub.DefaultChannelPolicies()
	cfg.Hub.Windows = map[string]time.Duration{}

	cfg.Cache.LatestTTL = getEnvDuration("CACHE_LATEST_TTL", 300*time.Second)
	cfg.Cache.Stream = getEnv("RECORD_STREAM", "bbe:records:stream")
	cfg.Cache.StreamMaxLen = int64(getEnvInt("RECORD_STREAM_MAXLEN", 10000))

	cfg.Poller.Interval = getEnvDuration("UNREAD_POLL_INTERVAL", 10*time.Second)
	cfg.Metrics.ReportInterval = getEnvDuration("METRICS_REPORT_INTERVAL", 60*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Hub.ChannelsFile != "" {
		if err := cfg.loadChannels(cfg.Hub.ChannelsFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// channelsFile 频道策略 YAML
//
//	channels:
//	  update_camera:
//	    policy: throttled
//	    window_ms: 10000
type channelsFile struct {
	Channels map[string]struct {
		Policy   string `yaml:"policy"`
		WindowMs int    `yaml:"window_ms"`
	} `yaml:"channels"`
}

func (c *Config) loadChannels(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read channels config: %w", err)
	}
	return c.applyChannels(data)
}

func (c *Config) applyChannels(data []byte) error {
	var file channelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse channels config: %w", err)
	}

	for name, ch := range file.Channels {
		policy, err := hub.ParseDeliveryPolicy(ch.Policy)
		if err != nil {
			return fmt.Errorf("channel %s: %w", name, err)
		}
		c.Hub.Policies[name] = policy
		if ch.WindowMs > 0 {
			c.Hub.Windows[name] = time.Duration(ch.WindowMs) * time.Millisecond
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration 支持 "30s" 形式，纯数字按秒处理
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
