package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	MySQL         DatabaseConfig      `mapstructure:"mysql"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Log           LogConfig           `mapstructure:"log"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Match         MatchConfig         `mapstructure:"match"`
	Client        ClientConfig        `mapstructure:"client"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name string     `mapstructure:"name"`
	Mode string     `mapstructure:"mode"`
	Port int        `mapstructure:"port"`
	Cors CorsConfig `mapstructure:"cors"`
}

// CorsConfig 跨域配置
type CorsConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	SecretKey           string `mapstructure:"secret_key"`
	AccessExpireSeconds int    `mapstructure:"access_expire_seconds"`
	Issuer              string `mapstructure:"issuer"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Charset      string `mapstructure:"charset"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DSN 获取数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.Charset)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// Addr 获取Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ElasticsearchConfig Elasticsearch配置
type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DonorIndex string   `mapstructure:"donor_index"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	Stdout     bool   `mapstructure:"stdout"`
}

// RealtimeConfig 实时推送配置
type RealtimeConfig struct {
	Path           string        `mapstructure:"path"`
	Origin         string        `mapstructure:"origin"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RoomPrefix     string        `mapstructure:"room_prefix"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	MachineID      int64         `mapstructure:"machine_id"`
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	AggregationWindow time.Duration `mapstructure:"aggregation_window"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
	DeliveryTimeout   time.Duration `mapstructure:"delivery_timeout"`
	FanoutWorkers     int           `mapstructure:"fanout_workers"`
	NotifySelf        bool          `mapstructure:"notify_self"`
	GuardTTL          time.Duration `mapstructure:"guard_ttl"`
	RetentionDays     int           `mapstructure:"retention_days"`
	CleanupSpec       string        `mapstructure:"cleanup_spec"`
}

// MatchConfig 献血者匹配配置
type MatchConfig struct {
	Backend string        `mapstructure:"backend"` // mysql 或 es
	Timeout time.Duration `mapstructure:"timeout"`
}

// ClientConfig 客户端同步配置（listen 命令使用）
type ClientConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	WSURL             string        `mapstructure:"ws_url"`
	Token             string        `mapstructure:"token"`
	RecipientID       uint          `mapstructure:"recipient_id"`
	Transports        []string      `mapstructure:"transports"`
	ReconnectAttempts uint          `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	StableAfter       time.Duration `mapstructure:"stable_after"`
	DebounceWindow    time.Duration `mapstructure:"debounce_window"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	CursorFile        string        `mapstructure:"cursor_file"`
}

var (
	// GlobalConfig 全局配置实例
	GlobalConfig *Config
	// 配置Viper实例
	viperInstance *viper.Viper
	configMu      sync.RWMutex
)

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bloodlink-api")
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.port", 8080)
	v.SetDefault("mysql.charset", "utf8mb4")
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("elasticsearch.donor_index", "donors")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", true)
	v.SetDefault("jwt.access_expire_seconds", 7200)
	v.SetDefault("jwt.issuer", "bloodlink")

	v.SetDefault("realtime.path", "/api/ws")
	v.SetDefault("realtime.allowed_origins", []string{"*"})
	v.SetDefault("realtime.room_prefix", "user:")
	v.SetDefault("realtime.ping_interval", "25s")
	v.SetDefault("realtime.ping_timeout", "60s")
	v.SetDefault("realtime.write_timeout", "10s")
	v.SetDefault("realtime.idle_timeout", "5m")
	v.SetDefault("realtime.send_buffer", 256)
	v.SetDefault("realtime.max_message_size", 4096)
	v.SetDefault("realtime.machine_id", 1)

	v.SetDefault("notification.aggregation_window", "5m")
	v.SetDefault("notification.store_timeout", "5s")
	v.SetDefault("notification.delivery_timeout", "15s")
	v.SetDefault("notification.fanout_workers", 8)
	v.SetDefault("notification.notify_self", false)
	v.SetDefault("notification.guard_ttl", "24h")
	v.SetDefault("notification.retention_days", 30)
	v.SetDefault("notification.cleanup_spec", "0 0 3 * * *")

	v.SetDefault("match.backend", "mysql")
	v.SetDefault("match.timeout", "3s")

	v.SetDefault("client.base_url", "http://localhost:8080/api")
	v.SetDefault("client.ws_url", "ws://localhost:8080/api/ws")
	v.SetDefault("client.transports", []string{"websocket", "polling"})
	v.SetDefault("client.reconnect_attempts", 5)
	v.SetDefault("client.reconnect_delay", "2s")
	v.SetDefault("client.stable_after", "30s")
	v.SetDefault("client.debounce_window", "100ms")
	v.SetDefault("client.poll_interval", "10s")
	v.SetDefault("client.cursor_file", ".bloodlink_cursor.json")
}

// Load 从指定目录加载 config.yaml，不修改全局实例
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return &cfg, v, nil
}

// Init 初始化全局配置
func Init(configPath string) error {
	cfg, v, err := Load(configPath)
	if err != nil {
		return err
	}

	configMu.Lock()
	GlobalConfig = cfg
	viperInstance = v
	configMu.Unlock()
	return nil
}

// Watch 监听配置文件变化，重新解析后回调
// 已建立的连接和服务不会自动重建，回调方自行决定如何应用新配置
func Watch(onChange func(*Config, error)) {
	configMu.RLock()
	v := viperInstance
	configMu.RUnlock()
	if v == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onChange(nil, fmt.Errorf("重新解析配置文件 %s 失败: %w", e.Name, err))
			return
		}
		configMu.Lock()
		GlobalConfig = &cfg
		configMu.Unlock()
		onChange(&cfg, nil)
	})
	v.WatchConfig()
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return GlobalConfig
}
