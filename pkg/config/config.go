package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	perrors "contactperf/pkg/error"
	"contactperf/pkg/logger"
)

// EnvPrefix 环境变量前缀，例如 CONTACTPERF_CACHE_DEFAULT_TTL
const EnvPrefix = "CONTACTPERF"

// Config 主配置结构
type Config struct {
	// HTTP 服务配置
	Server ServerConfig `mapstructure:"server" json:"server" yaml:"server"`

	// 缓存配置
	Cache CacheConfig `mapstructure:"cache" json:"cache" yaml:"cache"`

	// 指标聚合配置
	Monitor MonitorConfig `mapstructure:"monitor" json:"monitor" yaml:"monitor"`

	// 图片加载器配置
	ImageLoader ImageLoaderConfig `mapstructure:"image_loader" json:"image_loader" yaml:"image_loader"`

	// 日志配置
	Logger logger.Config `mapstructure:"logger" json:"logger" yaml:"logger"`

	// 可选的事件导出目标
	Redis    RedisConfig    `mapstructure:"redis" json:"redis" yaml:"redis"`
	InfluxDB InfluxDBConfig `mapstructure:"influxdb" json:"influxdb" yaml:"influxdb"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port string `mapstructure:"port" json:"port" yaml:"port"`
	Mode string `mapstructure:"mode" json:"mode" yaml:"mode"` // debug, release, test
}

// CacheConfig 缓存配置
type CacheConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl" json:"default_ttl" yaml:"default_ttl"`                // 数据命名空间默认TTL
	ConfigTTL       time.Duration `mapstructure:"config_ttl" json:"config_ttl" yaml:"config_ttl"`                   // 配置命名空间默认TTL
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval" yaml:"cleanup_interval"` // 过期清扫间隔
	ImageTTL        time.Duration `mapstructure:"image_ttl_data" json:"image_ttl_data" yaml:"image_ttl_data"`       // 懒加载图片在数据命名空间的TTL
	PreloadImages   []string      `mapstructure:"preload_images" json:"preload_images" yaml:"preload_images"`       // 启动时预加载的关键图片
}

// MonitorConfig 指标聚合配置
type MonitorConfig struct {
	ErrorCapacity int  `mapstructure:"error_capacity" json:"error_capacity" yaml:"error_capacity"` // 错误日志容量
	AutoStart     bool `mapstructure:"auto_start" json:"auto_start" yaml:"auto_start"`             // 启动时自动开始监控
}

// ImageLoaderConfig 图片加载器配置
type ImageLoaderConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" json:"user_agent" yaml:"user_agent"`
	Breaker   BreakerConfig `mapstructure:"breaker" json:"breaker" yaml:"breaker"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests" json:"max_requests" yaml:"max_requests"`
	Interval    time.Duration `mapstructure:"interval" json:"interval" yaml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	ReadyToTrip uint32        `mapstructure:"ready_to_trip" json:"ready_to_trip" yaml:"ready_to_trip"`
}

// RedisConfig Redis Stream 导出配置，Addr 为空时不启用
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr" yaml:"addr"`
	Password string `mapstructure:"password" json:"-" yaml:"password"`
	DB       int    `mapstructure:"db" json:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" json:"stream" yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" json:"max_len" yaml:"max_len"`
}

// InfluxDBConfig InfluxDB 导出配置，URL 为空时不启用
type InfluxDBConfig struct {
	URL         string `mapstructure:"url" json:"url" yaml:"url"`
	Token       string `mapstructure:"token" json:"-" yaml:"token"`
	Org         string `mapstructure:"org" json:"org" yaml:"org"`
	Bucket      string `mapstructure:"bucket" json:"bucket" yaml:"bucket"`
	Measurement string `mapstructure:"measurement" json:"measurement" yaml:"measurement"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "release",
		},
		Cache: CacheConfig{
			DefaultTTL:      5 * time.Minute,
			ConfigTTL:       10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			ImageTTL:        30 * time.Minute,
		},
		Monitor: MonitorConfig{
			ErrorCapacity: 100,
			AutoStart:     true,
		},
		ImageLoader: ImageLoaderConfig{
			Timeout:   15 * time.Second,
			UserAgent: "ContactPerf/1.0",
			Breaker: BreakerConfig{
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: 5,
			},
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Redis: RedisConfig{
			Stream: "contactperf:events",
			MaxLen: 10000,
		},
		InfluxDB: InfluxDBConfig{
			Org:         "contactperf",
			Bucket:      "perf_events",
			Measurement: "perf_event",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return invalid("server.port cannot be empty")
	}

	if c.Cache.DefaultTTL <= 0 {
		return invalid("cache.default_ttl must be positive")
	}

	if c.Cache.ConfigTTL <= 0 {
		return invalid("cache.config_ttl must be positive")
	}

	if c.Cache.CleanupInterval <= 0 {
		return invalid("cache.cleanup_interval must be positive")
	}

	if c.Cache.ImageTTL <= 0 {
		return invalid("cache.image_ttl_data must be positive")
	}

	if c.Monitor.ErrorCapacity <= 0 {
		return invalid("monitor.error_capacity must be positive")
	}

	if c.ImageLoader.Timeout <= 0 {
		return invalid("image_loader.timeout must be positive")
	}

	if c.ImageLoader.Breaker.ReadyToTrip == 0 {
		return invalid("image_loader.breaker.ready_to_trip must be positive")
	}

	if c.Redis.Addr != "" && c.Redis.Stream == "" {
		return invalid("redis.stream cannot be empty when redis.addr is set")
	}

	if c.InfluxDB.URL != "" && (c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		return invalid("influxdb.org and influxdb.bucket are required when influxdb.url is set")
	}

	return nil
}

func invalid(msg string) error {
	return perrors.NewError(perrors.ErrConfigInvalid, msg)
}

// SetDefaultTTL 设置数据命名空间默认TTL
func (c *Config) SetDefaultTTL(ttl time.Duration) *Config {
	c.Cache.DefaultTTL = ttl
	return c
}

// SetCleanupInterval 设置过期清扫间隔
func (c *Config) SetCleanupInterval(interval time.Duration) *Config {
	c.Cache.CleanupInterval = interval
	return c
}

// SetPreloadImages 设置启动时预加载的图片
func (c *Config) SetPreloadImages(urls ...string) *Config {
	c.Cache.PreloadImages = urls
	return c
}

// SetErrorCapacity 设置错误日志容量
func (c *Config) SetErrorCapacity(capacity int) *Config {
	c.Monitor.ErrorCapacity = capacity
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}

// Load 读取配置：默认值 < 配置文件 < 环境变量。
// path 为空时依次查找 ./config/contactperf.yaml 和 ./contactperf.yaml，找不到不算错误。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("contactperf")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 注册所有键，AutomaticEnv 只对已知键生效
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.config_ttl", d.Cache.ConfigTTL)
	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.image_ttl_data", d.Cache.ImageTTL)
	v.SetDefault("cache.preload_images", d.Cache.PreloadImages)

	v.SetDefault("monitor.error_capacity", d.Monitor.ErrorCapacity)
	v.SetDefault("monitor.auto_start", d.Monitor.AutoStart)

	v.SetDefault("image_loader.timeout", d.ImageLoader.Timeout)
	v.SetDefault("image_loader.user_agent", d.ImageLoader.UserAgent)
	v.SetDefault("image_loader.breaker.max_requests", d.ImageLoader.Breaker.MaxRequests)
	v.SetDefault("image_loader.breaker.interval", d.ImageLoader.Breaker.Interval)
	v.SetDefault("image_loader.breaker.timeout", d.ImageLoader.Breaker.Timeout)
	v.SetDefault("image_loader.breaker.ready_to_trip", d.ImageLoader.Breaker.ReadyToTrip)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.output", d.Logger.Output)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.stream", d.Redis.Stream)
	v.SetDefault("redis.max_len", d.Redis.MaxLen)

	v.SetDefault("influxdb.url", d.InfluxDB.URL)
	v.SetDefault("influxdb.token", d.InfluxDB.Token)
	v.SetDefault("influxdb.org", d.InfluxDB.Org)
	v.SetDefault("influxdb.bucket", d.InfluxDB.Bucket)
	v.SetDefault("influxdb.measurement", d.InfluxDB.Measurement)
}
