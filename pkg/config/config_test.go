package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "contactperf/pkg/error"
)

// TestDefault 测试默认配置是否正确
func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)

	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.ConfigTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.CleanupInterval)
	assert.Equal(t, 30*time.Minute, cfg.Cache.ImageTTL)
	assert.Empty(t, cfg.Cache.PreloadImages)

	assert.Equal(t, 100, cfg.Monitor.ErrorCapacity)
	assert.True(t, cfg.Monitor.AutoStart)

	assert.Equal(t, 15*time.Second, cfg.ImageLoader.Timeout)
	assert.Equal(t, uint32(5), cfg.ImageLoader.Breaker.ReadyToTrip)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.InfluxDB.URL)

	assert.NoError(t, cfg.Validate(), "默认配置应该是有效的")
}

// TestValidate 测试配置验证功能
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"端口为空", func(c *Config) { c.Server.Port = "" }},
		{"默认TTL为0", func(c *Config) { c.Cache.DefaultTTL = 0 }},
		{"配置TTL为负数", func(c *Config) { c.Cache.ConfigTTL = -time.Second }},
		{"清扫间隔为0", func(c *Config) { c.Cache.CleanupInterval = 0 }},
		{"图片TTL为0", func(c *Config) { c.Cache.ImageTTL = 0 }},
		{"错误日志容量为0", func(c *Config) { c.Monitor.ErrorCapacity = 0 }},
		{"加载超时为0", func(c *Config) { c.ImageLoader.Timeout = 0 }},
		{"熔断阈值为0", func(c *Config) { c.ImageLoader.Breaker.ReadyToTrip = 0 }},
		{"启用Redis但没有Stream", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.Stream = "" }},
		{"启用InfluxDB但没有Bucket", func(c *Config) { c.InfluxDB.URL = "http://localhost:8086"; c.InfluxDB.Bucket = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, perrors.HasCode(err, perrors.ErrConfigInvalid))
		})
	}
}

// TestChainSetters 测试链式设置方法
func TestChainSetters(t *testing.T) {
	cfg := Default().
		SetDefaultTTL(time.Minute).
		SetCleanupInterval(30 * time.Second).
		SetPreloadImages("/img/logo.png", "/img/avatar.png").
		SetErrorCapacity(10).
		SetLogLevel("debug")

	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 30*time.Second, cfg.Cache.CleanupInterval)
	assert.Equal(t, []string{"/img/logo.png", "/img/avatar.png"}, cfg.Cache.PreloadImages)
	assert.Equal(t, 10, cfg.Monitor.ErrorCapacity)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Server, cfg.Server)
	assert.Equal(t, d.Cache.DefaultTTL, cfg.Cache.DefaultTTL)
	assert.Equal(t, d.Cache.CleanupInterval, cfg.Cache.CleanupInterval)
	assert.Empty(t, cfg.Cache.PreloadImages)
	assert.Equal(t, d.Monitor, cfg.Monitor)
	assert.Equal(t, d.ImageLoader, cfg.ImageLoader)
	assert.Equal(t, d.Logger, cfg.Logger)
	assert.Equal(t, d.Redis, cfg.Redis)
	assert.Equal(t, d.InfluxDB, cfg.InfluxDB)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contactperf.yaml")
	content := `
server:
  port: "9090"
cache:
  default_ttl: 2m
  preload_images:
    - /img/logo.png
    - /img/hero.jpg
monitor:
  error_capacity: 50
  auto_start: false
redis:
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("CONTACTPERF_CACHE_CLEANUP_INTERVAL", "1m")
	t.Setenv("CONTACTPERF_LOGGER_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.ConfigTTL)
	assert.Equal(t, time.Minute, cfg.Cache.CleanupInterval)
	assert.Equal(t, []string{"/img/logo.png", "/img/hero.jpg"}, cfg.Cache.PreloadImages)
	assert.Equal(t, 50, cfg.Monitor.ErrorCapacity)
	assert.False(t, cfg.Monitor.AutoStart)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "contactperf:events", cfg.Redis.Stream)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("monitor:\n  error_capacity: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, perrors.HasCode(err, perrors.ErrConfigInvalid))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
