package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"contactperf/pkg/clock"
	"contactperf/pkg/logger"
)

// ServiceConfig 缓存服务配置
type ServiceConfig struct {
	DefaultTTL      time.Duration // data 命名空间默认TTL
	ConfigTTL       time.Duration // config 命名空间默认TTL
	CleanupInterval time.Duration // 后台清理间隔
	Loader          ImageLoader   // 图片加载原语，为空时使用 HTTPImageLoader
	Clock           clock.Clock
	Logger          *logrus.Entry
}

// DefaultServiceConfig 返回默认配置
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultTTL:      DefaultDataTTL,
		ConfigTTL:       DefaultConfigTTL,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Service 多命名空间过期缓存。
// 三个命名空间由同一把锁保护，Clear 对调用方来说是原子的。
type Service struct {
	mu     sync.RWMutex
	data   map[string]*Entry
	config map[string]*Entry
	images map[string]*imageFlight

	defaultTTL      time.Duration
	configTTL       time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time

	loader ImageLoader
	clock  clock.Clock
	logger *logrus.Entry

	// 后台清理
	lifeMu sync.Mutex
	cron   *cron.Cron
}

// NewService 创建缓存服务，后台清理需要调用 Start 启动。
func NewService(config ServiceConfig) *Service {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultDataTTL
	}
	if config.ConfigTTL <= 0 {
		config.ConfigTTL = DefaultConfigTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = logger.WithComponent("cache")
	}
	if config.Loader == nil {
		config.Loader = NewHTTPImageLoader(DefaultHTTPImageLoaderConfig())
	}

	return &Service{
		data:            make(map[string]*Entry),
		config:          make(map[string]*Entry),
		images:          make(map[string]*imageFlight),
		defaultTTL:      config.DefaultTTL,
		configTTL:       config.ConfigTTL,
		cleanupInterval: config.CleanupInterval,
		lastCleanup:     config.Clock.Now(),
		loader:          config.Loader,
		clock:           config.Clock,
		logger:          config.Logger,
	}
}

// Set 写入 data 命名空间；ttl<=0 时使用默认TTL。
func (s *Service) Set(key string, value interface{}, ttl time.Duration) {
	s.put(NamespaceData, key, value, ttl)
}

// Get 读取 data 命名空间；过期条目视为不存在并被删除。
func (s *Service) Get(key string) (interface{}, bool) {
	return s.lookup(NamespaceData, key)
}

// Has 判断 data 命名空间中是否存在未过期的 key
func (s *Service) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete 删除 data 命名空间中的 key，不论是否过期；返回 key 是否存在。
func (s *Service) Delete(key string) bool {
	return s.remove(NamespaceData, key)
}

// SetConfig 写入 config 命名空间；ttl<=0 时使用配置默认TTL（10分钟）。
func (s *Service) SetConfig(key string, value interface{}, ttl time.Duration) {
	s.put(NamespaceConfig, key, value, ttl)
}

// GetConfig 读取 config 命名空间
func (s *Service) GetConfig(key string) (interface{}, bool) {
	return s.lookup(NamespaceConfig, key)
}

// DeleteConfig 删除 config 命名空间中的 key
func (s *Service) DeleteConfig(key string) bool {
	return s.remove(NamespaceConfig, key)
}

// Clear 清空全部三个命名空间。
// 进行中的图片加载完成后不会再写回被清空的命名空间。
func (s *Service) Clear() {
	s.mu.Lock()
	s.data = make(map[string]*Entry)
	s.config = make(map[string]*Entry)
	s.images = make(map[string]*imageFlight)
	s.mu.Unlock()

	s.logger.Debug("cache cleared")
}

// CacheImage 加载并缓存图片。同一 URL 的并发调用共享一次加载；
// 已成功的 URL 直接返回。失败时返回 *ImageLoadError 且移除进行中标记，下次调用会重新加载。
func (s *Service) CacheImage(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	f, ok := s.images[url]
	if !ok {
		f = newImageFlight()
		s.images[url] = f
	}
	s.mu.Unlock()

	if !ok {
		go s.runFlight(url, f)
	}

	return f.wait(ctx)
}

// ImageState 返回 URL 当前的加载状态
func (s *Service) ImageState(url string) FlightState {
	s.mu.RLock()
	f, ok := s.images[url]
	s.mu.RUnlock()
	if !ok {
		return FlightAbsent
	}
	return f.state()
}

// PreloadImages 并发加载所有 URL 并等待全部结束，不因单个失败提前返回。
// 结果与 urls 顺序一一对应。
func (s *Service) PreloadImages(ctx context.Context, urls []string) []Settlement {
	results := make([]Settlement, len(urls))

	var wg conc.WaitGroup
	for i, url := range urls {
		i, url := i, url
		wg.Go(func() {
			value, err := s.CacheImage(ctx, url)
			results[i] = settle(url, value, err)
		})
	}
	wg.Wait()

	return results
}

// CacheSize 返回各命名空间的原始条目数，不过滤过期条目。
func (s *Service) CacheSize() SizeReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SizeReport{
		Data:   len(s.data),
		Images: len(s.images),
		Config: len(s.config),
	}
}

// Stats 获取缓存统计信息
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		DataCacheSize:   len(s.data),
		ImageCacheSize:  len(s.images),
		ConfigCacheSize: len(s.config),
		TotalSize:       len(s.data) + len(s.images) + len(s.config),
		LastCleanup:     s.lastCleanup,
	}
}

// Cleanup 清理 data 和 config 命名空间中的过期条目（不处理 image），返回删除数量。
func (s *Service) Cleanup() int {
	now := s.clock.Now()

	s.mu.Lock()
	removed := sweep(s.data, now) + sweep(s.config, now)
	s.lastCleanup = now
	s.mu.Unlock()

	if removed > 0 {
		s.logger.WithField("removed", removed).Debug("expired cache entries swept")
	}
	return removed
}

// Start 启动后台清理任务，重复调用无副作用。
func (s *Service) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cron != nil {
		return nil
	}

	cronLogger := cron.PrintfLogger(s.logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	spec := fmt.Sprintf("@every %s", s.cleanupInterval)
	if _, err := c.AddFunc(spec, func() { s.Cleanup() }); err != nil {
		return fmt.Errorf("schedule cache cleanup: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.WithField("interval", s.cleanupInterval.String()).Info("cache cleanup started")
	return nil
}

// Stop 停止后台清理并等待正在执行的清理结束，重复调用无副作用。
func (s *Service) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("cache cleanup stopped")
}

// Running 后台清理是否在运行
func (s *Service) Running() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.cron != nil
}

// Close 实现 io.Closer
func (s *Service) Close() error {
	s.Stop()
	return nil
}

func (s *Service) space(ns Namespace) map[string]*Entry {
	if ns == NamespaceConfig {
		return s.config
	}
	return s.data
}

func (s *Service) put(ns Namespace, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
		if ns == NamespaceConfig {
			ttl = s.configTTL
		}
	}

	entry := &Entry{
		Value:    value,
		StoredAt: s.clock.Now(),
		TTL:      ttl,
	}

	s.mu.Lock()
	s.space(ns)[key] = entry
	s.mu.Unlock()
}

func (s *Service) lookup(ns Namespace, key string) (interface{}, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	entry, ok := s.space(ns)[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !entry.Expired(now) {
		return entry.Value, true
	}

	// 只删除读到的那个条目，期间被重新写入的新值保留
	s.mu.Lock()
	m := s.space(ns)
	if cur, exists := m[key]; exists && cur == entry {
		delete(m, key)
	}
	s.mu.Unlock()

	return nil, false
}

func (s *Service) remove(ns Namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.space(ns)
	_, ok := m[key]
	delete(m, key)
	return ok
}

// runFlight 执行一次图片加载。加载使用独立的 context，调用方取消不会中止它。
func (s *Service) runFlight(url string, f *imageFlight) {
	err := s.load(url)
	if err != nil {
		if _, ok := err.(*ImageLoadError); !ok {
			err = NewImageLoadError(url, err)
		}

		// 先移除标记再通知等待方，保证等待方立即重试时会发起新的加载
		s.mu.Lock()
		if cur, ok := s.images[url]; ok && cur == f {
			delete(s.images, url)
		}
		s.mu.Unlock()

		s.logger.WithError(err).WithField("url", url).Warn("image load failed")
	}

	f.complete(url, err)
}

func (s *Service) load(url string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image loader panic: %v", r)
		}
	}()
	return s.loader.Load(context.Background(), url)
}

func sweep(m map[string]*Entry, now time.Time) int {
	removed := 0
	for key, entry := range m {
		if entry.Expired(now) {
			delete(m, key)
			removed++
		}
	}
	return removed
}

func settle(url, value string, err error) Settlement {
	if err != nil {
		return Settlement{URL: url, Status: StatusRejected, Reason: err.Error(), Err: err}
	}
	return Settlement{URL: url, Status: StatusFulfilled, Value: value}
}
