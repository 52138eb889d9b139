package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contactperf/pkg/clock"
	"contactperf/pkg/logger"
)

// Config 聚合器配置
type Config struct {
	Host          Host         // 宿主能力，为空时 StartMonitoring 只切换状态
	Memory        MemorySource // 可选内存计数来源
	ErrorCapacity int          // 错误日志容量，默认100
	Clock         clock.Clock
	Logger        *logrus.Entry
}

// Aggregator 性能指标聚合器。
// 记录类接口在 stopped 和 active 状态下行为一致，只有宿主自动触发的监听器仅在 active 时记录。
type Aggregator struct {
	mu               sync.RWMutex
	pageLoads        int64
	componentRenders map[string][]float64
	apiCalls         map[string][]float64
	errors           *errorLog
	cacheHits        int64
	cacheMisses      int64

	observers observerSet

	lifeMu     sync.Mutex
	monitoring atomic.Bool
	unsubs     []Unsubscribe

	host   Host
	memory MemorySource
	clock  clock.Clock
	logger *logrus.Entry
}

// New 创建聚合器
func New(config Config) *Aggregator {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = logger.WithComponent("monitor")
	}

	return &Aggregator{
		componentRenders: make(map[string][]float64),
		apiCalls:         make(map[string][]float64),
		errors:           newErrorLog(config.ErrorCapacity),
		host:             config.Host,
		memory:           config.Memory,
		clock:            config.Clock,
		logger:           config.Logger,
	}
}

// StartMonitoring 开始监控：采集一次当前页面的导航计时，并订阅之后的导航、资源计时、运行时错误和未处理拒绝。
// 已在监控中时不做任何事。
func (a *Aggregator) StartMonitoring() {
	a.lifeMu.Lock()
	if a.monitoring.Load() {
		a.lifeMu.Unlock()
		return
	}
	a.monitoring.Store(true)

	var (
		nav    NavigationEntry
		hasNav bool
	)
	if a.host != nil {
		nav, hasNav = a.observeNavigation()
		a.observeResources()
		a.observeErrors()
	}
	a.lifeMu.Unlock()

	a.logger.Info("performance monitoring started")

	if hasNav {
		a.RecordPageLoad(nav)
	}
}

// StopMonitoring 停止监控并尽力取消宿主订阅；之后到达的宿主事件被丢弃。
func (a *Aggregator) StopMonitoring() {
	a.lifeMu.Lock()
	if !a.monitoring.Load() {
		a.lifeMu.Unlock()
		return
	}
	a.monitoring.Store(false)
	unsubs := a.unsubs
	a.unsubs = nil
	a.lifeMu.Unlock()

	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}

	a.logger.Info("performance monitoring stopped")
}

// Monitoring 是否处于 active 状态
func (a *Aggregator) Monitoring() bool {
	return a.monitoring.Load()
}

// observeNavigation 订阅导航计时并返回订阅时刻的当前导航。
// 宿主不支持订阅时退化为只采集一次当前导航。
func (a *Aggregator) observeNavigation() (NavigationEntry, bool) {
	current, unsub, err := a.host.ObserveNavigation(func(nav NavigationEntry) {
		if a.Monitoring() {
			a.RecordPageLoad(nav)
		}
	})
	if err != nil {
		a.logger.WithError(err).Warn("navigation timing observer not supported")
		return a.host.NavigationEntry()
	}
	a.unsubs = append(a.unsubs, unsub)

	if current == nil {
		return NavigationEntry{}, false
	}
	return *current, true
}

func (a *Aggregator) observeResources() {
	unsub, err := a.host.ObserveResources(func(entry ResourceEntry) {
		if a.Monitoring() {
			a.RecordResourceLoad(entry)
		}
	})
	if err != nil {
		a.logger.WithError(err).Warn("resource timing observer not supported")
		return
	}
	a.unsubs = append(a.unsubs, unsub)
}

func (a *Aggregator) observeErrors() {
	a.unsubs = append(a.unsubs,
		a.host.OnError(func(e RuntimeError) {
			if a.Monitoring() {
				a.RecordError(KindRuntimeError, e)
			}
		}),
		a.host.OnRejection(func(r Rejection) {
			if a.Monitoring() {
				a.RecordError(KindUnhandledRejection, r)
			}
		}),
	)
}

// RecordPageLoad 记录一次页面加载，计算 load 与 DOMContentLoaded 耗时并通知观察者。
func (a *Aggregator) RecordPageLoad(nav NavigationEntry) {
	a.mu.Lock()
	a.pageLoads++
	a.mu.Unlock()

	a.observers.notify(a.logger, EventPageLoad, PageLoadPayload{
		LoadTime:         nav.LoadEventEnd - nav.LoadEventStart,
		DOMContentLoaded: nav.DomContentLoadedEventEnd - nav.DomContentLoadedEventStart,
		Navigation:       nav,
	})
}

// RecordResourceLoad 按发起类型归类资源耗时，没有类型时归入 "unknown"。
func (a *Aggregator) RecordResourceLoad(entry ResourceEntry) {
	resourceType := entry.InitiatorType
	if resourceType == "" {
		resourceType = "unknown"
	}

	a.mu.Lock()
	a.apiCalls[resourceType] = append(a.apiCalls[resourceType], entry.Duration)
	a.mu.Unlock()

	a.observers.notify(a.logger, EventResourceLoad, ResourceLoadPayload{
		Type:     resourceType,
		LoadTime: entry.Duration,
		Entry:    entry,
	})
}

// RecordComponentRender 记录一次组件渲染耗时（毫秒）
func (a *Aggregator) RecordComponentRender(name string, durationMs float64) {
	a.mu.Lock()
	a.componentRenders[name] = append(a.componentRenders[name], durationMs)
	a.mu.Unlock()

	a.observers.notify(a.logger, EventComponentRender, ComponentRenderPayload{
		ComponentName: name,
		RenderTime:    durationMs,
	})
}

// RecordCacheHit 记录一次缓存命中或未命中
func (a *Aggregator) RecordCacheHit(hit bool) {
	a.mu.Lock()
	if hit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.mu.Unlock()
}

// RecordError 追加一条错误记录，超出容量时淘汰最早的一条。URL 与 UA 取自宿主环境。
func (a *Aggregator) RecordError(kind string, details interface{}) ErrorRecord {
	return a.RecordErrorWithSource(kind, details, ErrorSource{})
}

// RecordErrorWithSource 与 RecordError 相同，但优先使用 source 中非空的 URL 与 UA。
func (a *Aggregator) RecordErrorWithSource(kind string, details interface{}, source ErrorSource) ErrorRecord {
	rec := ErrorRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		Details:   details,
		Timestamp: a.clock.Now(),
		URL:       source.URL,
		UserAgent: source.UserAgent,
	}
	if a.host != nil {
		if rec.URL == "" {
			rec.URL = a.host.Location()
		}
		if rec.UserAgent == "" {
			rec.UserAgent = a.host.UserAgent()
		}
	}

	a.mu.Lock()
	a.errors.append(rec)
	a.mu.Unlock()

	a.observers.notify(a.logger, EventError, rec)
	return rec
}

// Errors 按从旧到新的顺序返回错误日志副本
func (a *Aggregator) Errors() []ErrorRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.errors.records()
}

// Metrics 计算当前统计快照，不修改状态。
func (a *Aggregator) Metrics() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var hitRate float64
	if total := a.cacheHits + a.cacheMisses; total > 0 {
		hitRate = float64(a.cacheHits) / float64(total)
	}

	return Snapshot{
		PageLoads:        a.pageLoads,
		ComponentRenders: summarizeAll(a.componentRenders),
		APICalls:         summarizeAll(a.apiCalls),
		Errors:           a.errors.len(),
		CacheHits:        a.cacheHits,
		CacheMisses:      a.cacheMisses,
		CacheHitRate:     hitRate,
	}
}

// ComponentStats 单个组件的渲染统计
func (a *Aggregator) ComponentStats(name string) (BucketStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	values, ok := a.componentRenders[name]
	if !ok {
		return BucketStats{}, false
	}
	return summarize(values), true
}

// AddObserver 订阅事件，返回用于取消订阅的 ID
func (a *Aggregator) AddObserver(fn Observer) ObserverID {
	return a.observers.add(fn)
}

// RemoveObserver 取消订阅，返回是否存在该订阅
func (a *Aggregator) RemoveObserver(id ObserverID) bool {
	return a.observers.remove(id)
}

// ObserverCount 当前观察者数量
func (a *Aggregator) ObserverCount() int {
	return a.observers.len()
}

// MemoryUsage 宿主内存计数，不可用时返回 nil。
func (a *Aggregator) MemoryUsage() *MemoryUsage {
	if a.memory == nil {
		return nil
	}
	usage, ok := a.memory.MemoryUsage()
	if !ok {
		return nil
	}
	return &usage
}

// Export 组合统计快照、内存计数和采集时间
func (a *Aggregator) Export() Export {
	return Export{
		Metrics:   a.Metrics(),
		Memory:    a.MemoryUsage(),
		Timestamp: a.clock.Now(),
	}
}

func summarizeAll(buckets map[string][]float64) map[string]BucketStats {
	out := make(map[string]BucketStats, len(buckets))
	for name, values := range buckets {
		out[name] = summarize(values)
	}
	return out
}

func summarize(values []float64) BucketStats {
	if len(values) == 0 {
		return BucketStats{}
	}

	stats := BucketStats{Count: len(values), Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Average = sum / float64(len(values))
	return stats
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
