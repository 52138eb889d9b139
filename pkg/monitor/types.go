// Package monitor 收集页面加载、资源加载、组件渲染和错误事件，
// 按名称分桶给出 count/avg/min/max 统计，并维护启停监控的生命周期。
package monitor

import (
	"time"
)

// EventName 通知观察者时使用的事件名
type EventName string

const (
	EventPageLoad        EventName = "pageLoad"
	EventResourceLoad    EventName = "resourceLoad"
	EventComponentRender EventName = "componentRender"
	EventError           EventName = "error"
)

// 宿主通道上报的错误类别
const (
	KindRuntimeError       = "JavaScript Error"
	KindUnhandledRejection = "Unhandled Promise Rejection"
)

// DefaultErrorCapacity 错误日志容量
const DefaultErrorCapacity = 100

// NavigationEntry 页面导航计时，时间戳单位为毫秒（相对 timeOrigin）。
type NavigationEntry struct {
	Name                       string  `json:"name"`
	StartTime                  float64 `json:"start_time"`
	Duration                   float64 `json:"duration"`
	DomContentLoadedEventStart float64 `json:"dom_content_loaded_event_start"`
	DomContentLoadedEventEnd   float64 `json:"dom_content_loaded_event_end"`
	LoadEventStart             float64 `json:"load_event_start"`
	LoadEventEnd               float64 `json:"load_event_end"`
}

// ResourceEntry 单个资源的加载计时
type ResourceEntry struct {
	Name          string  `json:"name"`
	InitiatorType string  `json:"initiator_type"`
	StartTime     float64 `json:"start_time"`
	Duration      float64 `json:"duration"`
	TransferSize  int64   `json:"transfer_size,omitempty"`
}

// RuntimeError 宿主报告的未捕获运行时错误
type RuntimeError struct {
	Message  string `json:"message"`
	Filename string `json:"filename,omitempty"`
	Lineno   int    `json:"lineno,omitempty"`
	Colno    int    `json:"colno,omitempty"`
	Stack    string `json:"stack,omitempty"`
}

// Rejection 宿主报告的未处理异步拒绝
type Rejection struct {
	Reason string `json:"reason"`
}

// ErrorRecord 错误日志中的一条记录，追加后不再修改。
type ErrorRecord struct {
	ID        string      `json:"id"`
	Kind      string      `json:"type"`
	Details   interface{} `json:"details"`
	Timestamp time.Time   `json:"timestamp"`
	URL       string      `json:"url"`
	UserAgent string      `json:"user_agent"`
}

// ErrorSource 错误的来源页面与 UA，为空的字段回退到宿主环境。
type ErrorSource struct {
	URL       string `json:"url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// PageLoadPayload pageLoad 事件的载荷
type PageLoadPayload struct {
	LoadTime         float64         `json:"load_time"`
	DOMContentLoaded float64         `json:"dom_content_loaded"`
	Navigation       NavigationEntry `json:"navigation"`
}

// ResourceLoadPayload resourceLoad 事件的载荷
type ResourceLoadPayload struct {
	Type     string        `json:"type"`
	LoadTime float64       `json:"load_time"`
	Entry    ResourceEntry `json:"entry"`
}

// ComponentRenderPayload componentRender 事件的载荷
type ComponentRenderPayload struct {
	ComponentName string  `json:"component_name"`
	RenderTime    float64 `json:"render_time"`
}

// BucketStats 单个桶全部历史记录的统计
type BucketStats struct {
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Snapshot Metrics 返回的某一时刻的统计快照
type Snapshot struct {
	PageLoads        int64                  `json:"page_loads"`
	ComponentRenders map[string]BucketStats `json:"component_renders"`
	APICalls         map[string]BucketStats `json:"api_calls"`
	Errors           int                    `json:"errors"`
	CacheHits        int64                  `json:"cache_hits"`
	CacheMisses      int64                  `json:"cache_misses"`
	CacheHitRate     float64                `json:"cache_hit_rate"`
}

// MemoryUsage 宿主内存计数（字节），仅供参考。
type MemoryUsage struct {
	Used  uint64 `json:"used"`
	Total uint64 `json:"total"`
	Limit uint64 `json:"limit"`
}

// Export 统计、内存与采集时间的组合
type Export struct {
	Metrics   Snapshot     `json:"metrics"`
	Memory    *MemoryUsage `json:"memory"`
	Timestamp time.Time    `json:"timestamp"`
}
