// Package cache 提供按命名空间隔离的过期缓存：data、image、config 三个互不共享键的空间，
// 图片加载去重，以及周期性清理过期条目。
package cache

import (
	"context"
	"time"
)

// Namespace 缓存命名空间
type Namespace string

const (
	NamespaceData   Namespace = "data"
	NamespaceImage  Namespace = "image"
	NamespaceConfig Namespace = "config"
)

const (
	// DefaultDataTTL data 命名空间的默认生存时间
	DefaultDataTTL = 5 * time.Minute
	// DefaultConfigTTL config 命名空间的默认生存时间，配置变化较少
	DefaultConfigTTL = 10 * time.Minute
	// DefaultCleanupInterval 后台清理间隔
	DefaultCleanupInterval = 5 * time.Minute
)

// Entry 代表缓存中的一个条目。
type Entry struct {
	Value    interface{}   // 缓存的值，对缓存不透明
	StoredAt time.Time     // 写入时间
	TTL      time.Duration // 条目生存时间
}

// Expired 判断条目在 now 时刻是否已失效；now-StoredAt 恰好等于 TTL 时仍然有效。
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// SizeReport 各命名空间的原始条目数（包含尚未清理的过期条目）。
type SizeReport struct {
	Data   int `json:"data"`
	Images int `json:"images"`
	Config int `json:"config"`
}

// Stats 缓存统计信息，用于展示。
type Stats struct {
	DataCacheSize   int       `json:"data_cache_size"`
	ImageCacheSize  int       `json:"image_cache_size"`
	ConfigCacheSize int       `json:"config_cache_size"`
	TotalSize       int       `json:"total_size"`
	LastCleanup     time.Time `json:"last_cleanup"`
}

// ImageLoader 宿主提供的图片加载原语：加载并解码 url，成功返回 nil。
// 每次调用只发出一次结果。
type ImageLoader interface {
	Load(ctx context.Context, url string) error
}

// ImageLoaderFunc 允许普通函数作为 ImageLoader 使用
type ImageLoaderFunc func(ctx context.Context, url string) error

// Load 实现 ImageLoader
func (f ImageLoaderFunc) Load(ctx context.Context, url string) error {
	return f(ctx, url)
}

// SettlementStatus 单个预加载结果的状态
type SettlementStatus string

const (
	StatusFulfilled SettlementStatus = "fulfilled"
	StatusRejected  SettlementStatus = "rejected"
)

// Settlement 单个 URL 的预加载结果
type Settlement struct {
	URL    string           `json:"url"`
	Status SettlementStatus `json:"status"`
	Value  string           `json:"value,omitempty"`
	Reason string           `json:"reason,omitempty"`
	Err    error            `json:"-"`
}

// Fulfilled 是否加载成功
func (s Settlement) Fulfilled() bool {
	return s.Status == StatusFulfilled
}
