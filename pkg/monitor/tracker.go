package monitor

import (
	"context"
	"sync"
)

// ComponentTracker 单个组件的渲染计数与计时助手
type ComponentTracker struct {
	name string
	agg  *Aggregator

	mu             sync.Mutex
	renderCount    int64
	lastRenderTime float64
}

// TrackerStats 组件渲染统计
type TrackerStats struct {
	RenderCount      int64        `json:"render_count"`
	LastRenderTime   float64      `json:"last_render_time"`
	ComponentMetrics *BucketStats `json:"component_metrics,omitempty"`
}

// Track 为组件创建渲染跟踪器
func (a *Aggregator) Track(component string) *ComponentTracker {
	return &ComponentTracker{name: component, agg: a}
}

// Name 组件名
func (t *ComponentTracker) Name() string {
	return t.name
}

// MeasureRender 开始一次渲染计时，返回的函数在渲染结束时调用。
func (t *ComponentTracker) MeasureRender() func() {
	start := t.agg.clock.Now()

	t.mu.Lock()
	t.renderCount++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			elapsed := millis(t.agg.clock.Since(start))

			t.mu.Lock()
			t.lastRenderTime = elapsed
			t.mu.Unlock()

			t.agg.RecordComponentRender(t.name, elapsed)
		})
	}
}

// MeasureFunction 以 "<组件>_<函数>" 为名计时 fn
func (t *ComponentTracker) MeasureFunction(fnName string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return t.agg.MeasureFunction(t.name+"_"+fnName, fn)
}

// Stats 返回组件的渲染统计
func (t *ComponentTracker) Stats() TrackerStats {
	t.mu.Lock()
	stats := TrackerStats{
		RenderCount:    t.renderCount,
		LastRenderTime: t.lastRenderTime,
	}
	t.mu.Unlock()

	if bucket, ok := t.agg.ComponentStats(t.name); ok {
		stats.ComponentMetrics = &bucket
	}
	return stats
}
