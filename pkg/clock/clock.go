// Package clock 提供可注入的时间源，缓存 TTL 与耗时统计都通过它取时间，测试中可替换为 Mock。
package clock

import (
	"sync"
	"time"
)

// Clock 时间源
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type realClock struct{}

// Real 返回基于系统时间的时钟
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                  { return time.Now() }
func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

// Mock 手动推进的时钟，并发安全。
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock 创建一个停在 start 时刻的 Mock 时钟
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now 返回当前模拟时间
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Since 返回自 t 以来的模拟耗时
func (m *Mock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance 将模拟时间向前推进 d
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set 将模拟时间设置为 t
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
