// Package beacon 把客户端上报的性能 beacon 转换为 monitor.Host 事件。
package beacon

import (
	"fmt"
	"sync"

	perrors "contactperf/pkg/error"
	"contactperf/pkg/monitor"
)

// Type beacon 类型
type Type string

const (
	TypeNavigation Type = "navigation"
	TypeResource   Type = "resource"
	TypeError      Type = "error"
	TypeRejection  Type = "rejection"
)

// Beacon 客户端上报的一条事件，按 Type 只填充对应字段。
type Beacon struct {
	Type       Type                     `json:"type"`
	URL        string                   `json:"url,omitempty"`
	UserAgent  string                   `json:"user_agent,omitempty"`
	Navigation *monitor.NavigationEntry `json:"navigation,omitempty"`
	Resource   *monitor.ResourceEntry   `json:"resource,omitempty"`
	Error      *monitor.RuntimeError    `json:"error,omitempty"`
	Rejection  *monitor.Rejection       `json:"rejection,omitempty"`
}

// Validate 检查类型与载荷是否匹配
func (b Beacon) Validate() error {
	var ok bool
	switch b.Type {
	case TypeNavigation:
		ok = b.Navigation != nil
	case TypeResource:
		ok = b.Resource != nil
	case TypeError:
		ok = b.Error != nil
	case TypeRejection:
		ok = b.Rejection != nil
	default:
		return perrors.NewError(perrors.ErrBeaconInvalid, fmt.Sprintf("unknown beacon type %q", b.Type))
	}
	if !ok {
		return perrors.NewError(perrors.ErrBeaconInvalid, fmt.Sprintf("beacon type %q has no %s payload", b.Type, b.Type))
	}
	return nil
}

// listener 带订阅序号的回调
type listener[T any] struct {
	id int
	fn func(T)
}

// listeners 按订阅顺序保存回调，调用方负责加锁。
type listeners[T any] struct {
	subs []listener[T]
}

func (l *listeners[T]) add(id int, fn func(T)) {
	l.subs = append(l.subs, listener[T]{id: id, fn: fn})
}

func (l *listeners[T]) remove(id int) {
	for i, sub := range l.subs {
		if sub.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *listeners[T]) snapshot() []func(T) {
	out := make([]func(T), len(l.subs))
	for i, sub := range l.subs {
		out[i] = sub.fn
	}
	return out
}

// Host 以 beacon 为事件来源的 monitor.Host 实现。
//
// 一个 Host 由所有客户端共享：Location 和 UserAgent 是最近一次携带这些字段的 beacon 的值，
// 并不区分客户端。需要按客户端归属的错误应通过 monitor.Aggregator.RecordErrorWithSource 记录。
type Host struct {
	mu        sync.RWMutex
	nav       *monitor.NavigationEntry
	location  string
	userAgent string

	nextID      int
	navFns      listeners[monitor.NavigationEntry]
	resourceFns listeners[monitor.ResourceEntry]
	errorFns    listeners[monitor.RuntimeError]
	rejectFns   listeners[monitor.Rejection]
}

var _ monitor.Host = (*Host)(nil)

// NewHost 创建 beacon 宿主
func NewHost() *Host {
	return &Host{}
}

// Ingest 按订阅顺序分发一条 beacon。导航 beacon 同时作为当前页面的导航计时保留。
func (h *Host) Ingest(b Beacon) error {
	if err := b.Validate(); err != nil {
		return err
	}

	// 保存状态与取订阅者快照在同一把锁内完成，
	// ObserveNavigation 据此保证每条导航只经由一条路径送达。
	h.mu.Lock()
	if b.URL != "" {
		h.location = b.URL
	}
	if b.UserAgent != "" {
		h.userAgent = b.UserAgent
	}

	var dispatch func()
	switch b.Type {
	case TypeNavigation:
		nav := *b.Navigation
		h.nav = &nav
		fns := h.navFns.snapshot()
		dispatch = func() {
			for _, fn := range fns {
				fn(nav)
			}
		}
	case TypeResource:
		fns := h.resourceFns.snapshot()
		dispatch = func() {
			for _, fn := range fns {
				fn(*b.Resource)
			}
		}
	case TypeError:
		fns := h.errorFns.snapshot()
		dispatch = func() {
			for _, fn := range fns {
				fn(*b.Error)
			}
		}
	case TypeRejection:
		fns := h.rejectFns.snapshot()
		dispatch = func() {
			for _, fn := range fns {
				fn(*b.Rejection)
			}
		}
	}
	h.mu.Unlock()

	dispatch()
	return nil
}

// NavigationEntry 最近一次导航 beacon
func (h *Host) NavigationEntry() (monitor.NavigationEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.nav == nil {
		return monitor.NavigationEntry{}, false
	}
	return *h.nav, true
}

// ObserveNavigation 订阅之后的导航 beacon，并返回订阅时刻的当前导航。
func (h *Host) ObserveNavigation(fn func(monitor.NavigationEntry)) (*monitor.NavigationEntry, monitor.Unsubscribe, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.navFns.add(id, fn)

	var current *monitor.NavigationEntry
	if h.nav != nil {
		nav := *h.nav
		current = &nav
	}
	return current, h.unsubscribe(func() { h.navFns.remove(id) }), nil
}

// ObserveResources 订阅资源 beacon
func (h *Host) ObserveResources(fn func(monitor.ResourceEntry)) (monitor.Unsubscribe, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.resourceFns.add(id, fn)
	return h.unsubscribe(func() { h.resourceFns.remove(id) }), nil
}

// OnError 订阅运行时错误 beacon
func (h *Host) OnError(fn func(monitor.RuntimeError)) monitor.Unsubscribe {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.errorFns.add(id, fn)
	return h.unsubscribe(func() { h.errorFns.remove(id) })
}

// OnRejection 订阅未处理拒绝 beacon
func (h *Host) OnRejection(fn func(monitor.Rejection)) monitor.Unsubscribe {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.rejectFns.add(id, fn)
	return h.unsubscribe(func() { h.rejectFns.remove(id) })
}

// Location 最近一次携带 url 的 beacon 的页面地址（所有客户端共享）
func (h *Host) Location() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.location
}

// UserAgent 最近一次携带 user_agent 的 beacon 的 UA（所有客户端共享）
func (h *Host) UserAgent() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.userAgent
}

// Subscribers 当前订阅数
func (h *Host) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.navFns.subs) + len(h.resourceFns.subs) + len(h.errorFns.subs) + len(h.rejectFns.subs)
}

func (h *Host) unsubscribe(del func()) monitor.Unsubscribe {
	return func() {
		h.mu.Lock()
		del()
		h.mu.Unlock()
	}
}
