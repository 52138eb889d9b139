package monitor

import (
	"math"
	"runtime"
	"runtime/debug"
)

// Unsubscribe 取消订阅，重复调用无副作用。
type Unsubscribe func()

// TimingSource 宿主的导航/资源计时来源，聚合器只读不写。
type TimingSource interface {
	// NavigationEntry 当前页面的导航计时，没有时返回 false。
	NavigationEntry() (NavigationEntry, bool)
	// ObserveNavigation 订阅之后的导航计时，并返回订阅时刻的当前导航（没有时为 nil）。
	// 订阅与读取当前导航是原子的，同一条导航不会既作为返回值又送达 fn。宿主不支持时返回错误。
	ObserveNavigation(fn func(NavigationEntry)) (*NavigationEntry, Unsubscribe, error)
	// ObserveResources 订阅之后的资源计时；宿主不支持时返回错误。
	ObserveResources(fn func(ResourceEntry)) (Unsubscribe, error)
}

// ErrorChannel 宿主的全局错误与未处理拒绝通道
type ErrorChannel interface {
	OnError(fn func(RuntimeError)) Unsubscribe
	OnRejection(fn func(Rejection)) Unsubscribe
}

// Environment 错误记录附带的上下文
type Environment interface {
	Location() string
	UserAgent() string
}

// Host 聚合器依赖的全部宿主能力
type Host interface {
	TimingSource
	ErrorChannel
	Environment
}

// MemorySource 可选的宿主内存计数
type MemorySource interface {
	MemoryUsage() (MemoryUsage, bool)
}

// RuntimeMemory 以 Go 运行时堆计数作为内存来源
type RuntimeMemory struct{}

// MemoryUsage 实现 MemorySource。Limit 取软内存上限，未设置时取向系统申请的总量。
func (RuntimeMemory) MemoryUsage() (MemoryUsage, bool) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	limit := ms.Sys
	if l := debug.SetMemoryLimit(-1); l > 0 && l != math.MaxInt64 {
		limit = uint64(l)
	}

	return MemoryUsage{
		Used:  ms.HeapAlloc,
		Total: ms.HeapSys,
		Limit: limit,
	}, true
}
