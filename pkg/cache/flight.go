package cache

import (
	"context"
	"sync"
)

// FlightState 单个图片 URL 的加载状态
type FlightState int

const (
	// FlightAbsent 没有进行中或已完成的加载
	FlightAbsent FlightState = iota
	// FlightPending 加载进行中，新的调用方会等待同一次加载
	FlightPending
	// FlightResolved 加载成功，结果保留到 Clear 为止
	FlightResolved
)

func (s FlightState) String() string {
	switch s {
	case FlightPending:
		return "pending"
	case FlightResolved:
		return "resolved"
	default:
		return "absent"
	}
}

// imageFlight 一次图片加载。done 关闭后 value/err 不再变化。
type imageFlight struct {
	done  chan struct{}
	once  sync.Once
	value string
	err   error
}

func newImageFlight() *imageFlight {
	return &imageFlight{done: make(chan struct{})}
}

// complete 只生效一次
func (f *imageFlight) complete(value string, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *imageFlight) state() FlightState {
	select {
	case <-f.done:
		if f.err != nil {
			return FlightAbsent
		}
		return FlightResolved
	default:
		return FlightPending
	}
}

// wait 等待加载结果；ctx 结束只会停止等待，不会中止加载本身。
func (f *imageFlight) wait(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
