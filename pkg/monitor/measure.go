package monitor

import (
	"context"
)

// MeasureFunction 包装 fn：每次调用都记录一次耗时到 componentRenders[name]，
// 无论成功、返回错误还是 panic；错误原样返回，panic 在记录后继续抛出。
func (a *Aggregator) MeasureFunction(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	measured := Measure(a, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return func(ctx context.Context) error {
		_, err := measured(ctx)
		return err
	}
}

// Measure 是 MeasureFunction 的带返回值版本
func Measure[T any](a *Aggregator, name string, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		start := a.clock.Now()
		defer func() {
			a.RecordComponentRender(name, millis(a.clock.Since(start)))
		}()
		return fn(ctx)
	}
}
