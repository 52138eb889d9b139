// Package sink 提供把聚合器事件导出到外部存储的观察者。
// 观察者在记录调用的 goroutine 上同步执行，所以写入都是非阻塞或有超时的。
package sink

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"contactperf/pkg/clock"
	"contactperf/pkg/logger"
	"contactperf/pkg/monitor"
)

// PointWriter influxdb2 api.WriteAPI 的子集
type PointWriter interface {
	WritePoint(point *write.Point)
}

// InfluxObserver 每个事件写一个数据点，tag event 为事件名。
type InfluxObserver struct {
	writer      PointWriter
	measurement string
	clock       clock.Clock
	logger      *logrus.Entry
}

// NewInfluxObserver 创建 InfluxDB 观察者，writer 通常是非阻塞的 api.WriteAPI。
func NewInfluxObserver(writer PointWriter, measurement string) *InfluxObserver {
	if measurement == "" {
		measurement = "perf_event"
	}
	return &InfluxObserver{
		writer:      writer,
		measurement: measurement,
		clock:       clock.Real(),
		logger:      logger.WithComponent("sink.influx"),
	}
}

// WithClock 替换时间源
func (o *InfluxObserver) WithClock(c clock.Clock) *InfluxObserver {
	o.clock = c
	return o
}

// Observe 实现 monitor.Observer
func (o *InfluxObserver) Observe(event monitor.EventName, payload interface{}) {
	point := o.toPoint(event, payload)
	if point == nil {
		o.logger.WithField("event", event).Debug("skip unsupported payload")
		return
	}
	o.writer.WritePoint(point)
}

func (o *InfluxObserver) toPoint(event monitor.EventName, payload interface{}) *write.Point {
	point := influxdb2.NewPointWithMeasurement(o.measurement).
		AddTag("event", string(event)).
		SetTime(o.clock.Now())

	switch p := payload.(type) {
	case monitor.PageLoadPayload:
		point.AddField("load_time", p.LoadTime).
			AddField("dom_content_loaded", p.DOMContentLoaded)
	case monitor.ResourceLoadPayload:
		point.AddTag("resource_type", p.Type).
			AddField("load_time", p.LoadTime)
		if p.Entry.TransferSize > 0 {
			point.AddField("transfer_size", p.Entry.TransferSize)
		}
	case monitor.ComponentRenderPayload:
		point.AddTag("component", p.ComponentName).
			AddField("render_time", p.RenderTime)
	case monitor.ErrorRecord:
		point.AddTag("kind", p.Kind).
			AddField("id", p.ID).
			AddField("count", 1).
			SetTime(p.Timestamp)
		if p.URL != "" {
			point.AddField("url", p.URL)
		}
	default:
		return nil
	}
	return point
}

// LogWriteErrors 持续记录异步写入错误，直到 ctx 结束或通道关闭。
func LogWriteErrors(ctx context.Context, errs <-chan error, log *logrus.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			log.WithError(err).Error("InfluxDB write error")
		}
	}
}
