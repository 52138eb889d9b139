package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"contactperf/pkg/logger"
	"contactperf/pkg/monitor"
)

// DefaultPublishTimeout 单次 XADD 的超时
const DefaultPublishTimeout = 2 * time.Second

// StreamAdder *redis.Client 的子集
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStreamObserver 把事件以 JSON 追加到 Redis Stream，按 MAXLEN ~ 近似裁剪。
type RedisStreamObserver struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *logrus.Entry
}

// NewRedisStreamObserver 创建 Redis Stream 观察者，maxLen <= 0 表示不裁剪。
func NewRedisStreamObserver(client StreamAdder, stream string, maxLen int64) *RedisStreamObserver {
	return &RedisStreamObserver{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		timeout: DefaultPublishTimeout,
		logger:  logger.WithComponent("sink.redis"),
	}
}

// Observe 实现 monitor.Observer，发布失败只记录日志。
func (o *RedisStreamObserver) Observe(event monitor.EventName, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithField("event", event).Error("序列化事件失败")
		return
	}

	args := &redis.XAddArgs{
		Stream: o.stream,
		Values: map[string]interface{}{
			"event": string(event),
			"data":  data,
		},
	}
	if o.maxLen > 0 {
		args.MaxLen = o.maxLen
		args.Approx = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	result := o.client.XAdd(ctx, args)
	if err := result.Err(); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"stream": o.stream,
			"event":  event,
		}).Error("发布事件到 Redis Streams 失败")
		return
	}

	o.logger.WithFields(logrus.Fields{
		"stream":    o.stream,
		"messageID": result.Val(),
		"event":     event,
	}).Debug("事件发布成功")
}
