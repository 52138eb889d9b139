package cache

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"contactperf/pkg/logger"
)

// headerLimit 解码图片头部最多读取的字节数
const headerLimit = 1 << 20

// BreakerConfig 图片主机熔断器配置
type BreakerConfig struct {
	Name        string        `mapstructure:"name" yaml:"name"`                   // 熔断器名称
	MaxRequests uint32        `mapstructure:"max_requests" yaml:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`           // 统计窗口时间
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`             // 熔断器打开后的超时时间
	ReadyToTrip uint32        `mapstructure:"ready_to_trip" yaml:"ready_to_trip"` // 触发熔断的连续失败次数
}

// HTTPImageLoaderConfig HTTP 图片加载器配置
type HTTPImageLoaderConfig struct {
	Timeout   time.Duration
	UserAgent string
	Breaker   BreakerConfig
	Client    *http.Client
	Logger    *logrus.Entry
}

// DefaultHTTPImageLoaderConfig 默认配置
func DefaultHTTPImageLoaderConfig() HTTPImageLoaderConfig {
	return HTTPImageLoaderConfig{
		Timeout:   15 * time.Second,
		UserAgent: "ContactPerf/1.0",
		Breaker: BreakerConfig{
			Name:        "ImageHost",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: 5,
		},
	}
}

// HTTPImageLoader 通过 HTTP 拉取图片并解码头部，相当于浏览器的 onload/onerror。
// 连续失败达到阈值后熔断，熔断期间的请求直接以 ImageLoadError 失败。
type HTTPImageLoader struct {
	client    *http.Client
	cb        *gobreaker.CircuitBreaker
	userAgent string
	logger    *logrus.Entry
}

// NewHTTPImageLoader 创建 HTTP 图片加载器
func NewHTTPImageLoader(config HTTPImageLoaderConfig) *HTTPImageLoader {
	if config.Logger == nil {
		config.Logger = logger.WithComponent("image_loader")
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	trip := config.Breaker.ReadyToTrip
	if trip == 0 {
		trip = 5
	}

	l := &HTTPImageLoader{
		client:    client,
		userAgent: config.UserAgent,
		logger:    config.Logger,
	}

	l.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Breaker.Name,
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("image host breaker state changed")
		},
	})

	return l
}

// Load 实现 ImageLoader
func (l *HTTPImageLoader) Load(ctx context.Context, url string) error {
	_, err := l.cb.Execute(func() (interface{}, error) {
		return nil, l.fetch(ctx, url)
	})
	if err != nil {
		return NewImageLoadError(url, err)
	}
	return nil
}

// State 当前熔断器状态
func (l *HTTPImageLoader) State() gobreaker.State {
	return l.cb.State()
}

func (l *HTTPImageLoader) fetch(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	_, _, err = image.DecodeConfig(io.LimitReader(resp.Body, headerLimit))
	if err == nil {
		return nil
	}
	// svg、webp 等格式没有注册解码器，按 Content-Type 认可
	if errors.Is(err, image.ErrFormat) && strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil
	}
	return fmt.Errorf("decode image: %w", err)
}
