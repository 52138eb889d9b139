package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"contactperf/pkg/beacon"
	"contactperf/pkg/cache"
	"contactperf/pkg/config"
	"contactperf/pkg/logger"
	"contactperf/pkg/monitor"
	"contactperf/pkg/server"
	"contactperf/pkg/sink"
)

var (
	configPath = flag.String("config", "", "配置文件路径")
	logLevel   = flag.String("log-level", "", "日志级别，覆盖配置文件")
	port       = flag.String("port", "", "监听端口，覆盖配置文件")
)

// closer 关闭时按注册的逆序执行
type closer func() error

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if *logLevel != "" {
		cfg.SetLogLevel(*logLevel)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger.Init(cfg.Logger)
	log := logger.WithComponent("main")

	gin.SetMode(cfg.Server.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []closer

	// 缓存
	loader := cache.NewHTTPImageLoader(cache.HTTPImageLoaderConfig{
		Timeout:   cfg.ImageLoader.Timeout,
		UserAgent: cfg.ImageLoader.UserAgent,
		Breaker: cache.BreakerConfig{
			Name:        "ImageHost",
			MaxRequests: cfg.ImageLoader.Breaker.MaxRequests,
			Interval:    cfg.ImageLoader.Breaker.Interval,
			Timeout:     cfg.ImageLoader.Breaker.Timeout,
			ReadyToTrip: cfg.ImageLoader.Breaker.ReadyToTrip,
		},
	})

	cacheSvc := cache.NewService(cache.ServiceConfig{
		DefaultTTL:      cfg.Cache.DefaultTTL,
		ConfigTTL:       cfg.Cache.ConfigTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Loader:          loader,
	})
	if err := cacheSvc.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start cache cleanup")
	}
	closers = append(closers, cacheSvc.Close)

	// 指标聚合
	host := beacon.NewHost()
	agg := monitor.New(monitor.Config{
		Host:          host,
		Memory:        monitor.RuntimeMemory{},
		ErrorCapacity: cfg.Monitor.ErrorCapacity,
	})
	closers = append(closers, func() error {
		agg.StopMonitoring()
		return nil
	})

	closers = append(closers, attachSinks(ctx, cfg, agg, log)...)

	if cfg.Monitor.AutoStart {
		agg.StartMonitoring()
	}

	if len(cfg.Cache.PreloadImages) > 0 {
		go preload(ctx, cacheSvc, cfg.Cache.PreloadImages, log)
	}

	// HTTP
	apiServer := server.NewAPIServer(server.Config{
		Port:     cfg.Server.Port,
		ImageTTL: cfg.Cache.ImageTTL,
	}, cacheSvc, agg, host)
	if err := apiServer.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start API server")
	}
	closers = append(closers, apiServer.Stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down...")
	cancel()

	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, closers[i]())
	}
	if errs != nil {
		for _, e := range multierr.Errors(errs) {
			log.WithError(e).Error("shutdown error")
		}
		os.Exit(1)
	}

	log.Info("Shutdown complete")
}

// attachSinks 按配置注册 Redis Stream 和 InfluxDB 观察者，连接失败时只告警不退出。
func attachSinks(ctx context.Context, cfg *config.Config, agg *monitor.Aggregator, log *logrus.Entry) []closer {
	var closers []closer

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()

		if err != nil {
			log.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Redis unavailable, stream sink disabled")
			_ = client.Close()
		} else {
			obs := sink.NewRedisStreamObserver(client, cfg.Redis.Stream, cfg.Redis.MaxLen)
			agg.AddObserver(obs.Observe)
			closers = append(closers, client.Close)
			log.WithField("stream", cfg.Redis.Stream).Info("Redis stream sink enabled")
		}
	}

	if cfg.InfluxDB.URL != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.URL, cfg.InfluxDB.Token)
		writeAPI := client.WriteAPI(cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
		go sink.LogWriteErrors(ctx, writeAPI.Errors(), logger.WithComponent("sink.influx"))

		obs := sink.NewInfluxObserver(writeAPI, cfg.InfluxDB.Measurement)
		agg.AddObserver(obs.Observe)
		closers = append(closers, func() error {
			writeAPI.Flush()
			client.Close()
			return nil
		})
		log.WithField("bucket", cfg.InfluxDB.Bucket).Info("InfluxDB sink enabled")
	}

	return closers
}

func preload(ctx context.Context, cacheSvc *cache.Service, urls []string, log *logrus.Entry) {
	start := time.Now()
	results := cacheSvc.PreloadImages(ctx, urls)

	fulfilled := 0
	for _, r := range results {
		if r.Fulfilled() {
			fulfilled++
			continue
		}
		log.WithField("url", r.URL).WithField("reason", r.Reason).Warn("critical image preload failed")
	}

	log.WithFields(logrus.Fields{
		"total":     len(results),
		"fulfilled": fulfilled,
		"duration":  time.Since(start),
	}).Info("critical images preloaded")
}
