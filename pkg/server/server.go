// Package server 通过 gin 暴露缓存与指标聚合器的 HTTP 接口。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"contactperf/pkg/beacon"
	"contactperf/pkg/cache"
	"contactperf/pkg/logger"
	"contactperf/pkg/monitor"
)

// ImageKeyPrefix 懒加载图片在数据命名空间中的键前缀
const ImageKeyPrefix = "image_"

// Config HTTP 服务配置
type Config struct {
	Port     string
	ImageTTL time.Duration // 懒加载图片结果在数据命名空间中的TTL
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIServer 性能服务
type APIServer struct {
	config  Config
	cache   *cache.Service
	monitor *monitor.Aggregator
	host    *beacon.Host
	logger  *logrus.Entry

	router *gin.Engine
	server *http.Server
}

// NewAPIServer 创建服务并注册路由
func NewAPIServer(config Config, cacheSvc *cache.Service, agg *monitor.Aggregator, host *beacon.Host) *APIServer {
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.ImageTTL <= 0 {
		config.ImageTTL = 30 * time.Minute
	}

	s := &APIServer{
		config:  config,
		cache:   cacheSvc,
		monitor: agg,
		host:    host,
		logger:  logger.WithComponent("server"),
	}
	s.router = s.setupRouter()
	return s
}

// WithLogger 替换日志器
func (s *APIServer) WithLogger(log *logrus.Entry) *APIServer {
	s.logger = log
	return s
}

// Handler 返回路由，便于测试或嵌入其他服务
func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) setupRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(s.corsMiddleware())

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	{
		// 事件上报
		v1.POST("/beacon", s.postBeacon)
		v1.POST("/renders", s.postRender)
		v1.POST("/errors", s.postError)

		// 监控生命周期
		v1.POST("/monitoring/start", s.startMonitoring)
		v1.POST("/monitoring/stop", s.stopMonitoring)

		// 指标
		v1.GET("/metrics", s.getMetrics)
		v1.GET("/metrics/errors", s.getErrors)

		// 缓存
		v1.GET("/cache/stats", s.getCacheStats)
		v1.POST("/cache/cleanup", s.cleanupCache)
		v1.DELETE("/cache", s.clearCache)

		// 图片
		v1.GET("/images", s.getImage)
		v1.POST("/images/preload", s.preloadImages)
	}

	return router
}

// Start 在后台 goroutine 中监听
func (s *APIServer) Start() error {
	s.server = &http.Server{
		Addr:    ":" + s.config.Port,
		Handler: s.router,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting API server...")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()

	return nil
}

// Stop 优雅关闭，最多等待10秒
func (s *APIServer) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to gracefully shutdown server")
		return err
	}
	return nil
}

func (s *APIServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("request handled")
	}
}

func (s *APIServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"timestamp":  time.Now(),
		"monitoring": s.monitor.Monitoring(),
		"sweeping":   s.cache.Running(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: err.Error(),
	})
}
