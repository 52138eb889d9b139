package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"contactperf/pkg/beacon"
	"contactperf/pkg/cache"
	"contactperf/pkg/monitor"
	"contactperf/pkg/report"
)

// RenderRequest 组件渲染上报
type RenderRequest struct {
	ComponentName string  `json:"component_name" binding:"required"`
	RenderTime    float64 `json:"render_time" binding:"min=0"`
}

// ErrorRequest 显式错误上报。url 与 user_agent 为空时使用宿主最近一次记录的值。
type ErrorRequest struct {
	Type      string      `json:"type" binding:"required"`
	Details   interface{} `json:"details"`
	URL       string      `json:"url"`
	UserAgent string      `json:"user_agent"`
}

// PreloadRequest 图片预加载请求
type PreloadRequest struct {
	URLs []string `json:"urls"`
}

// postBeacon 接收单个 beacon 或 beacon 数组
func (s *APIServer) postBeacon(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}

	beacons, err := decodeBeacons(body)
	if err != nil {
		badRequest(c, err)
		return
	}

	accepted := 0
	var rejected []string
	for _, b := range beacons {
		if err := s.host.Ingest(b); err != nil {
			rejected = append(rejected, err.Error())
			continue
		}
		accepted++
	}

	status := http.StatusAccepted
	if accepted == 0 && len(rejected) > 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"accepted": accepted,
		"rejected": rejected,
	})
}

func decodeBeacons(body []byte) ([]beacon.Beacon, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	if trimmed[0] == '[' {
		var beacons []beacon.Beacon
		if err := json.Unmarshal(trimmed, &beacons); err != nil {
			return nil, err
		}
		return beacons, nil
	}

	var b beacon.Beacon
	if err := json.Unmarshal(trimmed, &b); err != nil {
		return nil, err
	}
	return []beacon.Beacon{b}, nil
}

func (s *APIServer) postRender(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	s.monitor.RecordComponentRender(req.ComponentName, req.RenderTime)
	c.Status(http.StatusAccepted)
}

func (s *APIServer) postError(c *gin.Context) {
	var req ErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rec := s.monitor.RecordErrorWithSource(req.Type, req.Details, monitor.ErrorSource{
		URL:       req.URL,
		UserAgent: req.UserAgent,
	})
	c.JSON(http.StatusCreated, rec)
}

func (s *APIServer) startMonitoring(c *gin.Context) {
	s.monitor.StartMonitoring()
	c.JSON(http.StatusOK, gin.H{"monitoring": s.monitor.Monitoring()})
}

func (s *APIServer) stopMonitoring(c *gin.Context) {
	s.monitor.StopMonitoring()
	c.JSON(http.StatusOK, gin.H{"monitoring": s.monitor.Monitoring()})
}

// getMetrics 返回导出数据，format=text 时返回文本仪表盘
func (s *APIServer) getMetrics(c *gin.Context) {
	exp := s.monitor.Export()

	if strings.EqualFold(c.Query("format"), "text") {
		var buf bytes.Buffer
		if err := report.Render(&buf, exp, s.cache.Stats()); err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "render_failed", Message: err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", buf.Bytes())
		return
	}

	c.JSON(http.StatusOK, exp)
}

func (s *APIServer) getErrors(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Errors())
}

func (s *APIServer) getCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats())
}

func (s *APIServer) cleanupCache(c *gin.Context) {
	removed := s.cache.Cleanup()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *APIServer) clearCache(c *gin.Context) {
	s.cache.Clear()
	c.Status(http.StatusNoContent)
}

// getImage 懒加载图片：先查数据命名空间，未命中时加载并缓存结果。
func (s *APIServer) getImage(c *gin.Context) {
	src := c.Query("src")
	if src == "" {
		badRequest(c, errors.New("src is required"))
		return
	}

	key := ImageKeyPrefix + src
	if v, ok := s.cache.Get(key); ok {
		s.monitor.RecordCacheHit(true)
		c.JSON(http.StatusOK, gin.H{"src": v, "cached": true})
		return
	}
	s.monitor.RecordCacheHit(false)

	url, err := s.cache.CacheImage(c.Request.Context(), src)
	if err != nil {
		var loadErr *cache.ImageLoadError
		if errors.As(err, &loadErr) {
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "image_load_failed", Message: loadErr.Error()})
			return
		}
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: "image_load_aborted", Message: err.Error()})
		return
	}

	s.cache.Set(key, url, s.config.ImageTTL)
	c.JSON(http.StatusOK, gin.H{"src": url, "cached": false})
}

func (s *APIServer) preloadImages(c *gin.Context) {
	var req PreloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	results := s.cache.PreloadImages(c.Request.Context(), req.URLs)

	fulfilled := 0
	for _, r := range results {
		if r.Fulfilled() {
			fulfilled++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"fulfilled": fulfilled,
		"rejected":  len(results) - fulfilled,
	})
}
