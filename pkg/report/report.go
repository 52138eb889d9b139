// Package report 把指标导出渲染成文本仪表盘。
package report

import (
	"bytes"
	"io"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"contactperf/pkg/cache"
	"contactperf/pkg/monitor"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatBytes 以 1024 为进制格式化字节数，保留最多两位小数，例如 "1.5 KB"。
func FormatBytes(n uint64) string {
	if n == 0 {
		return "0 Bytes"
	}

	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}

	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}

// FormatMillis 毫秒保留两位小数
func FormatMillis(ms float64) string {
	return strconv.FormatFloat(ms, 'f', 2, 64) + "ms"
}

// Render 输出仪表盘：概要、缓存统计、内存（可用时）、组件与资源耗时。
func Render(w io.Writer, exp monitor.Export, stats cache.Stats) error {
	p := message.NewPrinter(language.English)
	var buf bytes.Buffer
	m := exp.Metrics

	p.Fprintf(&buf, "Performance Dashboard (%s)\n", exp.Timestamp.Format("2006-01-02 15:04:05"))
	p.Fprintf(&buf, "  Page Loads:     %d\n", m.PageLoads)
	p.Fprintf(&buf, "  Cache Hit Rate: %.1f%%\n", m.CacheHitRate*100)
	p.Fprintf(&buf, "  Errors:         %d\n", m.Errors)

	p.Fprintf(&buf, "\nCache Statistics\n")
	p.Fprintf(&buf, "  Data Cache:   %d items\n", stats.DataCacheSize)
	p.Fprintf(&buf, "  Image Cache:  %d items\n", stats.ImageCacheSize)
	p.Fprintf(&buf, "  Config Cache: %d items\n", stats.ConfigCacheSize)
	p.Fprintf(&buf, "  Total:        %d items\n", stats.TotalSize)

	if exp.Memory != nil {
		p.Fprintf(&buf, "\nMemory Usage\n")
		p.Fprintf(&buf, "  Used:  %s\n", FormatBytes(exp.Memory.Used))
		p.Fprintf(&buf, "  Total: %s\n", FormatBytes(exp.Memory.Total))
		p.Fprintf(&buf, "  Limit: %s\n", FormatBytes(exp.Memory.Limit))
	}

	if len(m.ComponentRenders) > 0 {
		p.Fprintf(&buf, "\nComponent Performance\n")
		for _, name := range sortedKeys(m.ComponentRenders) {
			s := m.ComponentRenders[name]
			p.Fprintf(&buf, "  %-24s Renders: %d  Avg: %s\n", name, s.Count, FormatMillis(s.Average))
		}
	}

	if len(m.APICalls) > 0 {
		p.Fprintf(&buf, "\nResource Timing\n")
		for _, name := range sortedKeys(m.APICalls) {
			s := m.APICalls[name]
			p.Fprintf(&buf, "  %-24s Count: %d  Avg: %s  Min: %s  Max: %s\n",
				name, s.Count, FormatMillis(s.Average), FormatMillis(s.Min), FormatMillis(s.Max))
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func sortedKeys(m map[string]monitor.BucketStats) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
