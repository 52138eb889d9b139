package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndFormat(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		level logrus.Level
		json  bool
	}{
		{"debug文本", Config{Level: "debug", Format: "text"}, logrus.DebugLevel, false},
		{"warn JSON", Config{Level: "WARN", Format: "json"}, logrus.WarnLevel, true},
		{"无效级别回退info", Config{Level: "verbose"}, logrus.InfoLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.cfg)
			assert.Equal(t, tt.level, l.GetLevel())
			_, isJSON := l.Formatter.(*logrus.JSONFormatter)
			assert.Equal(t, tt.json, isJSON)
		})
	}
}

func TestWithComponent_AddsField(t *testing.T) {
	Init(Config{Level: "info", Format: "json"})
	var buf bytes.Buffer
	GetLogger().SetOutput(&buf)

	WithComponent("cache").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache", line["component"])
	assert.Equal(t, "hello", line["msg"])
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv("CONTACTPERF_LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")

	InitFromEnv()

	assert.Equal(t, logrus.ErrorLevel, GetLogger().GetLevel())
	_, isJSON := GetLogger().Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
}
