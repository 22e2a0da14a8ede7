package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	// 测试开发环境日志初始化
	devLogger, err := NewLogger(true, "")
	require.NoError(t, err, "开发环境日志初始化应成功")
	require.NotNil(t, devLogger, "开发环境日志不应为nil")

	// 测试生产环境日志初始化
	prodLogger, err := NewLogger(false, "warn")
	require.NoError(t, err, "生产环境日志初始化应成功")
	require.NotNil(t, prodLogger, "生产环境日志不应为nil")

	testLoggerMethods(t, devLogger)
	testLoggerMethods(t, prodLogger)
	testLoggerMethods(t, NewNopLogger())
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	logger, err := NewLogger(false, "loud")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, logger)
}

func TestNewLoggerWithServiceField(t *testing.T) {
	logger, err := NewLogger(false, "error", zap.String("service", "botsgarden"))
	require.NoError(t, err)
	testLoggerMethods(t, logger)
}

func TestNewZapConfig(t *testing.T) {
	dev, err := newZapConfig(true, "")
	require.NoError(t, err)
	assert.True(t, dev.Development)
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, zapcore.DebugLevel, dev.Level.Level())

	prod, err := newZapConfig(false, "")
	require.NoError(t, err)
	assert.False(t, prod.Development)
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, zapcore.InfoLevel, prod.Level.Level())

	warn, err := newZapConfig(false, "warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, warn.Level.Level())
}

func TestNewZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("不应记录")
	logger.Info("服务启动", zap.String("service", "botsgarden"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "服务启动", entries[0].Message)
	assert.Equal(t, "botsgarden", entries[0].ContextMap()["service"])
}

func testLoggerMethods(t *testing.T, logger Logger) {
	t.Helper()

	// 确保所有日志方法都不会抛出异常
	assert.NotPanics(t, func() {
		logger.Debug("测试Debug日志", zap.String("key", "value"))
		logger.Info("测试Info日志", zap.String("key", "value"))
		logger.Warn("测试Warn日志", zap.String("key", "value"))
		logger.Error("测试Error日志", zap.String("key", "value"))
		// 不测试Fatal，它会调用os.Exit
	}, "日志方法不应panic")
}
