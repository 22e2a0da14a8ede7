package apihandler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hewenyu/botsgarden/internal/config"
	"github.com/hewenyu/botsgarden/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// 固定的应答文本
const (
	pongMessage    = "🏓 pong!"
	greetingFormat = "👋 hey %s 😃"
)

// 路由名称，用于指标
const (
	routePingQuery   = "ping-query"
	routePingCommand = "ping-command"
)

// Handler 定义API处理器接口
type Handler interface {
	http.Handler

	// Serve 在已绑定的监听器上提供服务，直到Shutdown被调用
	Serve(ln net.Listener) error

	// Shutdown 优雅关闭API服务
	Shutdown(ctx context.Context) error
}

// EchoHandler 实现Handler接口
//
// 请求之间不共享可变状态，可以并发处理。
type EchoHandler struct {
	server  *echo.Echo
	cfg     *config.Config
	logger  config.Logger
	metrics *metrics.Metrics
}

// PingRequest ping命令的请求体，name缺失或为null时使用默认名称
type PingRequest struct {
	Name *string `json:"name"`
}

// PingResponse ping接口的应答
type PingResponse struct {
	Message string `json:"message"`
}

// HealthResponse 健康检查应答
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// NewAPIHandler 创建一个新的API处理器并注册路由
func NewAPIHandler(cfg *config.Config, logger config.Logger, m *metrics.Metrics) *EchoHandler {
	h := &EchoHandler{
		server:  echo.New(),
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
	h.server.HideBanner = true
	h.server.HidePort = true

	// 添加中间件
	h.server.Use(middleware.Recover())
	h.server.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			h.logger.Debug("HTTP请求", fields...)
			return nil
		},
	}))

	h.registerRoutes()
	return h
}

// registerRoutes 注册路由
func (h *EchoHandler) registerRoutes() {
	h.server.GET("/health", h.healthHandler)
	if h.metrics != nil {
		h.server.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
	}

	h.server.GET("/api/ping", h.pingQueryHandler)
	h.server.POST("/api/ping", h.pingCommandHandler)

	// 其余路径由静态文件目录处理，找不到时返回404
	h.server.Static("/", h.cfg.HTTP.WebRoot)
}

// ServeHTTP 实现http.Handler
func (h *EchoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

// Serve 在已绑定的监听器上提供服务
func (h *EchoHandler) Serve(ln net.Listener) error {
	h.server.Listener = ln
	if err := h.server.Start(ln.Addr().String()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.logger.Error("HTTP服务异常退出", zap.Error(err))
		return err
	}
	return nil
}

// Shutdown 优雅关闭API服务
func (h *EchoHandler) Shutdown(ctx context.Context) error {
	h.logger.Info("正在关闭HTTP服务...")
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Error("关闭HTTP服务出错", zap.Error(err))
		return err
	}
	return nil
}

// healthHandler 健康检查，与注册中心状态无关
func (h *EchoHandler) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{
		Status:    "ok",
		Service:   h.cfg.Service.Name,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// pingQueryHandler 忽略请求体，返回固定应答
func (h *EchoHandler) pingQueryHandler(c echo.Context) error {
	h.metrics.ObservePing(routePingQuery, http.StatusOK)
	return c.JSON(http.StatusOK, &PingResponse{Message: pongMessage})
}

// pingCommandHandler 读取可选的name字段并返回问候语
func (h *EchoHandler) pingCommandHandler(c echo.Context) error {
	var req PingRequest
	if err := decodeJSONBody(c, &req); err != nil {
		h.metrics.ObservePing(routePingCommand, http.StatusBadRequest)
		h.logger.Warn("ping请求体格式错误", zap.Error(err))
		return err
	}

	name := req.NameOr(h.cfg.Ping.DefaultName)
	h.logger.Info("收到ping请求", zap.String("name", name))

	h.metrics.ObservePing(routePingCommand, http.StatusOK)
	return c.JSON(http.StatusOK, &PingResponse{Message: Greeting(name)})
}

// decodeJSONBody 解析JSON请求体，空请求体视为没有字段
func decodeJSONBody(c echo.Context, v any) error {
	err := c.Echo().JSONSerializer.Deserialize(c, v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, "请求体不是有效的JSON").SetInternal(err)
}

// NameOr 返回请求中的名称，缺失或为null时返回默认值
func (r PingRequest) NameOr(defaultName string) string {
	if r.Name == nil {
		return defaultName
	}
	return *r.Name
}

// Greeting 生成带名称的问候语
func Greeting(name string) string {
	return fmt.Sprintf(greetingFormat, name)
}
