// Package lifecycle 管理服务的启动与关闭顺序：
// 构造服务记录、连接注册中心、绑定HTTP端口、发布记录和查询其他实例，
// 关闭时先注销记录再释放注册中心连接。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/hewenyu/botsgarden/internal/apihandler"
	"github.com/hewenyu/botsgarden/internal/config"
	"github.com/hewenyu/botsgarden/internal/metrics"
	"github.com/hewenyu/botsgarden/internal/registry"
	"go.uber.org/zap"
)

// ErrStartup HTTP监听失败等无法提供服务的启动错误
var ErrStartup = errors.New("服务启动失败")

// State 控制器状态
type State int

const (
	StateCreated State = iota
	StateConfiguring
	StateRegistering
	StateListening
	StatePublishing
	StateRunning
	StateStopping
	StateUnregistering
	StateStopped
)

var stateNames = map[State]string{
	StateCreated:       "Created",
	StateConfiguring:   "Configuring",
	StateRegistering:   "Registering",
	StateListening:     "Listening",
	StatePublishing:    "Publishing",
	StateRunning:       "Running",
	StateStopping:      "Stopping",
	StateUnregistering: "Unregistering",
	StateStopped:       "Stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Controller 服务生命周期控制器
//
// 服务记录和注册中心连接只归控制器所有，Start和Stop各只生效一次。
type Controller struct {
	cfg     *config.Config
	logger  config.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	state    State
	record   *registry.Record
	client   *registry.Client
	handler  *apihandler.EchoHandler
	listener net.Listener

	tasks          sync.WaitGroup
	cancelPublish  context.CancelFunc
	cancelDiscover context.CancelFunc
	publishDone    chan struct{}
	publishOnce    sync.Once
	startupDone    chan struct{}
	doneOnce       sync.Once

	serveDone chan struct{}
	serveErr  error

	stopOnce sync.Once
	stopErr  error
}

// Option 控制器可选配置
type Option func(*Controller)

// WithMetrics 使用指定的指标集合
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithClient 使用已创建的注册中心客户端，不再根据配置创建
func WithClient(client *registry.Client) Option {
	return func(c *Controller) {
		c.client = client
	}
}

// New 创建生命周期控制器
func New(cfg *config.Config, logger config.Logger, opts ...Option) *Controller {
	c := &Controller{
		cfg:         cfg,
		logger:      logger,
		state:       StateCreated,
		publishDone:    make(chan struct{}),
		startupDone:    make(chan struct{}),
		serveDone:      make(chan struct{}),
		cancelPublish:  func() {},
		cancelDiscover: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State 返回当前状态
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("生命周期状态变更", zap.Stringer("from", prev), zap.Stringer("to", s))
}

// Addr 返回HTTP监听地址，未监听时为空
func (c *Controller) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Record 返回本实例的服务记录，Start之前为nil
func (c *Controller) Record() *registry.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record
}

// StartupDone 发布和查询两个启动任务都结束后关闭
func (c *Controller) StartupDone() <-chan struct{} {
	return c.startupDone
}

func (c *Controller) markStartupDone() {
	c.doneOnce.Do(func() { close(c.startupDone) })
}

func (c *Controller) markPublishDone() {
	c.publishOnce.Do(func() { close(c.publishDone) })
}

// Start 启动服务，HTTP端口绑定成功后立即返回
//
// 配置错误返回config.ErrInvalidConfig，端口绑定失败返回ErrStartup。
// 注册中心不可用不会导致启动失败。
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateCreated {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: 控制器状态为%s，不能重复启动", ErrStartup, state)
	}
	c.state = StateConfiguring
	c.mu.Unlock()
	c.logger.Debug("生命周期状态变更", zap.Stringer("from", StateCreated), zap.Stringer("to", StateConfiguring))

	if err := c.cfg.Validate(); err != nil {
		c.abort()
		return err
	}

	c.setState(StateRegistering)
	record, err := registry.RecordFromConfig(c.cfg)
	if err != nil {
		c.abort()
		return err
	}

	client := c.client
	if client == nil {
		client, err = registry.NewClientFromConfig(c.cfg, c.logger, registry.WithMetrics(c.metrics))
		if err != nil {
			c.abort()
			return err
		}
	}
	if err := client.Connect(ctx); err != nil {
		c.logger.Warn("注册中心不可用，服务将以未注册状态运行", zap.Error(err))
	}

	c.mu.Lock()
	c.record = record
	c.client = client
	c.mu.Unlock()

	c.setState(StateListening)
	addr := c.cfg.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		c.logger.Error("HTTP端口绑定失败", zap.String("addr", addr), zap.Error(err))
		if cerr := client.Close(); cerr != nil {
			c.logger.Warn("关闭注册中心连接失败", zap.Error(cerr))
		}
		c.abort()
		return fmt.Errorf("%w: 监听 %s 失败: %v", ErrStartup, addr, err)
	}

	handler := apihandler.NewAPIHandler(c.cfg, c.logger, c.metrics)
	c.mu.Lock()
	c.listener = ln
	c.handler = handler
	c.mu.Unlock()

	go func() {
		c.serveErr = handler.Serve(ln)
		close(c.serveDone)
	}()
	c.logger.Info("HTTP服务已启动", zap.String("addr", ln.Addr().String()))

	// 端口已绑定，发布和查询互不等待，也不影响对外服务
	c.setState(StatePublishing)
	publishCtx, cancelPublish := context.WithCancel(context.Background())
	discoverCtx, cancelDiscover := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelPublish = cancelPublish
	c.cancelDiscover = cancelDiscover
	c.mu.Unlock()

	c.tasks.Add(2)
	go func() {
		defer c.tasks.Done()
		defer c.markPublishDone()
		c.publish(publishCtx)
	}()
	go func() {
		defer c.tasks.Done()
		c.discover(discoverCtx)
	}()
	go func() {
		c.tasks.Wait()
		c.markStartupDone()
	}()

	c.setState(StateRunning)
	return nil
}

// abort 启动失败时直接进入Stopped
func (c *Controller) abort() {
	c.markPublishDone()
	c.markStartupDone()
	c.setState(StateStopped)
}

func (c *Controller) publish(ctx context.Context) {
	if _, err := c.client.Publish(ctx, c.record); err != nil {
		c.logger.Warn("服务记录未发布，继续以未注册状态提供服务",
			zap.String("service", c.record.Name),
			zap.Error(err))
	}
}

// discover 查询注册中心中的服务记录，结果只记录日志
func (c *Controller) discover(ctx context.Context) {
	records, err := c.client.List(ctx, registry.All()).All(ctx)
	if err != nil {
		c.logger.Warn("查询服务记录失败，按没有记录处理", zap.Error(err))
		records = nil
	}
	c.metrics.SetDiscovered(len(records))

	if len(records) == 0 {
		c.logger.Info("no record found")
		return
	}

	c.logger.Info(fmt.Sprintf("%d record(s) found", len(records)))
	for _, rec := range records {
		c.logger.Info("发现服务记录", zap.String("record", rec.String()))
	}
}

// Stop 注销服务记录、释放注册中心连接并关闭HTTP服务
//
// 注销失败只记录日志，不影响关闭流程。ctx限制整个关闭过程的耗时。
func (c *Controller) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop(ctx)
	})
	return c.stopErr
}

func (c *Controller) stop(ctx context.Context) error {
	switch c.State() {
	case StateStopped:
		return nil
	case StateCreated:
		c.abort()
		return nil
	}

	c.setState(StateStopping)
	c.logger.Info("正在停止服务...")

	c.mu.RLock()
	cancelPublish, cancelDiscover := c.cancelPublish, c.cancelDiscover
	c.mu.RUnlock()

	// 查询结果只用于日志，不必等待
	cancelDiscover()

	// 只等待发布结束，晚到的注册ID也要注销
	select {
	case <-c.publishDone:
	case <-ctx.Done():
		c.logger.Warn("等待发布超时，取消发布操作", zap.Error(ctx.Err()))
		cancelPublish()
		<-c.publishDone
	}

	// Stop与Start并发时，前面读到的可能还是空的取消函数
	c.mu.RLock()
	record, client, handler := c.record, c.client, c.handler
	cancelPublish, cancelDiscover = c.cancelPublish, c.cancelDiscover
	c.mu.RUnlock()
	cancelDiscover()

	// Start在绑定端口之前失败
	if handler == nil {
		c.abort()
		return nil
	}

	c.setState(StateUnregistering)
	if id := record.Registration(); id != "" {
		// 注销只受REGISTRY_TIMEOUT限制，不沿用等待发布后剩余的时间
		// Client.Unpublish 已记录失败日志
		_ = client.Unpublish(context.WithoutCancel(ctx), id)
	} else {
		c.logger.Warn("服务记录未注册，跳过注销", zap.String("service", record.Name))
	}

	cancelPublish()
	if err := client.Close(); err != nil {
		c.logger.Warn("关闭注册中心连接失败", zap.Error(err))
	}

	err := handler.Shutdown(ctx)
	if err == nil {
		// 监听器已关闭，Serve会立即返回
		<-c.serveDone
		err = c.serveErr
	}

	c.setState(StateStopped)
	c.logger.Info("服务已停止")
	return err
}

// Run 启动服务并阻塞到ctx结束，然后在ShutdownTimeout内完成关闭
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		c.logger.Info("接收到关闭信号，正在优雅关闭...")
	case <-c.serveDone:
		serveErr = c.serveErr
		c.logger.Error("HTTP服务意外退出", zap.Error(serveErr))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := c.Stop(stopCtx); err != nil {
		return err
	}
	return serveErr
}
