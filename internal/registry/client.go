// Package registry 实现基于外部键值存储的服务注册与发现客户端
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hewenyu/botsgarden/internal/config"
	"github.com/hewenyu/botsgarden/internal/metrics"
	"go.uber.org/zap"
)

// 注册中心操作的默认超时时间
const defaultTimeout = 5 * time.Second

// 操作名称，用于日志和指标
const (
	opConnect   = "connect"
	opPublish   = "publish"
	opUnpublish = "unpublish"
	opList      = "list"
	opGet       = "get"
)

// Client 服务注册中心客户端
//
// 每个操作都是一次独立的请求，可以并发调用。
type Client struct {
	backend Backend
	logger  config.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// Option 客户端可选配置
type Option func(*Client)

// WithMetrics 记录操作指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeout 设置单次操作超时时间
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient 创建注册中心客户端
func NewClient(backend Backend, logger config.Logger, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		logger:  logger,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig 根据配置创建后端和客户端，尚未连接
func NewClientFromConfig(cfg *config.Config, logger config.Logger, opts ...Option) (*Client, error) {
	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithTimeout(cfg.Registry.Timeout)}, opts...)
	return NewClient(backend, logger, opts...), nil
}

// Backend 返回存储后端
func (c *Client) Backend() Backend {
	return c.backend
}

// Connect 连接注册中心后端，失败时返回KindConnection错误，不重试
func (c *Client) Connect(ctx context.Context) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.backend.Connect(ctx)
	c.metrics.ObserveRegistryOp(opConnect, started, err)
	if err != nil {
		c.logger.Error("连接注册中心失败",
			zap.String("backend", c.backend.Name()),
			zap.Error(err))
		return newError(KindConnection, "", err)
	}

	c.logger.Info("注册中心连接成功", zap.String("backend", c.backend.Name()))
	return nil
}

// Close 释放后端连接
func (c *Client) Close() error {
	return c.backend.Close()
}

// Publish 发布服务记录，成功后注册ID写回记录并返回
func (c *Client) Publish(ctx context.Context, rec *Record) (string, error) {
	started := time.Now()
	id, err := c.publish(ctx, rec)
	c.metrics.ObserveRegistryOp(opPublish, started, err)
	if err != nil {
		c.logger.Error("发布服务记录失败", zap.String("service", rec.Name), zap.Error(err))
		return "", err
	}

	c.logger.Info("服务记录发布成功",
		zap.String("service", rec.Name),
		zap.String("registration", id),
		zap.String("endpoint", rec.Location.Endpoint))
	return id, nil
}

func (c *Client) publish(ctx context.Context, rec *Record) (string, error) {
	if rec == nil {
		return "", newError(KindPublish, "", errors.New("服务记录不能为空"))
	}
	if existing := rec.Registration(); existing != "" {
		return "", newError(KindPublish, existing, ErrAlreadyRegistered)
	}

	id := uuid.NewString()
	data, err := rec.encode(id)
	if err != nil {
		return "", newError(KindPublish, id, fmt.Errorf("序列化服务记录失败: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Store(ctx, id, data); err != nil {
		return "", newError(KindPublish, id, err)
	}

	if err := rec.bindRegistration(id); err != nil {
		// 并发发布同一记录时只保留先完成的一次
		if rmErr := c.backend.Remove(ctx, id); rmErr != nil {
			c.logger.Warn("回滚重复发布的服务记录失败",
				zap.String("registration", id),
				zap.Error(rmErr))
		}
		return "", newError(KindPublish, id, err)
	}

	return id, nil
}

// Unpublish 按注册ID删除服务记录
func (c *Client) Unpublish(ctx context.Context, id string) error {
	started := time.Now()
	err := c.unpublish(ctx, id)
	c.metrics.ObserveRegistryOp(opUnpublish, started, err)
	if err != nil {
		c.logger.Error("注销服务记录失败", zap.String("registration", id), zap.Error(err))
		return err
	}

	c.logger.Info("服务记录注销成功", zap.String("registration", id))
	return nil
}

func (c *Client) unpublish(ctx context.Context, id string) error {
	if id == "" {
		return newError(KindUnpublish, "", ErrEmptyRegistration)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.backend.Remove(ctx, id); err != nil {
		return newError(KindUnpublish, id, err)
	}
	return nil
}

// Get 按注册ID读取服务记录
func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	started := time.Now()
	rec, err := c.get(ctx, id)
	c.metrics.ObserveRegistryOp(opGet, started, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Client) get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, newError(KindQuery, "", ErrEmptyRegistration)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.backend.Load(ctx, id)
	if err != nil {
		return nil, newError(KindQuery, id, err)
	}

	rec, err := decodeRecord(id, data)
	if err != nil {
		return nil, newError(KindQuery, id, fmt.Errorf("解析服务记录失败: %w", err))
	}
	return rec, nil
}

// List 按条件查询服务记录，结果在遍历时按需读取
func (c *Client) List(ctx context.Context, filter Filter) *Cursor {
	started := time.Now()
	entries := &timeoutIterator{
		inner:   c.backend.Scan(ctx),
		timeout: c.timeout,
	}

	return newCursor(entries, filter, c.logger, func(count int, err error) {
		c.metrics.ObserveRegistryOp(opList, started, err)
		if err != nil {
			c.logger.Error("查询服务记录失败",
				zap.String("filter", filter.String()),
				zap.Error(err))
			return
		}
		c.logger.Debug("查询服务记录完成",
			zap.String("filter", filter.String()),
			zap.Int("count", count))
	})
}

// timeoutIterator 为每次读取后端设置超时
type timeoutIterator struct {
	inner   EntryIterator
	timeout time.Duration
}

func (it *timeoutIterator) Next(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, it.timeout)
	defer cancel()
	return it.inner.Next(ctx)
}

func (it *timeoutIterator) Entry() Entry { return it.inner.Entry() }
func (it *timeoutIterator) Err() error   { return it.inner.Err() }
