package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hewenyu/botsgarden/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 每次HSCAN期望返回的字段数
const redisScanCount = 100

// RedisBackend 将服务记录保存在一个redis hash中，字段为注册ID，值为记录JSON
type RedisBackend struct {
	opts   *redis.Options
	key    string
	logger config.Logger

	mu     sync.RWMutex
	client *redis.Client
}

// NewRedisBackend 创建redis后端
func NewRedisBackend(cfg *config.Config, logger config.Logger) *RedisBackend {
	return &RedisBackend{
		opts: &redis.Options{
			Addr:        cfg.RedisAddr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: 5 * time.Second,
		},
		key:    cfg.Redis.RecordsKey,
		logger: logger,
	}
}

// NewRedisBackendWithClient 使用已有的redis客户端创建后端
func NewRedisBackendWithClient(client *redis.Client, key string, logger config.Logger) *RedisBackend {
	return &RedisBackend{
		opts:   client.Options(),
		key:    key,
		logger: logger,
		client: client,
	}
}

// Name 后端名称
func (b *RedisBackend) Name() string {
	return "redis"
}

// Key 存放记录的hash键
func (b *RedisBackend) Key() string {
	return b.key
}

// Connect 创建redis客户端并PING
//
// PING失败时客户端仍然保留，后续操作会自动重连。
func (b *RedisBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.client == nil {
		b.logger.Info("连接到redis", zap.String("addr", b.opts.Addr), zap.String("key", b.key))
		b.client = redis.NewClient(b.opts)
	}
	client := b.client
	b.mu.Unlock()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis健康检查失败 %s: %w", b.opts.Addr, err)
	}
	return nil
}

// Close 关闭连接
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	b.logger.Info("关闭redis连接")
	err := b.client.Close()
	b.client = nil
	return err
}

func (b *RedisBackend) conn() (*redis.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.client == nil {
		return nil, ErrNotConnected
	}
	return b.client, nil
}

// Store 保存记录
func (b *RedisBackend) Store(ctx context.Context, id string, data []byte) error {
	client, err := b.conn()
	if err != nil {
		return err
	}
	if err := client.HSet(ctx, b.key, id, data).Err(); err != nil {
		return fmt.Errorf("写入redis失败: %w", err)
	}
	return nil
}

// Load 读取记录
func (b *RedisBackend) Load(ctx context.Context, id string) ([]byte, error) {
	client, err := b.conn()
	if err != nil {
		return nil, err
	}
	data, err := client.HGet(ctx, b.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("读取redis失败: %w", err)
	}
	return data, nil
}

// Remove 删除记录
func (b *RedisBackend) Remove(ctx context.Context, id string) error {
	client, err := b.conn()
	if err != nil {
		return err
	}
	n, err := client.HDel(ctx, b.key, id).Result()
	if err != nil {
		return fmt.Errorf("删除redis记录失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

// Scan 通过HSCAN分页遍历记录
func (b *RedisBackend) Scan(ctx context.Context) EntryIterator {
	client, err := b.conn()
	if err != nil {
		return errIterator{err: err}
	}
	return &redisIterator{
		client: client,
		key:    b.key,
		seen:   make(map[string]struct{}),
	}
}

// redisIterator 第一次调用Next时才发出HSCAN
type redisIterator struct {
	client *redis.Client
	key    string
	it     *redis.ScanIterator
	seen   map[string]struct{} // HSCAN在rehash时可能返回重复字段
	entry  Entry
	err    error
}

func (r *redisIterator) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}
	if r.it == nil {
		r.it = r.client.HScan(ctx, r.key, 0, "", redisScanCount).Iterator()
	}

	for {
		// HSCAN结果中字段和值交替出现
		if !r.it.Next(ctx) {
			r.err = r.it.Err()
			return false
		}
		field := r.it.Val()
		if !r.it.Next(ctx) {
			r.err = r.it.Err()
			return false
		}
		value := r.it.Val()

		if _, dup := r.seen[field]; dup {
			continue
		}
		r.seen[field] = struct{}{}
		r.entry = Entry{ID: field, Data: []byte(value)}
		return true
	}
}

func (r *redisIterator) Entry() Entry { return r.entry }

func (r *redisIterator) Err() error {
	if r.err != nil {
		return fmt.Errorf("遍历redis记录失败: %w", r.err)
	}
	return nil
}
