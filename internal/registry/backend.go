package registry

import (
	"context"
	"fmt"

	"github.com/hewenyu/botsgarden/internal/config"
)

// Entry 后端中存储的一条原始记录
type Entry struct {
	ID   string // 注册ID
	Data []byte // 记录JSON
}

// EntryIterator 逐条读取后端记录，只能遍历一次
type EntryIterator interface {
	// Next 前进到下一条记录，没有更多记录或出错时返回false
	Next(ctx context.Context) bool

	// Entry 返回当前记录
	Entry() Entry

	// Err 返回遍历过程中的错误
	Err() error
}

// Backend 定义服务记录存储后端
type Backend interface {
	// Name 后端名称，用于日志
	Name() string

	// Connect 建立连接并检查后端是否可达
	Connect(ctx context.Context) error

	// Close 释放连接
	Close() error

	// Store 以注册ID为键保存记录
	Store(ctx context.Context, id string, data []byte) error

	// Load 读取指定注册ID的记录，不存在时返回ErrRecordNotFound
	Load(ctx context.Context, id string) ([]byte, error)

	// Remove 删除指定注册ID的记录，不存在时返回ErrRecordNotFound
	Remove(ctx context.Context, id string) error

	// Scan 遍历所有记录
	Scan(ctx context.Context) EntryIterator
}

// NewBackend 根据配置创建存储后端
func NewBackend(cfg *config.Config, logger config.Logger) (Backend, error) {
	switch cfg.Registry.Backend {
	case config.BackendRedis, "":
		return NewRedisBackend(cfg, logger), nil
	case config.BackendEtcd:
		return NewEtcdBackend(cfg, logger), nil
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: 不支持的注册中心后端: %s", config.ErrInvalidConfig, cfg.Registry.Backend)
	}
}

// sliceIterator 基于内存切片的EntryIterator
type sliceIterator struct {
	entries []Entry
	pos     int
	current Entry
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.pos >= len(it.entries) {
		return false
	}
	it.current = it.entries[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Entry() Entry { return it.current }
func (it *sliceIterator) Err() error   { return nil }

// errIterator 直接返回错误的EntryIterator
type errIterator struct {
	err error
}

func (it errIterator) Next(ctx context.Context) bool { return false }
func (it errIterator) Entry() Entry                  { return Entry{} }
func (it errIterator) Err() error                    { return it.err }
