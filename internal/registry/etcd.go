package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hewenyu/botsgarden/internal/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// 每次范围读取的记录数
const etcdPageSize = 100

// EtcdBackend 将服务记录保存在etcd中，键为 /<records_key>/<注册ID>
type EtcdBackend struct {
	endpoints []string
	username  string
	password  string
	prefix    string
	logger    config.Logger

	mu     sync.RWMutex
	client *clientv3.Client
}

// NewEtcdBackend 创建etcd后端
func NewEtcdBackend(cfg *config.Config, logger config.Logger) *EtcdBackend {
	return &EtcdBackend{
		endpoints: cfg.Etcd.Endpoints,
		username:  cfg.Etcd.Username,
		password:  cfg.Etcd.Password,
		prefix:    "/" + strings.Trim(cfg.Redis.RecordsKey, "/") + "/",
		logger:    logger,
	}
}

// Name 后端名称
func (e *EtcdBackend) Name() string {
	return "etcd"
}

// Connect 连接到etcd集群并检查状态
func (e *EtcdBackend) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.client == nil {
		e.logger.Info("连接到etcd集群", zap.Strings("endpoints", e.endpoints))

		client, err := clientv3.New(clientv3.Config{
			Endpoints:   e.endpoints,
			DialTimeout: 5 * time.Second,
			Username:    e.username,
			Password:    e.password,
		})
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("连接etcd失败: %w", err)
		}
		e.client = client
	}
	client := e.client
	e.mu.Unlock()

	if _, err := client.Status(ctx, e.endpoints[0]); err != nil {
		return fmt.Errorf("etcd健康检查失败: %w", err)
	}
	return nil
}

// Close 关闭连接
func (e *EtcdBackend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil
	}
	e.logger.Info("关闭etcd连接")
	err := e.client.Close()
	e.client = nil
	return err
}

func (e *EtcdBackend) conn() (*clientv3.Client, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.client == nil {
		return nil, ErrNotConnected
	}
	return e.client, nil
}

func (e *EtcdBackend) recordKey(id string) string {
	return e.prefix + id
}

// Store 保存记录
func (e *EtcdBackend) Store(ctx context.Context, id string, data []byte) error {
	client, err := e.conn()
	if err != nil {
		return err
	}
	if _, err := client.Put(ctx, e.recordKey(id), string(data)); err != nil {
		return fmt.Errorf("保存记录到etcd失败: %w", err)
	}
	return nil
}

// Load 读取记录
func (e *EtcdBackend) Load(ctx context.Context, id string) ([]byte, error) {
	client, err := e.conn()
	if err != nil {
		return nil, err
	}
	resp, err := client.Get(ctx, e.recordKey(id))
	if err != nil {
		return nil, fmt.Errorf("从etcd获取记录失败: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return resp.Kvs[0].Value, nil
}

// Remove 删除记录
func (e *EtcdBackend) Remove(ctx context.Context, id string) error {
	client, err := e.conn()
	if err != nil {
		return err
	}
	resp, err := client.Delete(ctx, e.recordKey(id))
	if err != nil {
		return fmt.Errorf("从etcd删除记录失败: %w", err)
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

// Scan 按前缀分页遍历记录
func (e *EtcdBackend) Scan(ctx context.Context) EntryIterator {
	client, err := e.conn()
	if err != nil {
		return errIterator{err: err}
	}
	return &etcdIterator{
		client: client,
		prefix: e.prefix,
		next:   e.prefix,
		end:    clientv3.GetPrefixRangeEnd(e.prefix),
		more:   true,
	}
}

// etcdIterator 每页读取etcdPageSize条记录
type etcdIterator struct {
	client *clientv3.Client
	prefix string
	next   string // 下一页的起始键
	end    string
	more   bool

	page  []Entry
	pos   int
	entry Entry
	err   error
}

func (it *etcdIterator) Next(ctx context.Context) bool {
	for it.pos >= len(it.page) {
		if !it.more || it.err != nil {
			return false
		}
		if !it.fetch(ctx) {
			return false
		}
	}

	it.entry = it.page[it.pos]
	it.pos++
	return true
}

func (it *etcdIterator) fetch(ctx context.Context) bool {
	resp, err := it.client.Get(ctx, it.next,
		clientv3.WithRange(it.end),
		clientv3.WithLimit(etcdPageSize),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		it.err = fmt.Errorf("从etcd获取记录失败: %w", err)
		return false
	}

	it.page = it.page[:0]
	it.pos = 0
	for _, kv := range resp.Kvs {
		it.page = append(it.page, Entry{
			ID:   strings.TrimPrefix(string(kv.Key), it.prefix),
			Data: kv.Value,
		})
	}

	it.more = resp.More && len(resp.Kvs) > 0
	if len(resp.Kvs) > 0 {
		// 下一页从最后一个键之后开始
		it.next = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
	}
	return len(it.page) > 0
}

func (it *etcdIterator) Entry() Entry { return it.entry }
func (it *etcdIterator) Err() error   { return it.err }
