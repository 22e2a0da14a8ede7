package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend 基于内存的后端，用于本地开发和测试
type MemoryBackend struct {
	records map[string][]byte
	mutex   sync.RWMutex
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records: make(map[string][]byte),
	}
}

// Name 后端名称
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Connect 内存后端总是可用
func (m *MemoryBackend) Connect(ctx context.Context) error {
	return nil
}

// Close 内存后端无需释放资源
func (m *MemoryBackend) Close() error {
	return nil
}

// Store 保存记录
func (m *MemoryBackend) Store(ctx context.Context, id string, data []byte) error {
	if id == "" {
		return ErrEmptyRegistration
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.records[id] = append([]byte(nil), data...)
	return nil
}

// Load 读取记录
func (m *MemoryBackend) Load(ctx context.Context, id string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

// Remove 删除记录
func (m *MemoryBackend) Remove(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	delete(m.records, id)
	return nil
}

// Scan 遍历调用时刻的记录快照
func (m *MemoryBackend) Scan(ctx context.Context) EntryIterator {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	entries := make([]Entry, 0, len(m.records))
	for id, data := range m.records {
		entries = append(entries, Entry{ID: id, Data: append([]byte(nil), data...)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return &sliceIterator{entries: entries}
}

// Len 返回记录数
func (m *MemoryBackend) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.records)
}
