package registry

import (
	"context"

	"github.com/hewenyu/botsgarden/internal/config"
	"go.uber.org/zap"
)

// Cursor 服务记录查询结果，按需从后端读取，只能遍历一次
//
//	cur := client.List(ctx, registry.ByName("botsgarden"))
//	for cur.Next(ctx) {
//		rec := cur.Record()
//	}
//	if err := cur.Err(); err != nil {
//		...
//	}
type Cursor struct {
	entries EntryIterator
	filter  Filter
	logger  config.Logger
	onDone  func(count int, err error)

	current *Record
	count   int
	err     error
	done    bool
}

func newCursor(entries EntryIterator, filter Filter, logger config.Logger, onDone func(int, error)) *Cursor {
	return &Cursor{
		entries: entries,
		filter:  filter,
		logger:  logger,
		onDone:  onDone,
	}
}

// Next 前进到下一条满足条件的记录
func (c *Cursor) Next(ctx context.Context) bool {
	if c.done {
		return false
	}

	for c.entries.Next(ctx) {
		entry := c.entries.Entry()
		rec, err := decodeRecord(entry.ID, entry.Data)
		if err != nil {
			c.logger.Warn("解析服务记录失败，已跳过",
				zap.String("registration", entry.ID),
				zap.Error(err))
			continue
		}
		if !c.filter.Match(rec) {
			continue
		}

		c.current = rec
		c.count++
		return true
	}

	if err := c.entries.Err(); err != nil {
		c.err = newError(KindQuery, "", err)
	}
	c.current = nil
	c.done = true
	if c.onDone != nil {
		c.onDone(c.count, c.err)
	}
	return false
}

// Record 返回当前记录
func (c *Cursor) Record() *Record {
	return c.current
}

// Err 返回查询错误，遍历结束后才有意义
func (c *Cursor) Err() error {
	return c.err
}

// All 读取剩余的全部记录
func (c *Cursor) All(ctx context.Context) ([]*Record, error) {
	var records []*Record
	for c.Next(ctx) {
		records = append(records, c.Record())
	}
	return records, c.Err()
}
