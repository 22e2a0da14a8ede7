package registry

import (
	"errors"
	"fmt"
)

// Kind 注册中心错误类型
type Kind int

// 错误类型定义
const (
	// KindConnection 无法连接注册中心后端
	KindConnection Kind = iota + 1
	// KindPublish 发布服务记录失败
	KindPublish
	// KindUnpublish 注销服务记录失败
	KindUnpublish
	// KindQuery 查询服务记录失败
	KindQuery
)

var kindMessages = map[Kind]string{
	KindConnection: "连接注册中心失败",
	KindPublish:    "发布服务记录失败",
	KindUnpublish:  "注销服务记录失败",
	KindQuery:      "查询服务记录失败",
}

// String 返回错误类型描述
func (k Kind) String() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return fmt.Sprintf("未知错误类型(%d)", int(k))
}

var (
	// ErrRecordNotFound 服务记录不存在
	ErrRecordNotFound = errors.New("服务记录不存在")
	// ErrAlreadyRegistered 服务记录已经发布过
	ErrAlreadyRegistered = errors.New("服务记录已发布")
	// ErrNotConnected 后端连接尚未建立
	ErrNotConnected = errors.New("注册中心客户端未连接")
	// ErrEmptyRegistration 注册ID为空
	ErrEmptyRegistration = errors.New("注册ID不能为空")
)

// Error 注册中心操作错误，携带底层原因
type Error struct {
	Kind Kind
	ID   string // 相关的注册ID，可能为空
	Err  error
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind 判断err链中是否存在指定类型的注册中心错误
func IsKind(err error, kind Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

func newError(kind Kind, id string, err error) *Error {
	return &Error{Kind: kind, ID: id, Err: err}
}
