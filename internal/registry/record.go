package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hewenyu/botsgarden/internal/config"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// TypeHTTPEndpoint HTTP端点类型的服务记录
const TypeHTTPEndpoint = "http-endpoint"

// Status 服务记录状态
type Status string

// 服务记录状态定义
const (
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusOutOfService Status = "OUT_OF_SERVICE"
	StatusUnknown      Status = "UNKNOWN"
)

// Location HTTP端点的网络位置
type Location struct {
	Endpoint string `json:"endpoint"` // 完整地址，如 http://localhost:80/api
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Root     string `json:"root"`
	SSL      bool   `json:"ssl"`
}

// Record 服务记录
//
// 构造后除注册ID外不再修改；注册ID在发布成功时设置且只设置一次。
type Record struct {
	Name     string
	Type     string
	Status   Status
	Location Location
	Metadata map[string]any

	mu           sync.RWMutex
	registration string
}

// recordJSON 服务记录的存储格式
type recordJSON struct {
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Status       Status         `json:"status"`
	Location     Location       `json:"location"`
	Metadata     map[string]any `json:"metadata"`
	Registration string         `json:"registration,omitempty"`
}

// Endpoint 构造HTTP端点服务记录所需的参数
type Endpoint struct {
	Name     string `validate:"notblank"`
	Host     string `validate:"notblank"`
	Port     int    `validate:"min=1,max=65535"`
	Root     string
	Metadata map[string]any
}

// NewHTTPEndpointRecord 根据端点参数构造服务记录
func NewHTTPEndpointRecord(ep Endpoint) (*Record, error) {
	if err := validate.Struct(ep); err != nil {
		return nil, fmt.Errorf("%w: 服务端点参数错误: %s", config.ErrInvalidConfig, describeValidation(err))
	}

	root := ep.Root
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}

	metadata := make(map[string]any, len(ep.Metadata))
	for k, v := range ep.Metadata {
		metadata[k] = v
	}

	return &Record{
		Name:   ep.Name,
		Type:   TypeHTTPEndpoint,
		Status: StatusUp,
		Location: Location{
			Endpoint: fmt.Sprintf("http://%s:%d%s", ep.Host, ep.Port, root),
			Host:     ep.Host,
			Port:     ep.Port,
			Root:     root,
		},
		Metadata: metadata,
	}, nil
}

// describeValidation 把校验错误整理为字段列表
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s(%s=%s, 当前值 %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			parts = append(parts, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, ", ")
}

// RecordFromConfig 根据配置构造本实例的服务记录
func RecordFromConfig(cfg *config.Config) (*Record, error) {
	return NewHTTPEndpointRecord(Endpoint{
		Name: cfg.Service.Name,
		Host: cfg.Service.Host,
		Port: cfg.Service.Port,
		Root: cfg.Service.Root,
		Metadata: map[string]any{
			"kind":    cfg.Service.Kind,
			"message": cfg.Service.Message,
			"uri":     cfg.Service.URI,
		},
	})
}

// Registration 返回注册ID，未发布时为空
func (r *Record) Registration() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registration
}

// IsRegistered 是否已经发布
func (r *Record) IsRegistered() bool {
	return r.Registration() != ""
}

// bindRegistration 设置注册ID，只允许设置一次
func (r *Record) bindRegistration(id string) error {
	if id == "" {
		return ErrEmptyRegistration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registration != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, r.registration)
	}
	r.registration = id
	return nil
}

func (r *Record) toJSON(registration string) recordJSON {
	return recordJSON{
		Name:         r.Name,
		Type:         r.Type,
		Status:       r.Status,
		Location:     r.Location,
		Metadata:     r.Metadata,
		Registration: registration,
	}
}

// MarshalJSON 序列化服务记录
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toJSON(r.Registration()))
}

// UnmarshalJSON 反序列化服务记录
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.Name = raw.Name
	r.Type = raw.Type
	r.Status = raw.Status
	r.Location = raw.Location
	r.Metadata = raw.Metadata
	r.registration = raw.Registration
	return nil
}

// String 返回记录的JSON形式，用于日志
func (r *Record) String() string {
	data, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%s(%s)", r.Name, r.Registration())
	}
	return string(data)
}

// encode 以指定注册ID序列化记录，用于写入后端
func (r *Record) encode(registration string) ([]byte, error) {
	return json.Marshal(r.toJSON(registration))
}

// decodeRecord 从后端数据解析记录，数据中缺少注册ID时使用存储键
func decodeRecord(id string, data []byte) (*Record, error) {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Name == "" {
		return nil, fmt.Errorf("服务记录缺少名称")
	}
	if raw.Registration == "" {
		raw.Registration = id
	}

	return &Record{
		Name:         raw.Name,
		Type:         raw.Type,
		Status:       raw.Status,
		Location:     raw.Location,
		Metadata:     raw.Metadata,
		registration: raw.Registration,
	}, nil
}
