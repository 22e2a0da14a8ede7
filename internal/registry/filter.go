package registry

import "fmt"

// FilterKind 查询过滤条件类型
type FilterKind int

// 过滤条件类型定义
const (
	FilterNone FilterKind = iota
	FilterByName
	FilterByMetadata
)

// Filter 服务记录查询条件，零值表示不过滤
type Filter struct {
	Kind  FilterKind
	Name  string // FilterByName时使用
	Key   string // FilterByMetadata时使用
	Value string // FilterByMetadata时使用
}

// All 返回所有记录
func All() Filter {
	return Filter{Kind: FilterNone}
}

// ByName 按服务名称精确匹配
func ByName(name string) Filter {
	return Filter{Kind: FilterByName, Name: name}
}

// ByMetadata 按元数据键值匹配
func ByMetadata(key, value string) Filter {
	return Filter{Kind: FilterByMetadata, Key: key, Value: value}
}

// Match 判断记录是否满足条件
func (f Filter) Match(r *Record) bool {
	if r == nil {
		return false
	}

	switch f.Kind {
	case FilterNone:
		return true
	case FilterByName:
		return r.Name == f.Name
	case FilterByMetadata:
		v, ok := r.Metadata[f.Key]
		if !ok || v == nil {
			return false
		}
		if s, ok := v.(string); ok {
			return s == f.Value
		}
		// 非字符串值按其文本形式比较，如数字3与"3"匹配
		return fmt.Sprint(v) == f.Value
	default:
		return false
	}
}

// String 返回条件描述，用于日志
func (f Filter) String() string {
	switch f.Kind {
	case FilterNone:
		return "all"
	case FilterByName:
		return "name=" + f.Name
	case FilterByMetadata:
		return fmt.Sprintf("metadata.%s=%s", f.Key, f.Value)
	default:
		return fmt.Sprintf("unknown(%d)", int(f.Kind))
	}
}
