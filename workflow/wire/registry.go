package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Registry 维护类型标识与 Go 类型之间的双向映射。
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry 创建注册表，并预注册常用基础类型。
func NewRegistry() *Registry {
	r := &Registry{
		byID:   make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	for _, sample := range []any{
		"", false, 0, int64(0), float64(0),
		[]string(nil), []any(nil), map[string]any(nil),
		json.RawMessage(nil),
	} {
		t := reflect.TypeOf(sample)
		_ = r.RegisterType(TypeName(t), t)
	}
	return r
}

// RegisterType 注册类型。同一标识重复注册同一类型是幂等的，
// 标识已被其他类型占用时返回错误。
func (r *Registry) RegisterType(id string, t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("wire: cannot register nil type")
	}
	if id == "" {
		id = TypeName(t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[id]; ok {
		if existing == t {
			return nil
		}
		return fmt.Errorf("wire: type id %q already registered for %s", id, existing)
	}
	r.byID[id] = t
	if _, ok := r.byType[t]; !ok {
		r.byType[t] = id
	}
	return nil
}

// Register 以泛型方式注册 T；id 为空时使用 TypeName。
func Register[T any](r *Registry, id string) error {
	return r.RegisterType(id, reflect.TypeFor[T]())
}

// MustRegister 同 Register，失败时 panic，适合包初始化阶段。
func MustRegister[T any](r *Registry, id string) {
	if err := Register[T](r, id); err != nil {
		panic(err)
	}
}

// Lookup 按标识查找类型。
func (r *Registry) Lookup(id string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// TypeID 返回类型的注册标识。
func (r *Registry) TypeID(t reflect.Type) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[t]
	return id, ok
}

// IDFor 返回 t 的标识，未注册时回退到 TypeName。
func (r *Registry) IDFor(t reflect.Type) string {
	if id, ok := r.TypeID(t); ok {
		return id
	}
	return TypeName(t)
}

// TypeName 返回类型的默认标识：具名类型使用 "包路径.名称"，其余使用 reflect 字符串形式。
func TypeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}
