package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// nilTypeID 是 nil 值的保留类型标识。
const nilTypeID = "nil"

// Value 是与语言无关的自描述容器：类型标识 + JSON 载荷。
type Value struct {
	TypeID string          `json:"type" bson:"type"`
	Data   json.RawMessage `json:"data" bson:"data"`
}

// IsZero 报告 Value 是否为空容器。
func (v Value) IsZero() bool {
	return v.TypeID == "" && len(v.Data) == 0
}

// Marshaller 在具体值与 Value 之间转换。
type Marshaller struct {
	registry *Registry
}

// NewMarshaller 创建 Marshaller；registry 为 nil 时使用新的默认注册表。
func NewMarshaller(registry *Registry) *Marshaller {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Marshaller{registry: registry}
}

// Registry 返回底层类型注册表。
func (m *Marshaller) Registry() *Registry {
	return m.registry
}

// Marshal 使用值的运行时类型作为声明类型进行编码。
func (m *Marshaller) Marshal(v any) (Value, error) {
	switch tv := v.(type) {
	case nil:
		return Value{TypeID: nilTypeID, Data: json.RawMessage("null")}, nil
	case Value:
		return tv, nil
	case *PortableValue:
		return tv.Wire()
	}
	return m.MarshalAs(v, m.registry.IDFor(reflect.TypeOf(v)))
}

// MarshalAs 以显式声明的类型标识编码。
func (m *Marshaller) MarshalAs(v any, typeID string) (Value, error) {
	if p, ok := v.(*PortableValue); ok {
		w, err := p.Wire()
		if err != nil {
			return Value{}, err
		}
		w.TypeID = typeID
		return w, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("wire: marshal %s: %w", typeID, err)
	}
	return Value{TypeID: typeID, Data: data}, nil
}

// Unmarshal 将 Value 解码为 target 类型。
// target 为接口类型时等价于 Decode；target 为 *PortableValue 时返回未解析包装。
func (m *Marshaller) Unmarshal(v Value, target reflect.Type) (any, error) {
	if target == portableType {
		return newUnresolved(v, m.registry), nil
	}
	if target.Kind() == reflect.Interface {
		decoded, err := m.Decode(v)
		if err != nil {
			return nil, err
		}
		if decoded != nil && !reflect.TypeOf(decoded).Implements(target) {
			return nil, &TypeMismatchError{Declared: v.TypeID, Requested: TypeName(target)}
		}
		return decoded, nil
	}

	requested := m.registry.IDFor(target)
	if requested != v.TypeID {
		return nil, &TypeMismatchError{Declared: v.TypeID, Requested: requested}
	}
	ptr := reflect.New(target)
	if err := json.Unmarshal(v.Data, ptr.Interface()); err != nil {
		return nil, &TypeMismatchError{Declared: v.TypeID, Requested: requested, Cause: err}
	}
	return ptr.Elem().Interface(), nil
}

// Decode 在不指定目标类型的情况下解码。
// 已注册类型直接还原为具体值；未知类型保留为未解析的 PortableValue。
func (m *Marshaller) Decode(v Value) (any, error) {
	if v.TypeID == nilTypeID {
		return nil, nil
	}
	if t, ok := m.registry.Lookup(v.TypeID); ok {
		return m.Unmarshal(v, t)
	}
	return newUnresolved(v, m.registry), nil
}

// Portable 将 Value 包装为 PortableValue；已注册类型会立即解析。
func (m *Marshaller) Portable(v Value) (*PortableValue, error) {
	p := newUnresolved(v, m.registry)
	if t, ok := m.registry.Lookup(v.TypeID); ok {
		if _, err := p.Resolve(t); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// UnmarshalAs 是 Unmarshal 的泛型版本。
func UnmarshalAs[T any](m *Marshaller, v Value) (T, error) {
	var zero T
	out, err := m.Unmarshal(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	typed, ok := out.(T)
	if !ok {
		return zero, &TypeMismatchError{Declared: v.TypeID, Requested: TypeName(reflect.TypeFor[T]())}
	}
	return typed, nil
}
