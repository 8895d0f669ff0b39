package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

var portableType = reflect.TypeFor[*PortableValue]()

// PortableValue 是带声明类型的值，载荷要么是具体值，要么是尚未反序列化的 JSON。
// 解析是惰性且幂等的：第一次以具体类型访问时解析并缓存，之后按具体值比较和序列化。
type PortableValue struct {
	mu       sync.Mutex
	typeID   string
	value    any
	raw      json.RawMessage
	resolved bool
	registry *Registry
}

// NewPortableValue 用具体值创建已解析的 PortableValue。
func NewPortableValue(typeID string, v any) *PortableValue {
	if typeID == "" {
		typeID = TypeName(reflect.TypeOf(v))
	}
	return &PortableValue{typeID: typeID, value: v, resolved: true}
}

func newUnresolved(v Value, registry *Registry) *PortableValue {
	raw := make(json.RawMessage, len(v.Data))
	copy(raw, v.Data)
	return &PortableValue{typeID: v.TypeID, raw: raw, registry: registry}
}

// TypeID 返回声明类型标识。
func (p *PortableValue) TypeID() string {
	return p.typeID
}

// IsResolved 报告载荷是否已解析为具体值。
func (p *PortableValue) IsResolved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolved
}

// Value 返回已解析的具体值；未解析时第二个返回值为 false。
func (p *PortableValue) Value() (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.resolved
}

// Resolve 将载荷解析为 t 类型并缓存。t 为接口类型时返回通用解码结果且不缓存。
func (p *PortableValue) Resolve(t reflect.Type) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	requested := TypeName(t)
	if p.registry != nil {
		requested = p.registry.IDFor(t)
	}

	if p.resolved {
		if p.value == nil {
			if t.Kind() == reflect.Interface {
				return nil, nil
			}
			return nil, &TypeMismatchError{Declared: p.typeID, Requested: requested}
		}
		vt := reflect.TypeOf(p.value)
		if vt == t || (t.Kind() == reflect.Interface && vt.Implements(t)) {
			return p.value, nil
		}
		return nil, &TypeMismatchError{Declared: p.typeID, Requested: requested}
	}

	if t.Kind() == reflect.Interface {
		var generic any
		if err := json.Unmarshal(p.raw, &generic); err != nil {
			return nil, &TypeMismatchError{Declared: p.typeID, Requested: requested, Cause: err}
		}
		return generic, nil
	}

	// 没有注册表时（例如经 UnmarshalJSON 得到）按默认类型名比较
	if requested != p.typeID {
		return nil, &TypeMismatchError{Declared: p.typeID, Requested: requested}
	}

	ptr := reflect.New(t)
	if err := json.Unmarshal(p.raw, ptr.Interface()); err != nil {
		return nil, &TypeMismatchError{Declared: p.typeID, Requested: requested, Cause: err}
	}
	p.value = ptr.Elem().Interface()
	p.resolved = true
	p.raw = nil
	return p.value, nil
}

// As 以 T 访问 PortableValue。
func As[T any](p *PortableValue) (T, error) {
	var zero T
	if p == nil {
		return zero, fmt.Errorf("wire: nil portable value")
	}
	out, err := p.Resolve(reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	typed, ok := out.(T)
	if !ok {
		return zero, &TypeMismatchError{Declared: p.typeID, Requested: TypeName(reflect.TypeFor[T]())}
	}
	return typed, nil
}

// Wire 返回 PortableValue 的 Value 形式。
func (p *PortableValue) Wire() (Value, error) {
	data, err := p.payload()
	if err != nil {
		return Value{}, err
	}
	return Value{TypeID: p.typeID, Data: data}, nil
}

func (p *PortableValue) payload() (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.resolved {
		return p.raw, nil
	}
	data, err := json.Marshal(p.value)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s: %w", p.typeID, err)
	}
	return data, nil
}

// Equal 比较两个 PortableValue。两侧都已解析时比较具体值，否则比较规范化后的载荷。
func (p *PortableValue) Equal(other *PortableValue) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p == other {
		return true
	}
	if p.typeID != other.typeID {
		return false
	}

	pv, pok := p.Value()
	ov, ook := other.Value()
	if pok && ook {
		return reflect.DeepEqual(pv, ov)
	}

	a, err := p.payload()
	if err != nil {
		return false
	}
	b, err := other.payload()
	if err != nil {
		return false
	}
	return canonicalEqual(a, b)
}

func canonicalEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// MarshalJSON 实现 json.Marshaler。
func (p *PortableValue) MarshalJSON() ([]byte, error) {
	w, err := p.Wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON 实现 json.Unmarshaler，结果为未解析状态。
func (p *PortableValue) UnmarshalJSON(data []byte) error {
	var w Value
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typeID = w.TypeID
	p.raw = w.Data
	p.value = nil
	p.resolved = false
	return nil
}

func (p *PortableValue) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return fmt.Sprintf("%s(%v)", p.typeID, p.value)
	}
	return fmt.Sprintf("%s(<unresolved %d bytes>)", p.typeID, len(p.raw))
}
