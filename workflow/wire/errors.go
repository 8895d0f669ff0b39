package wire

import "fmt"

// TypeMismatchError 表示以错误的具体类型访问已序列化的值。
type TypeMismatchError struct {
	Declared  string
	Requested string
	Cause     error
}

func (e *TypeMismatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("wire: type mismatch: declared %s, requested %s: %v", e.Declared, e.Requested, e.Cause)
	}
	return fmt.Sprintf("wire: type mismatch: declared %s, requested %s", e.Declared, e.Requested)
}

func (e *TypeMismatchError) Unwrap() error {
	return e.Cause
}
