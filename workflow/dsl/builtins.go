package dsl

import (
	"fmt"
	"reflect"
	"strings"
)

// builtins 返回默认注册的函数
func builtins() map[string]Func {
	return map[string]Func{
		"len":      fnLen,
		"lower":    stringFunc(strings.ToLower),
		"upper":    stringFunc(strings.ToUpper),
		"trim":     stringFunc(strings.TrimSpace),
		"contains": fnContains,
		"default":  fnDefault,
		"isEmpty":  fnIsEmpty,
	}
}

func stringFunc(fn func(string) string) Func {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return fn(Format(args[0])), nil
	}
}

// fnLen 返回字符串、切片或 map 的长度；nil 的长度为 0
func fnLen(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return 0, nil
	}
	if s, ok := args[0].(string); ok {
		return len([]rune(s)), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("len not defined for %T", args[0])
}

// fnContains 判断字符串包含子串，或集合包含元素
func fnContains(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	switch c := args[0].(type) {
	case nil:
		return false, nil
	case string:
		return strings.Contains(c, Format(args[1])), nil
	case map[string]any:
		_, ok := c[Format(args[1])]
		return ok, nil
	}
	rv := reflect.ValueOf(args[0])
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("contains not defined for %T", args[0])
	}
	for i := 0; i < rv.Len(); i++ {
		if evalComparison(rv.Index(i).Interface(), "==", args[1]) {
			return true, nil
		}
	}
	return false, nil
}

// fnIsEmpty 判断值为 nil 或长度为 0
func fnIsEmpty(args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	n, err := fnLen(args...)
	if err != nil {
		return args[0] == nil, nil
	}
	return n == 0, nil
}

// fnDefault 返回第一个非空参数
func fnDefault(args ...any) (any, error) {
	for _, a := range args {
		if a == nil {
			continue
		}
		if s, ok := a.(string); ok && s == "" {
			continue
		}
		return a, nil
	}
	return nil, nil
}
