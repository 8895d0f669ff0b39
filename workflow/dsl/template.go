package dsl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// segment 是模板中的一段：纯文本或 ${expr}
type segment struct {
	text   string
	expr   string
	isExpr bool
}

// parseTemplate 把模板拆分为文本与表达式段。"$${" 输出字面量 "${"。
func parseTemplate(template string) ([]segment, error) {
	var segs []segment
	var text strings.Builder
	i := 0
	for i < len(template) {
		if strings.HasPrefix(template[i:], "$${") {
			text.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(template[i:], "${") {
			text.WriteByte(template[i])
			i++
			continue
		}
		end := closingBrace(template, i+2)
		if end < 0 {
			return nil, fmt.Errorf("unterminated ${ at position %d", i)
		}
		if text.Len() > 0 {
			segs = append(segs, segment{text: text.String()})
			text.Reset()
		}
		segs = append(segs, segment{expr: strings.TrimSpace(template[i+2 : end]), isExpr: true})
		i = end + 1
	}
	if text.Len() > 0 {
		segs = append(segs, segment{text: text.String()})
	}
	return segs, nil
}

// closingBrace 返回与 from 之前的 "${" 匹配的 '}'，跳过字符串字面量中的花括号
func closingBrace(s string, from int) int {
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '}':
			return i
		}
	}
	return -1
}

// Render 渲染模板，把每个 ${expr} 替换为表达式结果的文本形式
func (e *Evaluator) Render(template string, vars Resolver) (string, error) {
	segs, err := parseTemplate(template)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	var sb strings.Builder
	for _, s := range segs {
		if !s.isExpr {
			sb.WriteString(s.text)
			continue
		}
		v, err := e.Evaluate(s.expr, vars)
		if err != nil {
			return "", fmt.Errorf("render template: %w", err)
		}
		sb.WriteString(Format(v))
	}
	return sb.String(), nil
}

// CheckTemplate 校验模板中每个表达式的语法
func (e *Evaluator) CheckTemplate(template string) error {
	segs, err := parseTemplate(template)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if !s.isExpr {
			continue
		}
		if s.expr == "" {
			return fmt.Errorf("empty expression in template")
		}
		if err := e.Check(s.expr); err != nil {
			return err
		}
	}
	return nil
}

// Format 把表达式结果转换为模板文本：nil 为空串，整数值的浮点数不带小数部分，
// 集合类型输出为 JSON。
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	case []any, []string, map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
