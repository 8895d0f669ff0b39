package dsl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrUnknownFunction is returned when an expression calls a function that was never registered.
var ErrUnknownFunction = errors.New("unknown function")

// Resolver looks up a dot-notation variable path such as "Local.order.total".
type Resolver interface {
	Resolve(path string) (any, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(path string) (any, bool)

func (f ResolverFunc) Resolve(path string) (any, bool) { return f(path) }

// Vars is a Resolver over nested maps.
type Vars map[string]any

func (v Vars) Resolve(path string) (any, bool) {
	return Walk(map[string]any(v), strings.Split(path, "."))
}

// Func is a builtin callable from expressions, e.g. len(Local.items).
type Func func(args ...any) (any, error)

// Evaluator evaluates expressions and ${expr} templates.
// Supported operators: ==, !=, >, <, >=, <=, &&, ||, !, +, -, *, /, %
// Supported literals: numbers, quoted strings, true, false, null
// Identifiers are dot paths resolved through a Resolver; missing paths evaluate to nil.
type Evaluator struct {
	funcs map[string]Func
}

// NewEvaluator returns an evaluator with the builtin functions registered.
func NewEvaluator() *Evaluator {
	e := &Evaluator{funcs: make(map[string]Func)}
	for name, fn := range builtins() {
		e.funcs[name] = fn
	}
	return e
}

// Register adds or replaces a function.
func (e *Evaluator) Register(name string, fn Func) *Evaluator {
	e.funcs[name] = fn
	return e
}

// Evaluate evaluates expr and returns its value.
func (e *Evaluator) Evaluate(expr string, vars Resolver) (any, error) {
	v, err := e.run(expr, vars, false)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return v, nil
}

// EvaluateBool evaluates expr and converts the result with truthiness rules.
// An empty expression is false.
func (e *Evaluator) EvaluateBool(expr string, vars Resolver) (bool, error) {
	v, err := e.Evaluate(expr, vars)
	if err != nil {
		return false, err
	}
	return ToBool(v), nil
}

// Check validates the syntax of expr and the functions it calls without evaluating it.
func (e *Evaluator) Check(expr string) error {
	if _, err := e.run(expr, nil, true); err != nil {
		return fmt.Errorf("check %q: %w", expr, err)
	}
	return nil
}

func (e *Evaluator) run(expr string, vars Resolver, dry bool) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	if vars == nil {
		vars = Vars(nil)
	}

	p := &exprParser{tokens: tokens, vars: vars, funcs: e.funcs, dry: dry}
	val, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.pos)
	}
	return val, nil
}

// --- Token types ---

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3.14
	tkString                  // "hello"
	tkIdent                   // variable path, function name or true/false/null
	tkOp                      // ==, !=, >, <, >=, <=, &&, ||, !, +, -, *, /, %
	tkLParen                  // (
	tkRParen                  // )
	tkComma                   // ,
)

type token struct {
	kind  tokenKind
	value string
}

// --- Tokenizer ---

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	runes := []rune(expr)

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{tkLParen, "("})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tkRParen, ")"})
			i++
			continue
		case ',':
			tokens = append(tokens, token{tkComma, ","})
			i++
			continue
		}

		// String literal, double or single quoted
		if ch == '"' || ch == '\'' {
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = n
			continue
		}

		// Two-character operators
		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tkOp, two})
				i += 2
				continue
			}
		}

		// Number (including negative: only if preceded by an operator or start)
		if isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && isNumberStart(tokens)) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num})
			i = n
			continue
		}

		// Single-character operators
		if strings.ContainsRune("><!+-*/%", ch) {
			tokens = append(tokens, token{tkOp, string(ch)})
			i++
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			tokens = append(tokens, token{tkIdent, ident})
			i = n
			continue
		}

		return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
	}

	return tokens, nil
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if i < len(runes) && runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i+1 < len(runes) && runes[i] == '.' && isDigit(runes[i+1]) {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

// isNumberStart returns true if a '-' should be treated as a negative number prefix
// rather than a subtraction operator. This is the case at the start of the expression
// or after an operator, an opening parenthesis or a comma.
func isNumberStart(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen || last.kind == tkComma
}

// --- Recursive descent parser ---

type exprParser struct {
	tokens []token
	pos    int
	vars   Resolver
	funcs  map[string]Func
	// dry 只做语法检查：不解析变量、不调用函数
	dry bool
}

func (p *exprParser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *exprParser) peekOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.value == op {
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// parseOr handles: expr || expr
func (p *exprParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ToBool(left) || ToBool(right)
	}
}

// parseAnd handles: expr && expr
func (p *exprParser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = ToBool(left) && ToBool(right)
	}
}

// parseComparison handles: expr (==|!=|>|<|>=|<=) expr
func (p *exprParser) parseComparison() (any, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<="); ok {
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return evalComparison(left, op, right), nil
	}
	return left, nil
}

// parseAdditive handles: expr (+|-) expr
func (p *exprParser) parseAdditive() (any, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("+", "-")
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		if p.dry {
			continue
		}
		if left, err = evalArithmetic(left, op, right); err != nil {
			return nil, err
		}
	}
}

// parseMultiplicative handles: expr (*|/|%) expr
func (p *exprParser) parseMultiplicative() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if p.dry {
			continue
		}
		if left, err = evalArithmetic(left, op, right); err != nil {
			return nil, err
		}
	}
}

// parseUnary handles: !expr, -expr, primary
func (p *exprParser) parseUnary() (any, error) {
	if op, ok := p.peekOp("!", "-"); ok {
		p.advance()
		val, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "!" {
			return !ToBool(val), nil
		}
		if p.dry {
			return nil, nil
		}
		return evalArithmetic(0, "-", val)
	}
	return p.parsePrimary()
}

// parsePrimary handles: literals, identifiers, function calls, parenthesized expressions
func (p *exprParser) parsePrimary() (any, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		return parseNumber(t.value)

	case tkString:
		p.advance()
		return t.value, nil

	case tkIdent:
		p.advance()
		if next := p.peek(); next != nil && next.kind == tkLParen {
			return p.parseCall(t.value)
		}
		switch t.value {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "nil":
			return nil, nil
		}
		if p.dry {
			return nil, nil
		}
		v, _ := p.vars.Resolve(t.value)
		return v, nil

	case tkLParen:
		p.advance()
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() == nil || p.peek().kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.advance()
		return val, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

// parseCall handles: name(arg, ...)
func (p *exprParser) parseCall(name string) (any, error) {
	fn, ok := p.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	p.advance() // (

	var args []any
	if t := p.peek(); t != nil && t.kind == tkRParen {
		p.advance()
	} else {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			t := p.peek()
			if t == nil {
				return nil, fmt.Errorf("expected closing parenthesis in call to %s", name)
			}
			p.advance()
			if t.kind == tkRParen {
				break
			}
			if t.kind != tkComma {
				return nil, fmt.Errorf("unexpected token %q in call to %s", t.value, name)
			}
		}
	}

	if p.dry {
		return nil, nil
	}
	v, err := fn(args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// --- Evaluation helpers ---

// Walk resolves a path below v through maps and slices.
// "items.0.name" on {"items": [{"name": "a"}]} yields "a".
func Walk(v any, path []string) (any, bool) {
	current := v
	for _, part := range path {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := c[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		case []string:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			current = c[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// evalComparison evaluates a comparison between two values.
// nil is treated as less than any non-nil value; two nils are equal.
func evalComparison(left any, op string, right any) bool {
	if left == nil && right == nil {
		return op == "==" || op == ">=" || op == "<="
	}
	if left == nil || right == nil {
		if op == "!=" {
			return true
		}
		if op == "==" {
			return false
		}
		if left == nil {
			return op == "<" || op == "<="
		}
		return op == ">" || op == ">="
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls := Format(left)
	rs := Format(right)
	switch op {
	case "==":
		return ls == rs
	case "!=":
		return ls != rs
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

// evalArithmetic applies a binary arithmetic operator.
// + concatenates when either side is a string; integers stay integers except for /.
func evalArithmetic(left any, op string, right any) (any, error) {
	if op == "+" {
		_, ls := left.(string)
		_, rs := right.(string)
		if ls || rs {
			return Format(left) + Format(right), nil
		}
	}
	if left == nil {
		left = 0
	}
	if right == nil {
		right = 0
	}

	li, lint := toInt64(left)
	ri, rint := toInt64(right)
	if lint && rint && op != "/" {
		switch op {
		case "+":
			return int(li + ri), nil
		case "-":
			return int(li - ri), nil
		case "*":
			return int(li * ri), nil
		case "%":
			if ri == 0 {
				return nil, fmt.Errorf("modulo by zero")
			}
			return int(li % ri), nil
		}
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s not defined for %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case "%":
		if int64(rf) == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	}
	return nil, fmt.Errorf("unknown operator %s", op)
}

// ToBool converts a value to boolean.
func ToBool(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int64:
		return val, true
	case int32:
		return int64(val), true
	default:
		return 0, false
	}
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case float32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// parseNumber parses a number literal; literals without a fraction are ints.
func parseNumber(s string) (any, error) {
	if !strings.Contains(s, ".") {
		if i, err := strconv.Atoi(s); err == nil {
			return i, nil
		}
	}
	return strconv.ParseFloat(s, 64)
}
