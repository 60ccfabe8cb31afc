// Package calculator evaluates arithmetic expressions with a closed set of
// math functions. Expressions are parsed in-process; nothing is ever passed
// to an interpreter, so the tool is safe for unauthorized turns.
package calculator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	carnet "github.com/carnetd/carnet"
)

// Evaluation failure reasons surfaced in ToolResult.Data so callers can tell
// a bad identifier apart from a math error without parsing the message.
const (
	ReasonInvalidIdentifier = "invalid_identifier"
	ReasonDivisionByZero    = "division_by_zero"
)

// evalError pairs a machine-readable reason with the human-readable message.
type evalError struct {
	reason string
	msg    string
}

func (e *evalError) Error() string { return e.msg }

func evalErrorf(reason, format string, args ...any) error {
	return &evalError{reason: reason, msg: fmt.Sprintf(format, args...)}
}

// Tool evaluates math expressions.
type Tool struct{}

// New creates a calculator tool.
func New() *Tool { return &Tool{} }

var _ carnet.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "calculator",
		Description: "Evaluate a math expression. Supports + - * / % ^, parentheses, and functions: abs, round, min, max, sum, pow, sqrt, sin, cos, tan, asin, acos, atan, sinh, cosh, tanh, log, log10, log2, exp, floor, ceil, factorial, gcd, radians, degrees. Constants: pi, e.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string","description":"Math expression to evaluate, e.g. \"sqrt(2) * sin(pi/4)\""}},"required":["expression"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if strings.TrimSpace(params.Expression) == "" {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "expression is required"), nil
	}

	value, err := Eval(params.Expression)
	if err != nil {
		res := carnet.ToolErr(carnet.ErrKindInvalidInput, err.Error())
		var ee *evalError
		if errors.As(err, &ee) {
			res.Data = map[string]any{"reason": ee.reason}
		}
		return res, nil
	}

	return carnet.ToolResult{
		Success: true,
		Output:  formatNumber(value),
		Data:    map[string]any{"expression": params.Expression, "result": value},
	}, nil
}

// formatNumber renders integers without a decimal point and everything else
// with full float precision.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Eval parses and evaluates one expression.
func Eval(expr string) (float64, error) {
	p := &parser{input: expr}
	p.next()
	v, err := p.parseExpr(0)
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
	return v, nil
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp     // + - * / % ^
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

type parser struct {
	input string
	pos   int
	tok   token
}

func (p *parser) next() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.input) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	c := p.input[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		end := p.pos
		for end < len(p.input) && (isDigit(p.input[end]) || p.input[end] == '.' ||
			p.input[end] == 'e' || p.input[end] == 'E' ||
			((p.input[end] == '+' || p.input[end] == '-') && end > p.pos && (p.input[end-1] == 'e' || p.input[end-1] == 'E'))) {
			end++
		}
		text := p.input[p.pos:end]
		num, err := strconv.ParseFloat(text, 64)
		if err != nil {
			num = math.NaN()
		}
		p.pos = end
		p.tok = token{kind: tokNumber, text: text, num: num, pos: start}

	case isAlpha(c):
		end := p.pos
		for end < len(p.input) && (isAlpha(p.input[end]) || isDigit(p.input[end])) {
			end++
		}
		p.tok = token{kind: tokIdent, text: p.input[p.pos:end], pos: start}
		p.pos = end

	case c == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case c == ',':
		p.pos++
		p.tok = token{kind: tokComma, text: ",", pos: start}
	case strings.ContainsRune("+-*/%^", rune(c)):
		// ** is an alias for ^
		if c == '*' && p.pos+1 < len(p.input) && p.input[p.pos+1] == '*' {
			p.pos += 2
			p.tok = token{kind: tokOp, text: "^", pos: start}
			return
		}
		p.pos++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	default:
		p.tok = token{kind: tokOp, text: string(c), pos: start}
		p.pos++
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// --- parser ---

// binding powers; ^ is right-associative and binds tightest.
func bindingPower(op string) int {
	switch op {
	case "+", "-":
		return 10
	case "*", "/", "%":
		return 20
	case "^":
		return 30
	}
	return -1
}

func (p *parser) parseExpr(minBP int) (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}

	for p.tok.kind == tokOp {
		op := p.tok.text
		bp := bindingPower(op)
		if bp < minBP {
			break
		}
		p.next()

		nextBP := bp + 1
		if op == "^" {
			nextBP = bp // right-associative
		}
		right, err := p.parseExpr(nextBP)
		if err != nil {
			return 0, err
		}

		left, err = applyBinary(op, left, right)
		if err != nil {
			return 0, err
		}
	}
	return left, nil
}

func applyBinary(op string, a, b float64) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, evalErrorf(ReasonDivisionByZero, "division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, evalErrorf(ReasonDivisionByZero, "division by zero")
		}
		return math.Mod(a, b), nil
	case "^":
		return math.Pow(a, b), nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}

func (p *parser) parseUnary() (float64, error) {
	switch {
	case p.tok.kind == tokOp && p.tok.text == "-":
		p.next()
		v, err := p.parseUnary()
		return -v, err
	case p.tok.kind == tokOp && p.tok.text == "+":
		p.next()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (float64, error) {
	switch p.tok.kind {
	case tokNumber:
		v := p.tok.num
		if math.IsNaN(v) {
			return 0, fmt.Errorf("invalid number %q at position %d", p.tok.text, p.tok.pos)
		}
		p.next()
		return v, nil

	case tokIdent:
		name := strings.ToLower(p.tok.text)
		p.next()
		if p.tok.kind == tokLParen {
			return p.parseCall(name)
		}
		switch name {
		case "pi":
			return math.Pi, nil
		case "e":
			return math.E, nil
		}
		return 0, evalErrorf(ReasonInvalidIdentifier, "unknown identifier %q", name)

	case tokLParen:
		p.next()
		v, err := p.parseExpr(0)
		if err != nil {
			return 0, err
		}
		if p.tok.kind != tokRParen {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.next()
		return v, nil
	}
	return 0, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
}

func (p *parser) parseCall(name string) (float64, error) {
	p.next() // consume (
	var args []float64
	if p.tok.kind != tokRParen {
		for {
			v, err := p.parseExpr(0)
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			if p.tok.kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.tok.kind != tokRParen {
		return 0, fmt.Errorf("missing closing parenthesis in call to %s", name)
	}
	p.next()
	return callFunction(name, args)
}

func callFunction(name string, args []float64) (float64, error) {
	unary := func(fn func(float64) float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		return fn(args[0]), nil
	}

	switch name {
	case "abs":
		return unary(math.Abs)
	case "sqrt":
		return unary(math.Sqrt)
	case "sin":
		return unary(math.Sin)
	case "cos":
		return unary(math.Cos)
	case "tan":
		return unary(math.Tan)
	case "asin":
		return unary(math.Asin)
	case "acos":
		return unary(math.Acos)
	case "atan":
		return unary(math.Atan)
	case "sinh":
		return unary(math.Sinh)
	case "cosh":
		return unary(math.Cosh)
	case "tanh":
		return unary(math.Tanh)
	case "log":
		return unary(math.Log)
	case "log10":
		return unary(math.Log10)
	case "log2":
		return unary(math.Log2)
	case "exp":
		return unary(math.Exp)
	case "floor":
		return unary(math.Floor)
	case "ceil":
		return unary(math.Ceil)
	case "radians":
		return unary(func(v float64) float64 { return v * math.Pi / 180 })
	case "degrees":
		return unary(func(v float64) float64 { return v * 180 / math.Pi })

	case "round":
		switch len(args) {
		case 1:
			return math.Round(args[0]), nil
		case 2:
			shift := math.Pow(10, math.Trunc(args[1]))
			return math.Round(args[0]*shift) / shift, nil
		}
		return 0, fmt.Errorf("round expects 1 or 2 arguments, got %d", len(args))

	case "pow":
		if len(args) != 2 {
			return 0, fmt.Errorf("pow expects 2 arguments, got %d", len(args))
		}
		return math.Pow(args[0], args[1]), nil

	case "min", "max", "sum":
		if len(args) == 0 {
			return 0, fmt.Errorf("%s expects at least 1 argument", name)
		}
		acc := args[0]
		for _, v := range args[1:] {
			switch name {
			case "min":
				acc = math.Min(acc, v)
			case "max":
				acc = math.Max(acc, v)
			case "sum":
				acc += v
			}
		}
		if name == "sum" && len(args) == 1 {
			acc = args[0]
		}
		return acc, nil

	case "factorial":
		if len(args) != 1 {
			return 0, fmt.Errorf("factorial expects 1 argument, got %d", len(args))
		}
		n := args[0]
		if n < 0 || n != math.Trunc(n) {
			return 0, fmt.Errorf("factorial requires a non-negative integer")
		}
		if n > 170 {
			return 0, fmt.Errorf("factorial(%v) overflows", n)
		}
		acc := 1.0
		for i := 2.0; i <= n; i++ {
			acc *= i
		}
		return acc, nil

	case "gcd":
		if len(args) != 2 {
			return 0, fmt.Errorf("gcd expects 2 arguments, got %d", len(args))
		}
		a, b := args[0], args[1]
		if a != math.Trunc(a) || b != math.Trunc(b) {
			return 0, fmt.Errorf("gcd requires integers")
		}
		x, y := int64(math.Abs(a)), int64(math.Abs(b))
		for y != 0 {
			x, y = y, x%y
		}
		return float64(x), nil
	}

	return 0, evalErrorf(ReasonInvalidIdentifier, "unknown function %q", name)
}
