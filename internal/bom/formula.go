package bom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// EvaluateFormula runs a sandboxed arithmetic expression against the given
// variables. Supported syntax: + - * / ( ), numeric literals, variable names,
// and the functions round, floor, ceil, max, min (a Math. prefix is accepted
// for compatibility with formulas authored elsewhere). An empty formula
// evaluates to 0; any other failure is reported as ErrFormula.
func EvaluateFormula(formula string, vars map[string]float64) (float64, error) {
	if strings.TrimSpace(formula) == "" {
		return 0, nil
	}
	p := &formulaParser{input: formula, vars: vars}
	value, err := p.parseExpr()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFormula, err)
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("%w: unexpected %q at position %d", ErrFormula, p.input[p.pos], p.pos)
	}
	return value, nil
}

type formulaParser struct {
	input string
	pos   int
	vars  map[string]float64
}

func (p *formulaParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *formulaParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// parseExpr handles + and -.
func (p *formulaParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

// parseTerm handles * and /.
func (p *formulaParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *formulaParser) parseFactor() (float64, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '+':
		p.pos++
		return p.parseFactor()
	case c == '-':
		p.pos++
		v, err := p.parseFactor()
		return -v, err
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case isIdentStart(c):
		return p.parseIdent()
	default:
		return 0, fmt.Errorf("unexpected character %q at position %d", c, p.pos)
	}
}

func (p *formulaParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
	}
	return v, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '.'
}

func (p *formulaParser) parseIdent() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
		p.pos++
	}
	name := p.input[start:p.pos]
	p.skipSpace()
	if p.peek() == '(' {
		return p.parseCall(name)
	}
	if v, ok := p.vars[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown variable %q", name)
}

func (p *formulaParser) parseCall(name string) (float64, error) {
	p.pos++ // consume '('
	var args []float64
	p.skipSpace()
	if p.peek() != ')' {
		for {
			v, err := p.parseExpr()
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
				continue
			}
			break
		}
	}
	if p.peek() != ')' {
		return 0, fmt.Errorf("missing closing parenthesis in call to %s", name)
	}
	p.pos++
	return applyFunc(strings.TrimPrefix(name, "Math."), args)
}

func applyFunc(name string, args []float64) (float64, error) {
	unary := func(fn func(float64) float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		return fn(args[0]), nil
	}
	variadic := func(fn func(float64, float64) float64) (float64, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("%s expects at least 2 arguments, got %d", name, len(args))
		}
		acc := args[0]
		for _, v := range args[1:] {
			acc = fn(acc, v)
		}
		return acc, nil
	}
	switch name {
	case "round":
		return unary(math.Round)
	case "floor":
		return unary(math.Floor)
	case "ceil":
		return unary(math.Ceil)
	case "max":
		return variadic(math.Max)
	case "min":
		return variadic(math.Min)
	default:
		return 0, fmt.Errorf("unknown function %q", name)
	}
}
