package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/BaSui01/crewflow/workflow"
)

// ParseCondition 把条件表达式编译为 workflow.Condition.
//
// 支持:
//   - always / true, false
//   - success / on_success, failure / on_failure
//   - output_contains("text")
//   - vars.NAME == literal, vars.NAME != literal, var_equals("NAME", literal)
//   - !, &&, ||, 括号
//
// 空表达式等同于 always.
func ParseCondition(expr string) (workflow.Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return workflow.Always{}, nil
	}

	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &condParser{tokens: tokens}
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.pos)
	}
	return c, nil
}

// --- Token types ---

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3.14
	tkString                  // "hello"
	tkIdent                   // success, vars.mode, true
	tkOp                      // ==, !=, &&, ||, !
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
		case '"':
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = n
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", "&&", "||":
				tokens = append(tokens, token{tkOp, two})
				i += 2
				continue
			}
		}

		if ch == '!' {
			tokens = append(tokens, token{tkOp, "!"})
			i++
			continue
		}

		if isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1])) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num})
			i = n
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
	i := start + 1 // skip opening quote
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			switch runes[i+1] {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(runes[i+1])
			}
			i += 2
			continue
		}
		if runes[i] == '"' {
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
	if i < len(runes) && runes[i] == '.' {
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

// --- Recursive descent parser ---

type condParser struct {
	tokens []token
	pos    int
}

func (p *condParser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *condParser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *condParser) peekOp(op string) bool {
	t := p.peek()
	return t != nil && t.kind == tkOp && t.value == op
}

func (p *condParser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t == nil {
		return token{}, fmt.Errorf("expected %s, got end of expression", what)
	}
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %q", what, t.value)
	}
	return p.advance(), nil
}

// parseOr handles: expr || expr
func (p *condParser) parseOr() (workflow.Condition, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.peekOp("||") {
		return left, nil
	}
	or := workflow.Or{Conditions: []workflow.Condition{left}}
	for p.peekOp("||") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		or.Conditions = append(or.Conditions, right)
	}
	return or, nil
}

// parseAnd handles: expr && expr
func (p *condParser) parseAnd() (workflow.Condition, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if !p.peekOp("&&") {
		return left, nil
	}
	and := workflow.And{Conditions: []workflow.Condition{left}}
	for p.peekOp("&&") {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		and.Conditions = append(and.Conditions, right)
	}
	return and, nil
}

// parseUnary handles: !expr, primary
func (p *condParser) parseUnary() (workflow.Condition, error) {
	if p.peekOp("!") {
		p.advance()
		c, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return workflow.Not{Condition: c}, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (workflow.Condition, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tkLParen:
		p.advance()
		c, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return c, nil
	case tkIdent:
		p.advance()
		return p.parseIdent(t.value)
	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

func (p *condParser) parseIdent(name string) (workflow.Condition, error) {
	if key, ok := strings.CutPrefix(name, "vars."); ok {
		if key == "" {
			return nil, fmt.Errorf("missing variable name after vars.")
		}
		return p.parseComparison(key)
	}

	switch strings.ToLower(name) {
	case "always", "true":
		return workflow.Always{}, nil
	case "false":
		return workflow.Not{Condition: workflow.Always{}}, nil
	case "success", "on_success":
		return workflow.OnSuccess{}, nil
	case "failure", "on_failure":
		return workflow.OnFailure{}, nil
	case "output_contains":
		args, err := p.parseArgs(1)
		if err != nil {
			return nil, fmt.Errorf("output_contains: %w", err)
		}
		text, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("output_contains: argument must be a string")
		}
		return workflow.OutputContains{Text: text}, nil
	case "var_equals":
		args, err := p.parseArgs(2)
		if err != nil {
			return nil, fmt.Errorf("var_equals: %w", err)
		}
		key, ok := args[0].(string)
		if !ok || key == "" {
			return nil, fmt.Errorf("var_equals: first argument must be a variable name")
		}
		return workflow.VariableEquals{Key: key, Value: args[1]}, nil
	default:
		return nil, fmt.Errorf("unknown condition %q", name)
	}
}

// parseComparison handles: vars.key (==|!=) literal
func (p *condParser) parseComparison(key string) (workflow.Condition, error) {
	t := p.peek()
	if t == nil || t.kind != tkOp || (t.value != "==" && t.value != "!=") {
		return nil, fmt.Errorf("vars.%s must be compared with == or !=", key)
	}
	op := p.advance().value
	value, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	var c workflow.Condition = workflow.VariableEquals{Key: key, Value: value}
	if op == "!=" {
		c = workflow.Not{Condition: c}
	}
	return c, nil
}

func (p *condParser) parseArgs(n int) ([]any, error) {
	if _, err := p.expect(tkLParen, "'('"); err != nil {
		return nil, err
	}
	args := make([]any, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if _, err := p.expect(tkComma, "','"); err != nil {
				return nil, err
			}
		}
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if _, err := p.expect(tkRParen, "')'"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *condParser) parseLiteral() (any, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("expected a literal, got end of expression")
	}
	switch t.kind {
	case tkString:
		p.advance()
		return t.value, nil
	case tkNumber:
		p.advance()
		return parseNumber(t.value)
	case tkIdent:
		switch t.value {
		case "true":
			p.advance()
			return true, nil
		case "false":
			p.advance()
			return false, nil
		case "null":
			p.advance()
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected a literal, got %q", t.value)
}

func parseNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}
