// eval.go evaluates #if constant expressions.
package cpp

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluator evaluates the condition text of an #if directive.
type Evaluator interface {
	Evaluate(expr string) (bool, error)
}

// MacroSource gives an evaluator access to the current macro definitions.
type MacroSource interface {
	Lookup(name string) *Macro
}

// ExprEvaluator is the default Evaluator. Macro names are replaced by their
// bodies, `defined` by 1 or 0 and any remaining identifier by 0.
type ExprEvaluator struct {
	macros MacroSource
}

// NewExprEvaluator creates an evaluator that resolves names through macros.
func NewExprEvaluator(macros MacroSource) *ExprEvaluator {
	return &ExprEvaluator{macros: macros}
}

// Evaluate reports whether expr is non-zero.
func (ev *ExprEvaluator) Evaluate(expr string) (bool, error) {
	tokens := Lex(expr, "<expr>")
	tokens = tokens[:len(tokens)-1] // EOF

	processed, err := ev.substitute(tokens, map[string]bool{})
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", expr, err)
	}
	if len(processed) == 0 {
		return false, fmt.Errorf("evaluating %q: empty expression", expr)
	}

	p := &exprParser{tokens: processed}
	result, err := p.parseConditional()
	if err != nil {
		return false, fmt.Errorf("evaluating %q: %w", expr, err)
	}
	if p.pos < len(p.tokens) {
		return false, fmt.Errorf("evaluating %q: unexpected token after expression: %s", expr, p.tokens[p.pos].Text)
	}
	return result != 0, nil
}

// substitute resolves `defined` and macro names. expanding holds the macros
// whose bodies are being substituted, so self-referencing macros end as 0.
func (ev *ExprEvaluator) substitute(tokens []Token, expanding map[string]bool) ([]Token, error) {
	var result []Token
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Type == PP_WHITESPACE {
			continue
		}
		if tok.Type != PP_IDENTIFIER {
			result = append(result, tok)
			continue
		}

		if tok.Text == "defined" {
			name, end, err := definedOperand(tokens, i+1)
			if err != nil {
				return nil, err
			}
			result = append(result, numberToken(ev.macros.Lookup(name) != nil, tok.Loc))
			i = end - 1
			continue
		}

		m := ev.macros.Lookup(tok.Text)
		if m != nil && !expanding[tok.Text] {
			if m.IsFunctionLike() {
				return nil, fmt.Errorf("function-like macro %s is not supported in #if", m.Name)
			}
			expanding[tok.Text] = true
			body, err := ev.substitute(m.Body, expanding)
			delete(expanding, tok.Text)
			if err != nil {
				return nil, err
			}
			result = append(result, body...)
			continue
		}

		// true and false keep their C++ meaning; anything else is 0
		result = append(result, numberToken(tok.Text == "true", tok.Loc))
	}
	return result, nil
}

// definedOperand parses `NAME` or `(NAME)` starting at i and returns the name
// and the index just past the operand.
func definedOperand(tokens []Token, i int) (string, int, error) {
	for i < len(tokens) && tokens[i].Type == PP_WHITESPACE {
		i++
	}
	if i >= len(tokens) {
		return "", i, fmt.Errorf("defined operator requires an identifier")
	}
	if tokens[i].Type == PP_IDENTIFIER {
		return tokens[i].Text, i + 1, nil
	}
	if tokens[i].Type != PP_PUNCTUATOR || tokens[i].Text != "(" {
		return "", i, fmt.Errorf("defined operator requires an identifier")
	}
	i++
	for i < len(tokens) && tokens[i].Type == PP_WHITESPACE {
		i++
	}
	if i >= len(tokens) || tokens[i].Type != PP_IDENTIFIER {
		return "", i, fmt.Errorf("defined() requires an identifier")
	}
	name := tokens[i].Text
	i++
	for i < len(tokens) && tokens[i].Type == PP_WHITESPACE {
		i++
	}
	if i >= len(tokens) || tokens[i].Type != PP_PUNCTUATOR || tokens[i].Text != ")" {
		return "", i, fmt.Errorf("missing ) in defined()")
	}
	return name, i + 1, nil
}

func numberToken(value bool, loc SourceLoc) Token {
	text := "0"
	if value {
		text = "1"
	}
	return Token{Type: PP_NUMBER, Text: text, Loc: loc}
}

// binaryPrec maps binary operators to their precedence; higher binds tighter.
var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, "<=": 7, ">": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

// exprParser parses and evaluates preprocessor constant expressions by
// precedence climbing.
type exprParser struct {
	tokens      []Token
	pos         int
	unevaluated int // >0 inside a short-circuited operand
}

func (p *exprParser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: PP_EOF}
	}
	return p.tokens[p.pos]
}

func (p *exprParser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *exprParser) match(text string) bool {
	if p.peek().Type == PP_PUNCTUATOR && p.peek().Text == text {
		p.advance()
		return true
	}
	return false
}

func (p *exprParser) parseConditional() (int64, error) {
	cond, err := p.parseBinary(1)
	if err != nil {
		return 0, err
	}
	if !p.match("?") {
		return cond, nil
	}

	thenVal, err := p.parseOperand(cond == 0, p.parseConditional)
	if err != nil {
		return 0, err
	}
	if !p.match(":") {
		return 0, fmt.Errorf("expected ':' in conditional expression")
	}
	elseVal, err := p.parseOperand(cond != 0, p.parseConditional)
	if err != nil {
		return 0, err
	}
	if cond != 0 {
		return thenVal, nil
	}
	return elseVal, nil
}

// parseOperand runs parse, suppressing evaluation errors when skipped is set.
func (p *exprParser) parseOperand(skipped bool, parse func() (int64, error)) (int64, error) {
	if skipped {
		p.unevaluated++
		defer func() { p.unevaluated-- }()
	}
	return parse()
}

func (p *exprParser) parseBinary(minPrec int) (int64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}

	for {
		op := p.peek()
		prec, ok := binaryPrec[op.Text]
		if op.Type != PP_PUNCTUATOR || !ok || prec < minPrec {
			return left, nil
		}
		p.advance()

		skipped := (op.Text == "&&" && left == 0) || (op.Text == "||" && left != 0)
		right, err := p.parseOperand(skipped, func() (int64, error) { return p.parseBinary(prec + 1) })
		if err != nil {
			return 0, err
		}
		left, err = p.apply(op.Text, left, right)
		if err != nil {
			return 0, err
		}
	}
}

func (p *exprParser) apply(op string, left, right int64) (int64, error) {
	switch op {
	case "||":
		return boolValue(left != 0 || right != 0), nil
	case "&&":
		return boolValue(left != 0 && right != 0), nil
	case "|":
		return left | right, nil
	case "^":
		return left ^ right, nil
	case "&":
		return left & right, nil
	case "==":
		return boolValue(left == right), nil
	case "!=":
		return boolValue(left != right), nil
	case "<":
		return boolValue(left < right), nil
	case "<=":
		return boolValue(left <= right), nil
	case ">":
		return boolValue(left > right), nil
	case ">=":
		return boolValue(left >= right), nil
	case "<<":
		return left << uint64(right), nil
	case ">>":
		return left >> uint64(right), nil
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/", "%":
		if right == 0 {
			if p.unevaluated > 0 {
				return 0, nil
			}
			if op == "/" {
				return 0, fmt.Errorf("division by zero")
			}
			return 0, fmt.Errorf("modulo by zero")
		}
		if op == "/" {
			return left / right, nil
		}
		return left % right, nil
	}
	return 0, fmt.Errorf("unknown operator %s", op)
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (p *exprParser) parseUnary() (int64, error) {
	if p.peek().Type == PP_PUNCTUATOR {
		switch p.peek().Text {
		case "!":
			p.advance()
			val, err := p.parseUnary()
			return boolValue(val == 0), err
		case "-":
			p.advance()
			val, err := p.parseUnary()
			return -val, err
		case "+":
			p.advance()
			return p.parseUnary()
		case "~":
			p.advance()
			val, err := p.parseUnary()
			return ^val, err
		}
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (int64, error) {
	tok := p.peek()

	switch {
	case tok.Type == PP_PUNCTUATOR && tok.Text == "(":
		p.advance()
		val, err := p.parseConditional()
		if err != nil {
			return 0, err
		}
		if !p.match(")") {
			return 0, fmt.Errorf("expected ')'")
		}
		return val, nil
	case tok.Type == PP_NUMBER:
		p.advance()
		return parseNumber(tok.Text)
	case tok.Type == PP_CHAR_CONST:
		p.advance()
		return parseCharConst(tok.Text)
	}

	return 0, fmt.Errorf("unexpected token in expression: %q (%v)", tok.Text, tok.Type)
}

// parseNumber parses an integer constant, ignoring u/l suffixes.
func parseNumber(s string) (int64, error) {
	s = strings.TrimRight(s, "lLuU")

	base := 10
	digits := s
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		base, digits = 16, s[2:]
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		base, digits = 2, s[2:]
	case len(s) > 1 && s[0] == '0':
		base, digits = 8, s[1:]
	}

	// Values above MaxInt64 keep their bit pattern, as unsigned arithmetic would
	val, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer constant %q", s)
	}
	return int64(val), nil
}

// parseCharConst parses a character constant like 'a' or '\n'.
func parseCharConst(s string) (int64, error) {
	if len(s) < 3 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return 0, fmt.Errorf("invalid character constant: %s", s)
	}
	inner := s[1 : len(s)-1]

	if inner[0] != '\\' {
		return int64(inner[0]), nil
	}
	if len(inner) < 2 {
		return 0, fmt.Errorf("invalid escape sequence")
	}

	simple := map[byte]int64{
		'n': '\n', 't': '\t', 'r': '\r', '\\': '\\', '\'': '\'', '"': '"',
		'a': '\a', 'b': '\b', 'f': '\f', 'v': '\v', '?': '?',
	}
	if v, ok := simple[inner[1]]; ok {
		return v, nil
	}
	if inner[1] == 'x' {
		val, err := strconv.ParseInt(inner[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hex escape in %s", s)
		}
		return val, nil
	}
	if inner[1] >= '0' && inner[1] <= '7' {
		val, err := strconv.ParseInt(inner[1:], 8, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid octal escape in %s", s)
		}
		return val, nil
	}
	return 0, fmt.Errorf("unknown escape sequence: %s", inner)
}
