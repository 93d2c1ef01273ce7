// directive.go parses single directive lines. Macro bodies are not
// syntactically constrained, so a small recursive-descent parser over the
// line's tokens is all that is needed.
package cpp

import (
	"fmt"
	"strings"
)

// Directive is a parsed directive line.
type Directive struct {
	Type       TokenType // PP_DEFINE, PP_INCLUDE, ...
	Keyword    string    // the word after #, "" for a null directive
	Name       string    // macro name for define/undef/ifdef/ifndef
	Macro      *Macro    // define only
	HeaderName string    // include file name without delimiters
	Quoted     bool      // "file" rather than <file>
	Expression string    // condition text of #if
	Operand    []Token   // unparsed operand tokens (computed includes, other directives)
	Loc        SourceLoc
}

// DirectiveError reports a directive line that could not be parsed.
type DirectiveError struct {
	Loc  SourceLoc
	Line string
	Msg  string
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("%s:%d: malformed directive %q: %s", e.Loc.File, e.Loc.Line, e.Line, e.Msg)
}

// ParseDirective parses the text of one directive line, as produced by the
// lexer for directive tokens.
func ParseDirective(text string, loc SourceLoc) (*Directive, error) {
	p := &lineParser{
		tokens: NewLineLexer(text, loc).AllTokens(),
		text:   text,
		loc:    loc,
	}

	p.skipSpace()
	if !p.acceptPunct("#") {
		return nil, p.errorf("missing '#'")
	}
	p.skipSpace()

	d := &Directive{Type: directiveType(text), Loc: loc}
	if tok := p.peek(); tok.Type == PP_IDENTIFIER {
		d.Keyword = tok.Text
		p.next()
	}

	var err error
	switch d.Type {
	case PP_DEFINE:
		d.Macro, err = p.parseDefine()
		if err == nil {
			d.Name = d.Macro.Name
		}
	case PP_UNDEF, PP_IFDEF, PP_IFNDEF:
		d.Name, err = p.parseName()
	case PP_INCLUDE:
		err = p.parseInclude(d)
	case PP_IF:
		d.Expression = strings.TrimSpace(afterKeyword(text))
		if d.Expression == "" {
			err = p.errorf("#if with no expression")
		}
	default:
		d.Operand = p.operand()
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// afterKeyword returns the raw text that follows "#keyword".
func afterKeyword(text string) string {
	s := strings.TrimLeft(strings.TrimPrefix(strings.TrimLeft(text, " \t"), "#"), " \t\f\v\r")
	return s[len(directiveKeyword("#"+s)):]
}

type lineParser struct {
	tokens []Token
	pos    int
	text   string
	loc    SourceLoc
}

func (p *lineParser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: PP_EOF}
	}
	return p.tokens[p.pos]
}

func (p *lineParser) next() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *lineParser) atEnd() bool {
	t := p.peek().Type
	return t == PP_EOF || t == PP_NEWLINE
}

func (p *lineParser) skipSpace() {
	for p.peek().Type == PP_WHITESPACE {
		p.pos++
	}
}

func (p *lineParser) acceptPunct(text string) bool {
	tok := p.peek()
	if tok.Type == PP_PUNCTUATOR && tok.Text == text {
		p.pos++
		return true
	}
	return false
}

func (p *lineParser) errorf(format string, args ...any) error {
	return &DirectiveError{Loc: p.loc, Line: p.text, Msg: fmt.Sprintf(format, args...)}
}

// parseName parses the single identifier operand of #undef/#ifdef/#ifndef.
func (p *lineParser) parseName() (string, error) {
	p.skipSpace()
	tok := p.next()
	if tok.Type != PP_IDENTIFIER {
		return "", p.errorf("macro name missing")
	}
	return tok.Text, nil
}

// parseDefine parses "NAME body" or "NAME(params) body". Only a '(' directly
// after the name, with no whitespace, makes the macro function-like.
func (p *lineParser) parseDefine() (*Macro, error) {
	p.skipSpace()
	nameTok := p.next()
	if nameTok.Type != PP_IDENTIFIER {
		return nil, p.errorf("macro name missing")
	}
	m := &Macro{Name: nameTok.Text, Loc: p.loc}

	if p.acceptPunct("(") {
		params, err := p.parseParams()
		if err != nil {
			return nil, err
		}
		m.Params = params
	}

	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	m.Body = body
	return m, nil
}

func (p *lineParser) parseParams() ([]string, error) {
	params := []string{}
	p.skipSpace()
	if p.acceptPunct(")") {
		return params, nil
	}
	for {
		p.skipSpace()
		tok := p.next()
		switch {
		case tok.Type == PP_PUNCTUATOR && tok.Text == "...":
			return nil, p.errorf("variadic macros are not supported")
		case tok.Type != PP_IDENTIFIER:
			return nil, p.errorf("expected parameter name, got %q", tok.Text)
		}
		for _, existing := range params {
			if existing == tok.Text {
				return nil, p.errorf("duplicate macro parameter %q", tok.Text)
			}
		}
		params = append(params, tok.Text)

		p.skipSpace()
		if p.acceptPunct(",") {
			continue
		}
		if p.acceptPunct(")") {
			return params, nil
		}
		return nil, p.errorf("expected ',' or ')' in parameter list")
	}
}

// parseBody collects the replacement list. Whitespace runs collapse to a
// single space token and leading/trailing whitespace is dropped.
func (p *lineParser) parseBody() ([]Token, error) {
	var body []Token
	for !p.atEnd() {
		tok := p.next()
		if tok.Type == PP_WHITESPACE {
			if len(body) > 0 && body[len(body)-1].Type != PP_WHITESPACE {
				tok.Text = " "
				body = append(body, tok)
			}
			continue
		}
		body = append(body, tok)
	}
	if len(body) > 0 && body[len(body)-1].Type == PP_WHITESPACE {
		body = body[:len(body)-1]
	}
	if len(body) > 0 && (body[0].Type == PP_HASHHASH || body[len(body)-1].Type == PP_HASHHASH) {
		return nil, p.errorf("'##' cannot appear at either end of a macro body")
	}
	return body, nil
}

// parseInclude extracts the header name from the raw line text. An operand
// that is neither "file" nor <file> is kept for macro expansion.
func (p *lineParser) parseInclude(d *Directive) error {
	rest := strings.TrimSpace(afterKeyword(p.text))
	switch {
	case strings.HasPrefix(rest, `"`):
		end := strings.IndexByte(rest[1:], '"')
		if end < 0 {
			return p.errorf("missing terminating '\"'")
		}
		d.HeaderName = rest[1 : end+1]
		d.Quoted = true
	case strings.HasPrefix(rest, "<"):
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return p.errorf("missing terminating '>'")
		}
		d.HeaderName = strings.TrimSpace(rest[1:end])
	default:
		d.Operand = p.operand()
		if len(d.Operand) == 0 {
			return p.errorf("missing include file name")
		}
		return nil
	}
	if d.HeaderName == "" {
		return p.errorf("empty include file name")
	}
	return nil
}

// operand returns the remaining significant tokens of the line.
func (p *lineParser) operand() []Token {
	var toks []Token
	for !p.atEnd() {
		tok := p.next()
		if tok.Type != PP_WHITESPACE {
			toks = append(toks, tok)
		}
	}
	return toks
}

// parseHeaderOperand interprets the expansion of a computed include operand.
func parseHeaderOperand(tokens []Token) (name string, quoted bool, ok bool) {
	if len(tokens) == 0 {
		return "", false, false
	}
	first := tokens[0]
	if first.Type == PP_STRING && len(first.Text) >= 2 && strings.HasPrefix(first.Text, `"`) {
		return first.Text[1 : len(first.Text)-1], true, len(first.Text) > 2
	}
	if first.Type == PP_PUNCTUATOR && first.Text == "<" {
		var sb strings.Builder
		for _, tok := range tokens[1:] {
			if tok.Type == PP_PUNCTUATOR && tok.Text == ">" {
				return sb.String(), false, sb.Len() > 0
			}
			sb.WriteString(tok.Text)
		}
	}
	return "", false, false
}
