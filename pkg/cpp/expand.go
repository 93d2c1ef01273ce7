// expand.go implements macro expansion including argument substitution,
// stringification, and token pasting.
package cpp

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// Expansion is the outcome of expanding one macro invocation.
type Expansion struct {
	Tokens   []Token // replacement, positioned at the invoking token
	Consumed int     // invocation length, including the macro name
	Args     []Token // matched arguments of a function-like macro
}

// Expander handles macro expansion. Expansion output is re-lexed and handed
// to rescan, which runs the directive dispatcher over it so that macros
// appearing in the output are expanded too.
type Expander struct {
	macros *MacroTable
	rescan func(tokens []Token) []Token
}

// NewExpander creates a new macro expander.
func NewExpander(macros *MacroTable, rescan func(tokens []Token) []Token) *Expander {
	return &Expander{macros: macros, rescan: rescan}
}

// Expand expands the invocation of m that starts at tokens[0]. It reports
// false when tokens do not form a matching invocation, in which case they
// stay literal.
func (e *Expander) Expand(m *Macro, tokens []Token) (Expansion, bool) {
	if len(tokens) == 0 {
		return Expansion{}, false
	}
	invocation := tokens[0]

	var exp Expansion
	var body []Token
	if !m.IsFunctionLike() {
		exp.Consumed = 1
		body = resolvePastes(m.Body)
	} else {
		args, n, ok := matchArguments(tokens, 1)
		if !ok || len(args) != len(m.Params) {
			return Expansion{}, false
		}
		exp.Consumed = n + 1
		exp.Args = args
		body = resolvePastes(substitute(m, args))
	}

	text := Serialize(body, " ")
	glog.V(2).Infof("[%s:%d]: lexing macro body: '%s'", invocation.Loc.File, invocation.Loc.Line, text)

	exp.Tokens = relocate(e.rescanText(m.Name, text, invocation.Loc), invocation)
	return exp, true
}

// rescanText re-lexes text and rescans it while name is suspended, so a
// macro never expands inside its own expansion.
func (e *Expander) rescanText(name, text string, loc SourceLoc) []Token {
	release := e.macros.Suspend(name)
	defer release()

	out := e.rescan(lexFragment(text, loc))
	if len(out) > 0 && out[len(out)-1].Type == PP_EOF {
		out = out[:len(out)-1]
	}
	return out
}

// matchArguments matches a parenthesized argument list starting at
// tokens[start]. It returns the arguments and the number of tokens spanned
// by the list, parentheses included.
func matchArguments(tokens []Token, start int) ([]Token, int, bool) {
	i := start
	if i >= len(tokens) || !isPunct(tokens[i], "(") {
		return nil, 0, false
	}
	i++

	var args []Token
	for {
		arg, next, ok := matchArgument(tokens, i)
		if !ok {
			glog.V(1).Infof("[%s:%d]: reached the end of the stream while matching a macro argument",
				tokens[start].Loc.File, tokens[start].Loc.Line)
			return nil, 0, false
		}
		if arg != nil {
			args = append(args, *arg)
		}
		i = next
		if isPunct(tokens[i], ",") {
			i++
			continue
		}
		// matchArgument only stops at ',' or ')'
		i++
		return args, i - start, true
	}
}

// matchArgument scans one argument from tokens[start] up to the ',' or ')'
// that ends it at nesting depth zero. The argument tokens are joined into a
// single string-typed token; an empty argument yields nil.
func matchArgument(tokens []Token, start int) (*Token, int, bool) {
	depth := 0
	for i := start; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Type == PP_EOF {
			return nil, i, false
		}
		if depth == 0 && (isPunct(tok, ",") || isPunct(tok, ")")) {
			if i == start {
				return nil, i, true
			}
			arg := Token{
				Type: PP_STRING,
				Text: Serialize(tokens[start:i], " "),
				Loc:  tokens[start].Loc,
			}
			return &arg, i, true
		}
		if isPunct(tok, "(") {
			depth++
		} else if isPunct(tok, ")") {
			depth--
		}
	}
	return nil, len(tokens), false
}

// substitute replaces parameters in the body of m by the argument text. A
// parameter directly preceded by # is stringified and the # dropped.
func substitute(m *Macro, args []Token) []Token {
	out := make([]Token, 0, len(m.Body))
	for i, tok := range m.Body {
		idx := -1
		if tok.Type == PP_IDENTIFIER {
			idx = m.paramIndex(tok.Text)
		}
		if idx < 0 {
			out = append(out, tok)
			continue
		}

		arg := args[idx]
		value := arg.Text
		if i > 0 && isPunct(m.Body[i-1], "#") {
			out = out[:len(out)-1]
			value = stringify(value)
		}
		out = append(out, Token{Type: arg.Type, Text: value, Loc: arg.Loc, Generated: true})
	}
	return out
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// stringify quotes text as a string literal (the # operator).
func stringify(text string) string {
	return `"` + stringEscaper.Replace(text) + `"`
}

// resolvePastes evaluates ## operators. The nearest non-whitespace tokens on
// either side are replaced by one token holding their concatenation.
func resolvePastes(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if tokens[i].Type != PP_HASHHASH {
			out = append(out, tokens[i])
			continue
		}

		for len(out) > 0 && out[len(out)-1].Type == PP_WHITESPACE {
			out = out[:len(out)-1]
		}
		if len(out) == 0 {
			panic(fmt.Sprintf("cpp: '##' at %s:%d has no left operand", tokens[i].Loc.File, tokens[i].Loc.Line))
		}
		left := out[len(out)-1]
		out = out[:len(out)-1]

		j := i + 1
		for j < len(tokens) && (tokens[j].Type == PP_WHITESPACE || tokens[j].Type == PP_HASHHASH) {
			j++
		}
		if j >= len(tokens) {
			panic(fmt.Sprintf("cpp: '##' at %s:%d has no right operand", tokens[i].Loc.File, tokens[i].Loc.Line))
		}
		right := tokens[j]

		out = append(out, Token{
			Type:      left.Type,
			Text:      left.Text + right.Text,
			Loc:       left.Loc,
			Generated: true,
		})
		i = j
	}
	return out
}

// relocate stamps tokens with the position of the invoking token.
func relocate(tokens []Token, invocation Token) []Token {
	result := make([]Token, len(tokens))
	for i, tok := range tokens {
		result[i] = Token{Type: tok.Type, Text: tok.Text, Loc: invocation.Loc, Generated: true}
	}
	return result
}

func isPunct(tok Token, text string) bool {
	return tok.Type == PP_PUNCTUATOR && tok.Text == text
}
