// Package cpp implements a token-stream C/C++ preprocessor for static analysis.
//
// Source text is split into preprocessing tokens by the Lexer. A Session then
// consumes the token stream one pending token at a time, handling directives,
// storing macro definitions, expanding macro invocations and harvesting
// included headers for further definitions.
package cpp

import (
	"strings"
	"unicode"
)

// TokenType represents the type of a preprocessing token.
type TokenType int

const (
	PP_EOF TokenType = iota
	PP_IDENTIFIER
	PP_NUMBER
	PP_CHAR_CONST
	PP_STRING
	PP_PUNCTUATOR
	PP_HASHHASH   // ## (token pasting)
	PP_NEWLINE    // significant for directive boundaries
	PP_WHITESPACE // preserved for macro spacing

	// Directive tokens span a whole logical directive line.
	PP_DEFINE
	PP_UNDEF
	PP_INCLUDE
	PP_IF
	PP_IFDEF
	PP_IFNDEF
	PP_ELSE
	PP_ENDIF
	PP_DIRECTIVE // any other directive (#pragma, #elif, #error, ...)
)

func (t TokenType) String() string {
	switch t {
	case PP_EOF:
		return "EOF"
	case PP_IDENTIFIER:
		return "IDENTIFIER"
	case PP_NUMBER:
		return "NUMBER"
	case PP_CHAR_CONST:
		return "CHAR_CONST"
	case PP_STRING:
		return "STRING"
	case PP_PUNCTUATOR:
		return "PUNCTUATOR"
	case PP_HASHHASH:
		return "HASHHASH"
	case PP_NEWLINE:
		return "NEWLINE"
	case PP_WHITESPACE:
		return "WHITESPACE"
	case PP_DEFINE:
		return "DEFINE"
	case PP_UNDEF:
		return "UNDEF"
	case PP_INCLUDE:
		return "INCLUDE"
	case PP_IF:
		return "IF"
	case PP_IFDEF:
		return "IFDEF"
	case PP_IFNDEF:
		return "IFNDEF"
	case PP_ELSE:
		return "ELSE"
	case PP_ENDIF:
		return "ENDIF"
	case PP_DIRECTIVE:
		return "DIRECTIVE"
	default:
		return "UNKNOWN"
	}
}

// IsDirective reports whether t is one of the directive token types.
func (t TokenType) IsDirective() bool {
	return t >= PP_DEFINE && t <= PP_DIRECTIVE
}

// SourceLoc represents a position in the source file.
type SourceLoc struct {
	File   string
	Line   int
	Column int
}

// Token represents a preprocessing token.
type Token struct {
	Type      TokenType
	Text      string
	Loc       SourceLoc
	Generated bool // produced by macro expansion
}

// Lexer tokenizes C source code into preprocessing tokens.
type Lexer struct {
	input      string
	pos        int
	line       int
	column     int
	filename   string
	atBOL      bool // at beginning of line (for # detection)
	directives bool // recognize directive lines at all
}

// NewLexer creates a new preprocessor lexer.
func NewLexer(input, filename string) *Lexer {
	return &Lexer{
		input:      input,
		pos:        0,
		line:       1,
		column:     1,
		filename:   filename,
		atBOL:      true,
		directives: true,
	}
}

// NewLineLexer creates a lexer for text that never starts a directive, such
// as the operands of a directive line or the output of a macro expansion.
func NewLineLexer(input string, loc SourceLoc) *Lexer {
	l := NewLexer(input, loc.File)
	l.atBOL = false
	l.directives = false
	if loc.Line > 0 {
		l.line = loc.Line
	}
	if loc.Column > 0 {
		l.column = loc.Column
	}
	return l
}

// NextToken returns the next preprocessing token.
func (l *Lexer) NextToken() Token {
	// Handle line continuation first (backslash-newline)
	l.handleLineContinuation()

	if l.pos >= len(l.input) {
		return Token{Type: PP_EOF, Text: "", Loc: l.loc()}
	}

	// Check for newline (significant for directive boundaries)
	if l.peek() == '\n' {
		tok := Token{Type: PP_NEWLINE, Text: "\n", Loc: l.loc()}
		l.advance()
		l.atBOL = true
		return tok
	}

	// Handle whitespace (preserved for macro spacing)
	if l.isWhitespace(l.peek()) {
		return l.scanWhitespace()
	}

	// Handle comments (replace with single space per the C standard)
	if l.peek() == '/' && l.pos+1 < len(l.input) {
		if l.input[l.pos+1] == '/' {
			return l.scanLineComment()
		}
		if l.input[l.pos+1] == '*' {
			return l.scanBlockComment()
		}
	}

	// A # at beginning of line starts a directive line
	if l.peek() == '#' && l.atBOL && l.directives {
		return l.scanDirective()
	}

	l.atBOL = false

	// Check for ## (token pasting)
	if l.peek() == '#' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '#' {
		tok := Token{Type: PP_HASHHASH, Text: "##", Loc: l.loc()}
		l.advance()
		l.advance()
		return tok
	}

	// Check for # (stringification operator in macros)
	if l.peek() == '#' {
		tok := Token{Type: PP_PUNCTUATOR, Text: "#", Loc: l.loc()}
		l.advance()
		return tok
	}

	// Handle string literals
	if l.peek() == '"' {
		return l.scanString()
	}

	// Handle character constants
	if l.peek() == '\'' {
		return l.scanCharConst()
	}

	// Handle preprocessing numbers (broader than C numbers)
	if l.isDigit(l.peek()) || (l.peek() == '.' && l.pos+1 < len(l.input) && l.isDigit(l.input[l.pos+1])) {
		return l.scanNumber()
	}

	// Handle identifiers and keywords
	if l.isIdentStart(l.peek()) {
		return l.scanIdentifier()
	}

	// Handle punctuators
	return l.scanPunctuator()
}

// AllTokens returns all tokens from the input.
func (l *Lexer) AllTokens() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == PP_EOF {
			break
		}
	}
	return tokens
}

// Lex tokenizes input and returns its significant tokens: whitespace,
// comments and newlines are dropped. The result always ends in PP_EOF.
func Lex(input, filename string) []Token {
	return significant(NewLexer(input, filename).AllTokens())
}

// lexFragment lexes expansion output. Tokens are positioned at loc.
func lexFragment(text string, loc SourceLoc) []Token {
	return significant(NewLineLexer(text, loc).AllTokens())
}

func significant(tokens []Token) []Token {
	result := tokens[:0]
	for _, tok := range tokens {
		if tok.Type == PP_WHITESPACE || tok.Type == PP_NEWLINE {
			continue
		}
		result = append(result, tok)
	}
	return result
}

func (l *Lexer) handleLineContinuation() {
	for l.pos < len(l.input)-1 && l.input[l.pos] == '\\' && l.input[l.pos+1] == '\n' {
		l.pos += 2
		l.line++
		l.column = 1
	}
}

// skipLineContinuation checks for and skips a line continuation at the current position.
// Returns true if a continuation was skipped.
func (l *Lexer) skipLineContinuation() bool {
	if l.pos < len(l.input)-1 && l.input[l.pos] == '\\' && l.input[l.pos+1] == '\n' {
		l.pos += 2
		l.line++
		l.column = 1
		return true
	}
	return false
}

func (l *Lexer) loc() SourceLoc {
	return SourceLoc{File: l.filename, Line: l.line, Column: l.column}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) advance() {
	if l.pos < len(l.input) {
		if l.input[l.pos] == '\n' {
			l.line++
			l.column = 1
		} else {
			l.column++
		}
		l.pos++
	}
}

func (l *Lexer) isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func (l *Lexer) isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *Lexer) isIdentStart(c byte) bool {
	return isIdentStart(c)
}

func (l *Lexer) isIdentContinue(c byte) bool {
	return isIdentStart(c) || l.isDigit(c)
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

func (l *Lexer) scanWhitespace() Token {
	loc := l.loc()
	start := l.pos
	for l.pos < len(l.input) && l.isWhitespace(l.peek()) {
		l.advance()
	}
	return Token{Type: PP_WHITESPACE, Text: l.input[start:l.pos], Loc: loc}
}

func (l *Lexer) scanLineComment() Token {
	loc := l.loc()
	// Skip //
	l.advance()
	l.advance()
	for l.pos < len(l.input) && l.peek() != '\n' {
		l.advance()
	}
	// Per the C standard, comments are replaced with a single space
	return Token{Type: PP_WHITESPACE, Text: " ", Loc: loc}
}

func (l *Lexer) scanBlockComment() Token {
	loc := l.loc()
	// Skip /*
	l.advance()
	l.advance()
	for l.pos < len(l.input) {
		if l.peek() == '*' && l.pos+1 < len(l.input) && l.input[l.pos+1] == '/' {
			l.advance()
			l.advance()
			break
		}
		l.advance()
	}
	// Per the C standard, comments are replaced with a single space
	return Token{Type: PP_WHITESPACE, Text: " ", Loc: loc}
}

// scanDirective consumes a whole logical directive line. Line continuations
// are joined and the terminating newline is left for the next token.
func (l *Lexer) scanDirective() Token {
	loc := l.loc()
	l.atBOL = false
	var text strings.Builder

	for l.pos < len(l.input) {
		if l.skipLineContinuation() {
			continue
		}
		c := l.peek()
		if c == '\n' {
			break
		}

		// Block comments may run past the end of the line
		if c == '/' && l.peekAt(1) == '*' {
			text.WriteString("/*")
			l.advance()
			l.advance()
			for l.pos < len(l.input) && !(l.peek() == '*' && l.peekAt(1) == '/') {
				if l.peek() == '\n' {
					text.WriteByte(' ')
				} else {
					text.WriteByte(l.peek())
				}
				l.advance()
			}
			if l.pos < len(l.input) {
				text.WriteString("*/")
				l.advance()
				l.advance()
			}
			continue
		}

		if c == '"' || c == '\'' {
			l.copyQuoted(&text, c)
			continue
		}

		text.WriteByte(c)
		l.advance()
	}

	s := text.String()
	return Token{Type: directiveType(s), Text: s, Loc: loc}
}

// copyQuoted copies a string or character literal into sb verbatim.
func (l *Lexer) copyQuoted(sb *strings.Builder, quote byte) {
	sb.WriteByte(quote)
	l.advance()
	for l.pos < len(l.input) {
		c := l.peek()
		if c == '\n' {
			return
		}
		if c == '\\' && l.pos+1 < len(l.input) && l.input[l.pos+1] != '\n' {
			sb.WriteByte(c)
			l.advance()
			sb.WriteByte(l.peek())
			l.advance()
			continue
		}
		if l.skipLineContinuation() {
			continue
		}
		sb.WriteByte(c)
		l.advance()
		if c == quote {
			return
		}
	}
}

// directiveType classifies a directive line by its keyword.
func directiveType(text string) TokenType {
	switch directiveKeyword(text) {
	case "define":
		return PP_DEFINE
	case "undef":
		return PP_UNDEF
	case "include":
		return PP_INCLUDE
	case "if":
		return PP_IF
	case "ifdef":
		return PP_IFDEF
	case "ifndef":
		return PP_IFNDEF
	case "else":
		return PP_ELSE
	case "endif":
		return PP_ENDIF
	default:
		return PP_DIRECTIVE
	}
}

// directiveKeyword returns the identifier following the # of a directive line.
func directiveKeyword(text string) string {
	s := strings.TrimLeft(strings.TrimPrefix(text, "#"), " \t\f\v\r")
	end := 0
	for end < len(s) && (isIdentStart(s[end]) || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	return s[:end]
}

func (l *Lexer) scanString() Token {
	loc := l.loc()
	start := l.pos
	l.advance() // consume opening "
	for l.pos < len(l.input) {
		if l.peek() == '"' {
			l.advance()
			break
		}
		if l.peek() == '\\' && l.pos+1 < len(l.input) {
			l.advance() // skip backslash
			l.advance() // skip escaped char
			continue
		}
		if l.peek() == '\n' {
			// Unterminated string literal
			break
		}
		l.advance()
	}
	return Token{Type: PP_STRING, Text: l.input[start:l.pos], Loc: loc}
}

func (l *Lexer) scanCharConst() Token {
	loc := l.loc()
	start := l.pos
	l.advance() // consume opening '
	for l.pos < len(l.input) {
		if l.peek() == '\'' {
			l.advance()
			break
		}
		if l.peek() == '\\' && l.pos+1 < len(l.input) {
			l.advance() // skip backslash
			l.advance() // skip escaped char
			continue
		}
		if l.peek() == '\n' {
			// Unterminated char constant
			break
		}
		l.advance()
	}
	return Token{Type: PP_CHAR_CONST, Text: l.input[start:l.pos], Loc: loc}
}

func (l *Lexer) scanNumber() Token {
	// Preprocessing numbers are broader than C numbers:
	// pp-number: digit | . digit | pp-number digit | pp-number identifier-nondigit
	//          | pp-number e sign | pp-number E sign | pp-number p sign | pp-number P sign
	//          | pp-number .
	loc := l.loc()
	start := l.pos

	for l.pos < len(l.input) {
		c := l.peek()
		if l.isDigit(c) || l.isIdentContinue(c) || c == '.' {
			// Check for exponent sign
			if (c == 'e' || c == 'E' || c == 'p' || c == 'P') && l.pos+1 < len(l.input) {
				next := l.input[l.pos+1]
				if next == '+' || next == '-' {
					l.advance()
					l.advance()
					continue
				}
			}
			l.advance()
		} else {
			break
		}
	}
	return Token{Type: PP_NUMBER, Text: l.input[start:l.pos], Loc: loc}
}

func (l *Lexer) scanIdentifier() Token {
	loc := l.loc()
	var text strings.Builder
	for {
		// Skip any line continuations
		for l.skipLineContinuation() {
		}
		if l.pos >= len(l.input) || !l.isIdentContinue(l.peek()) {
			break
		}
		text.WriteByte(l.peek())
		l.advance()
	}
	return Token{Type: PP_IDENTIFIER, Text: text.String(), Loc: loc}
}

func (l *Lexer) scanPunctuator() Token {
	loc := l.loc()
	start := l.pos

	// Try to match multi-character punctuators first
	remaining := l.input[l.pos:]

	// Three-character punctuators
	if len(remaining) >= 3 {
		three := remaining[:3]
		if three == "<<=" || three == ">>=" || three == "..." || three == "->*" {
			l.advance()
			l.advance()
			l.advance()
			return Token{Type: PP_PUNCTUATOR, Text: three, Loc: loc}
		}
	}

	// Two-character punctuators
	if len(remaining) >= 2 {
		two := remaining[:2]
		switch two {
		case "->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=",
			"&&", "||", "*=", "/=", "%=", "+=", "-=", "&=", "^=", "|=",
			"::", ".*":
			l.advance()
			l.advance()
			return Token{Type: PP_PUNCTUATOR, Text: two, Loc: loc}
		}
	}

	// Single-character punctuators
	l.advance()
	return Token{Type: PP_PUNCTUATOR, Text: l.input[start:l.pos], Loc: loc}
}

// TokensToString converts a slice of tokens back to source text.
func TokensToString(tokens []Token) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(tok.Text)
	}
	return sb.String()
}

// Serialize joins the token texts with sep. Whitespace, newline and
// end-of-stream tokens are skipped.
func Serialize(tokens []Token, sep string) string {
	values := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch tok.Type {
		case PP_EOF, PP_WHITESPACE, PP_NEWLINE:
			continue
		}
		values = append(values, tok.Text)
	}
	return strings.Join(values, sep)
}

// IsIdentifier checks if a string is a valid C identifier.
func IsIdentifier(s string) bool {
	if len(s) == 0 {
		return false
	}
	r := rune(s[0])
	if !unicode.IsLetter(r) && r != '_' {
		return false
	}
	for _, r := range s[1:] {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
