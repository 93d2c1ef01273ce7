// preprocess.go implements the directive dispatcher and the per-file session.
package cpp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"
)

// PreprocessorOptions configures the preprocessor.
type PreprocessorOptions struct {
	Defines           []string // -D definitions, NAME or NAME=VALUE
	Undefines         []string // -U undefinitions
	IncludeDirs       []string // -I directories
	SystemDirs        []string // -isystem directories
	BaseDir           string   // root for relative include directories
	DetectSystemPaths bool     // ask the installed compiler for system directories

	// Locator overrides the file system locator built from the directories above.
	Locator SourceLocator
	// Evaluator overrides the #if evaluator; it is called once per session.
	Evaluator func(MacroSource) Evaluator
}

// Preprocessor holds the configuration shared by all sessions. It is never
// modified after construction and may be used from several goroutines.
type Preprocessor struct {
	external     map[string]*Macro
	locator      SourceLocator
	newEvaluator func(MacroSource) Evaluator
}

// NewPreprocessor creates a new preprocessor instance.
func NewPreprocessor(opts PreprocessorOptions) (*Preprocessor, error) {
	external, err := ParseExternalMacros(opts.Defines, opts.Undefines)
	if err != nil {
		return nil, err
	}
	for _, name := range sortedNames(external) {
		glog.Infof("stored external macro %s", external[name])
	}

	locator := opts.Locator
	if locator == nil {
		fl := NewFileLocator(opts.IncludeDirs, opts.SystemDirs, opts.BaseDir)
		if opts.DetectSystemPaths {
			fl.DetectSystemPaths()
		}
		locator = fl
	}

	newEvaluator := opts.Evaluator
	if newEvaluator == nil {
		newEvaluator = func(m MacroSource) Evaluator { return NewExprEvaluator(m) }
	}

	return &Preprocessor{
		external:     external,
		locator:      locator,
		newEvaluator: newEvaluator,
	}, nil
}

// NewSession starts preprocessing file.
func (p *Preprocessor) NewSession(file string) *Session {
	s := &Session{pp: p}
	s.macros = NewMacroTable(p.external)
	s.expander = NewExpander(s.macros, func(tokens []Token) []Token {
		return s.Run(tokens).Tokens
	})
	s.evaluator = p.newEvaluator(s.macros)
	s.Reset(file)
	return s
}

// PreprocessFile reads and preprocesses filename in a fresh session.
func (p *Preprocessor) PreprocessFile(filename string) (*Result, error) {
	return p.NewSession(filename).RunFile()
}

// PreprocessString preprocesses source with a given filename for positions.
func (p *Preprocessor) PreprocessString(source, filename string) *Result {
	s := p.NewSession(filename)
	res := s.Run(Lex(source, filename))
	res.Headers = s.AnalysedFiles()
	res.Macros = s.macroList()
	return res
}

// Session preprocesses one top-level file. It is not safe for concurrent use.
type Session struct {
	pp        *Preprocessor
	file      string
	macros    *MacroTable
	cond      ConditionalState
	expander  *Expander
	evaluator Evaluator
	analysed  map[string]bool // canonical paths of harvested headers
	headers   []string        // headers being harvested, innermost last
}

// Reset prepares the session for a new top-level file. Working macros are
// reseeded from the external definitions and all per-file state is cleared.
func (s *Session) Reset(file string) {
	s.file = file
	s.macros.Reset()
	s.cond.Reset()
	s.analysed = make(map[string]bool)
	s.headers = nil
}

// Action describes how the token stream is edited for the pending token.
// Consumed tokens are removed; Trivia lists what was removed and Replacement
// is inserted in their place.
type Action struct {
	Consumed    int
	Trivia      []Token
	Replacement []Token
}

// NoOperation leaves the stream unchanged.
var NoOperation = Action{}

func skipped(tok Token) Action {
	return Action{Consumed: 1, Trivia: []Token{tok}}
}

// Process handles the pending token tokens[0]; the remaining tokens are
// lookahead for macro arguments.
func (s *Session) Process(tokens []Token) Action {
	if len(tokens) == 0 {
		return NoOperation
	}
	tok := tokens[0]

	// Conditionals are tracked even inside skipped regions
	switch tok.Type {
	case PP_IFDEF, PP_IFNDEF:
		s.processIfdef(tok)
		return skipped(tok)
	case PP_IF:
		s.processIf(tok)
		return skipped(tok)
	case PP_ELSE:
		if s.cond.Else() {
			s.logTransition(tok)
		}
		return skipped(tok)
	case PP_ENDIF:
		if s.cond.Endif() {
			glog.V(1).Infof("[%s]: resume processing", s.position(tok))
		}
		return skipped(tok)
	case PP_EOF:
		return NoOperation
	}

	if s.cond.Skipping() {
		return skipped(tok)
	}

	switch tok.Type {
	case PP_DIRECTIVE:
		glog.V(2).Infof("[%s]: ignoring directive '%s'", s.position(tok), tok.Text)
		return skipped(tok)
	case PP_INCLUDE:
		s.processInclude(tok)
		return skipped(tok)
	case PP_DEFINE:
		s.processDefine(tok)
		return skipped(tok)
	case PP_UNDEF:
		s.processUndef(tok)
		return skipped(tok)
	case PP_IDENTIFIER:
		return s.processIdentifier(tokens)
	}
	return NoOperation
}

func (s *Session) processIdentifier(tokens []Token) Action {
	m := s.macros.Lookup(tokens[0].Text)
	if m == nil {
		return NoOperation
	}
	exp, ok := s.expander.Expand(m, tokens)
	if !ok {
		return NoOperation
	}
	return Action{
		Consumed:    exp.Consumed,
		Trivia:      append([]Token(nil), tokens[:exp.Consumed]...),
		Replacement: exp.Tokens,
	}
}

func (s *Session) processIfdef(tok Token) {
	if s.cond.enterNested() {
		return
	}
	dir, err := ParseDirective(tok.Text, tok.Loc)
	if err != nil {
		glog.Warningf("[%s]: %v", s.position(tok), err)
		return
	}
	defined := s.macros.IsDefined(dir.Name)
	if dir.Type == PP_IFNDEF {
		defined = !defined
	}
	s.cond.Begin(defined)
	if s.cond.Skipping() {
		s.logTransition(tok)
	}
}

func (s *Session) processIf(tok Token) {
	if s.cond.enterNested() {
		return
	}
	dir, err := ParseDirective(tok.Text, tok.Loc)
	if err != nil {
		glog.Errorf("[%s]: %v, assume 'true'", s.position(tok), err)
		return
	}
	result, err := s.evaluator.Evaluate(dir.Expression)
	if err != nil {
		glog.Errorf("[%s]: failed to evaluate '%s', assume 'true': %v", s.position(tok), dir.Expression, err)
		s.cond.Begin(true)
		return
	}
	s.cond.Begin(result)
	if s.cond.Skipping() {
		s.logTransition(tok)
	}
}

func (s *Session) processDefine(tok Token) {
	dir, err := ParseDirective(tok.Text, tok.Loc)
	if err != nil {
		glog.Warningf("[%s]: %v", s.position(tok), err)
		return
	}
	s.macros.Define(dir.Macro)
	glog.V(1).Infof("[%s]: storing macro %s", s.position(tok), dir.Macro)
}

func (s *Session) processUndef(tok Token) {
	dir, err := ParseDirective(tok.Text, tok.Loc)
	if err != nil {
		glog.Warningf("[%s]: %v", s.position(tok), err)
		return
	}
	s.macros.Undefine(dir.Name)
	glog.V(1).Infof("[%s]: removed macro %s", s.position(tok), dir.Name)
}

func (s *Session) logTransition(tok Token) {
	if s.cond.Skipping() {
		glog.V(1).Infof("[%s]: skipping block '%s'", s.position(tok), tok.Text)
	} else {
		glog.V(1).Infof("[%s]: resume processing", s.position(tok))
	}
}

func (s *Session) position(tok Token) string {
	file := tok.Loc.File
	if file == "" {
		file = s.CurrentFile()
	}
	return fmt.Sprintf("%s:%d", file, tok.Loc.Line)
}

// Run dispatches every token of the stream. Replacement tokens are emitted
// as they are and not dispatched again.
func (s *Session) Run(tokens []Token) *Result {
	res := &Result{File: s.file}
	for i := 0; i < len(tokens); {
		act := s.Process(tokens[i:])
		if act.Consumed == 0 {
			res.Tokens = append(res.Tokens, tokens[i])
			i++
			continue
		}
		res.Trivia = append(res.Trivia, act.Trivia...)
		res.Tokens = append(res.Tokens, act.Replacement...)
		i += act.Consumed
	}
	return res
}

// RunFile reads the session's file through the locator and preprocesses it.
func (s *Session) RunFile() (*Result, error) {
	content, err := s.pp.locator.Read(s.file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.file, err)
	}
	res := s.Run(Lex(content, s.file))
	res.Headers = s.AnalysedFiles()
	res.Macros = s.macroList()
	return res, nil
}

// Macros returns the session's working macro table.
func (s *Session) Macros() *MacroTable {
	return s.macros
}

// ValueOf returns the body text of a defined macro.
func (s *Session) ValueOf(name string) (string, bool) {
	return s.macros.ValueOf(name)
}

// Skipping reports whether the session is inside a skipped region.
func (s *Session) Skipping() bool {
	return s.cond.Skipping()
}

func (s *Session) macroList() []*Macro {
	names := s.macros.Names()
	list := make([]*Macro, len(names))
	for i, name := range names {
		list[i] = s.macros.Lookup(name)
	}
	return list
}

func sortedNames(macros map[string]*Macro) []string {
	names := make([]string, 0, len(macros))
	for name := range macros {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Result is the outcome of preprocessing a token stream.
type Result struct {
	File    string
	Tokens  []Token  // remaining and replacement tokens, ending in PP_EOF
	Trivia  []Token  // removed directives, skipped tokens and macro invocations
	Headers []string // harvested headers, canonical paths
	Macros  []*Macro // working macros at the end of the file, sorted by name
}

// Text renders the tokens one source line per output line, tokens separated
// by a single space.
func (r *Result) Text() string {
	var sb strings.Builder
	line := -1
	for _, tok := range r.Tokens {
		if tok.Type == PP_EOF {
			continue
		}
		switch {
		case line < 0:
		case tok.Loc.Line != line:
			sb.WriteByte('\n')
		default:
			sb.WriteByte(' ')
		}
		line = tok.Loc.Line
		sb.WriteString(tok.Text)
	}
	if line >= 0 {
		sb.WriteByte('\n')
	}
	return sb.String()
}
