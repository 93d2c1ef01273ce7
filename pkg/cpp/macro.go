// macro.go defines macros and the two-tier macro table.
package cpp

import (
	"fmt"
	"sort"
	"strings"
)

// Macro is a named substitution rule.
type Macro struct {
	Name   string
	Params []string // nil for object-like macros, non-nil (maybe empty) for function-like
	Body   []Token  // replacement list, no trailing end marker
	Loc    SourceLoc
}

// IsFunctionLike reports whether the macro takes a parameter list.
func (m *Macro) IsFunctionLike() bool {
	return m.Params != nil
}

// String renders the macro as NAME(a, b) -> 'body'.
func (m *Macro) String() string {
	var sb strings.Builder
	sb.WriteString(m.Name)
	if m.Params != nil {
		sb.WriteString("(")
		sb.WriteString(strings.Join(m.Params, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(" -> '")
	sb.WriteString(Serialize(m.Body, " "))
	sb.WriteString("'")
	return sb.String()
}

// paramIndex returns the position of name in the parameter list, or -1.
func (m *Macro) paramIndex(name string) int {
	for i, p := range m.Params {
		if p == name {
			return i
		}
	}
	return -1
}

// MacroTable maps macro names to definitions. The external tier holds the
// configured macros and is never modified; the working tier is what
// directives see and is reseeded from the external tier by Reset.
type MacroTable struct {
	external map[string]*Macro
	working  map[string]*Macro
}

// NewMacroTable creates a table whose working tier starts as a copy of external.
// The external map is shared, not copied, and must not be mutated afterwards.
func NewMacroTable(external map[string]*Macro) *MacroTable {
	if external == nil {
		external = map[string]*Macro{}
	}
	mt := &MacroTable{external: external}
	mt.Reset()
	return mt
}

// Reset discards every working definition and reseeds from the external tier.
func (mt *MacroTable) Reset() {
	mt.working = make(map[string]*Macro, len(mt.external))
	for name, m := range mt.external {
		mt.working[name] = m
	}
}

// Define stores m, replacing any previous definition of the same name.
func (mt *MacroTable) Define(m *Macro) {
	mt.working[m.Name] = m
}

// Undefine removes name from the working tier.
func (mt *MacroTable) Undefine(name string) {
	delete(mt.working, name)
}

// Lookup returns the macro named name, or nil.
func (mt *MacroTable) Lookup(name string) *Macro {
	return mt.working[name]
}

// IsDefined reports whether name is currently defined.
func (mt *MacroTable) IsDefined(name string) bool {
	_, ok := mt.working[name]
	return ok
}

// ValueOf returns the serialized body of name.
func (mt *MacroTable) ValueOf(name string) (string, bool) {
	m, ok := mt.working[name]
	if !ok {
		return "", false
	}
	return Serialize(m.Body, " "), true
}

// Suspend removes name from the working tier until the returned release
// function is called. Release restores the entry exactly as it was and is
// safe to call more than once.
func (mt *MacroTable) Suspend(name string) (release func()) {
	m, ok := mt.working[name]
	if !ok {
		return func() {}
	}
	delete(mt.working, name)
	released := false
	return func() {
		if released {
			return
		}
		released = true
		mt.working[name] = m
	}
}

// Len returns the number of working definitions.
func (mt *MacroTable) Len() int {
	return len(mt.working)
}

// Names returns the working macro names in sorted order.
func (mt *MacroTable) Names() []string {
	names := make([]string, 0, len(mt.working))
	for name := range mt.working {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseExternalMacros builds an external macro tier from command-line style
// defines ("NAME" or "NAME=VALUE") minus the given undefines. A bare NAME is
// defined as 1.
func ParseExternalMacros(defines, undefines []string) (map[string]*Macro, error) {
	macros := make(map[string]*Macro, len(defines))
	for _, def := range defines {
		if strings.TrimSpace(def) == "" {
			continue
		}
		name, value, hasValue := strings.Cut(def, "=")
		if !hasValue {
			value = "1"
		}
		name = strings.TrimSpace(name)
		if !IsIdentifier(name) {
			// Allow the function-like form NAME(a,b)=body
			if i := strings.IndexByte(name, '('); i <= 0 || !IsIdentifier(name[:i]) {
				return nil, fmt.Errorf("invalid macro name in define %q", def)
			}
		}
		dir, err := ParseDirective("#define "+name+" "+value, SourceLoc{File: "<command-line>"})
		if err != nil {
			return nil, fmt.Errorf("define %q: %w", def, err)
		}
		macros[dir.Macro.Name] = dir.Macro
	}
	for _, name := range undefines {
		delete(macros, strings.TrimSpace(name))
	}
	return macros, nil
}
