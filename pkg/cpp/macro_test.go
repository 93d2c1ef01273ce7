package cpp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMacro(t *testing.T, line string) *Macro {
	t.Helper()
	dir, err := ParseDirective(line, testLoc)
	require.NoError(t, err)
	return dir.Macro
}

func TestMacroString(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"#define PI 3.14", "PI -> '3.14'"},
		{"#define ADD(a,b) a+b", "ADD(a, b) -> 'a + b'"},
		{"#define NOP()", "NOP() -> ''"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, mustMacro(t, tc.line).String())
	}
}

func TestMacroTableReset(t *testing.T) {
	external := map[string]*Macro{"EXT": mustMacro(t, "#define EXT 1")}
	mt := NewMacroTable(external)
	require.True(t, mt.IsDefined("EXT"))

	mt.Define(mustMacro(t, "#define LOCAL 2"))
	mt.Define(mustMacro(t, "#define EXT 3"))
	mt.Undefine("EXT")
	assert.False(t, mt.IsDefined("EXT"))
	assert.Equal(t, []string{"LOCAL"}, mt.Names())

	mt.Reset()
	assert.Equal(t, []string{"EXT"}, mt.Names())
	value, ok := mt.ValueOf("EXT")
	assert.True(t, ok)
	assert.Equal(t, "1", value)

	// the external tier itself is never touched
	assert.Len(t, external, 1)
	assert.Same(t, external["EXT"], mt.Lookup("EXT"))
}

func TestMacroTableRedefinitionReplaces(t *testing.T) {
	mt := NewMacroTable(nil)
	mt.Define(mustMacro(t, "#define X 1"))
	mt.Define(mustMacro(t, "#define X(a) a"))

	m := mt.Lookup("X")
	require.NotNil(t, m)
	assert.True(t, m.IsFunctionLike())
	assert.Equal(t, 1, mt.Len())

	_, ok := mt.ValueOf("Y")
	assert.False(t, ok)
	assert.Nil(t, mt.Lookup("Y"))
}

func TestMacroTableSuspend(t *testing.T) {
	mt := NewMacroTable(nil)
	m := mustMacro(t, "#define A A")
	mt.Define(m)

	release := mt.Suspend("A")
	assert.False(t, mt.IsDefined("A"))
	release()
	assert.Same(t, m, mt.Lookup("A"))

	// releasing twice must not resurrect a later undefine
	mt.Undefine("A")
	release()
	assert.False(t, mt.IsDefined("A"))

	// suspending an unknown name is a no-op
	mt.Suspend("MISSING")()
	assert.False(t, mt.IsDefined("MISSING"))
}

func TestParseExternalMacros(t *testing.T) {
	macros, err := ParseExternalMacros(
		[]string{"FOO", "BAR=2", "EMPTY=", "SQ(x)=((x)*(x))", " ", "GONE=1"},
		[]string{"GONE"},
	)
	require.NoError(t, err)
	require.Len(t, macros, 4)

	assert.Equal(t, "FOO -> '1'", macros["FOO"].String())
	assert.Equal(t, "BAR -> '2'", macros["BAR"].String())
	assert.Equal(t, "EMPTY -> ''", macros["EMPTY"].String())
	assert.Equal(t, []string{"x"}, macros["SQ"].Params)
	assert.Equal(t, "<command-line>", macros["FOO"].Loc.File)
	assert.NotContains(t, macros, "GONE")
}

func TestParseExternalMacrosErrors(t *testing.T) {
	for _, def := range []string{"1X=2", "A-B", "=3", "F(a,a)=a"} {
		t.Run(def, func(t *testing.T) {
			_, err := ParseExternalMacros([]string{def}, nil)
			assert.Error(t, err)
		})
	}
}
