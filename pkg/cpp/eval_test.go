package cpp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T, defines ...string) *ExprEvaluator {
	t.Helper()
	mt := NewMacroTable(nil)
	for _, line := range defines {
		mt.Define(mustMacro(t, line))
	}
	return NewExprEvaluator(mt)
}

func TestEvaluate(t *testing.T) {
	ev := newTestEvaluator(t,
		"#define FOO",
		"#define VERSION 3",
		"#define TWICE (VERSION * 2)",
		"#define SELF SELF",
		"#define F(x) x",
	)

	tests := []struct {
		expr string
		want bool
	}{
		{"1", true},
		{"0", false},
		{"1 + 2 * 3 == 7", true},
		{"(1 + 2) * 3 == 9", true},
		{"defined(FOO)", true},
		{"defined FOO", true},
		{"defined BAR", false},
		{"!defined(BAR)", true},
		{"defined(F)", true},
		{"VERSION >= 3", true},
		{"TWICE == 6", true},
		{"UNKNOWN", false},
		{"UNKNOWN == 0", true},
		{"true", true},
		{"false", false},
		{"SELF", false},
		{"0x10 == 16", true},
		{"010 == 8", true},
		{"0b101 == 5", true},
		{"10UL > 9L", true},
		{"'a' == 97", true},
		{"'\\n' == 10", true},
		{"1 ? 0 : 1", false},
		{"0 ? 0 : 2", true},
		{"0 && 1 / 0", false},
		{"1 || 1 % 0", true},
		{"(1 << 4) == 16", true},
		{"-1 < 0", true},
		{"~0 == -1", true},
		{"5 % 3 == 2 && 7 / 2 == 3", true},
		{"(3 & 1) | (4 ^ 4)", true},
		{"1 != 1", false},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := ev.Evaluate(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	ev := newTestEvaluator(t, "#define F(x) x")

	for _, expr := range []string{
		"",
		"1 / 0",
		"1 % 0",
		"1 +",
		"1 2",
		"(1",
		"1 ? 2",
		"F(1)",
		"defined",
		"defined(",
		"defined(X",
		`"str"`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := ev.Evaluate(expr)
			assert.Error(t, err)
		})
	}
}

func TestEvaluateSeesRedefinitions(t *testing.T) {
	mt := NewMacroTable(nil)
	ev := NewExprEvaluator(mt)

	got, err := ev.Evaluate("LEVEL > 1")
	require.NoError(t, err)
	assert.False(t, got)

	mt.Define(mustMacro(t, "#define LEVEL 2"))
	got, err = ev.Evaluate("LEVEL > 1")
	require.NoError(t, err)
	assert.True(t, got)
}
