package cpp

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLocator serves files from memory. Quoted includes are searched in the
// including directory, then in /inc.
type memLocator struct {
	files      map[string]string
	unreadable map[string]bool
	reads      map[string]int
}

func newMemLocator(files map[string]string) *memLocator {
	return &memLocator{files: files, unreadable: map[string]bool{}, reads: map[string]int{}}
}

func (m *memLocator) Resolve(filename, currentDir string, quoted bool) (string, error) {
	var candidates []string
	if quoted {
		candidates = append(candidates, path.Join(currentDir, filename))
	}
	candidates = append(candidates, path.Join("/inc", filename))
	for _, c := range candidates {
		if _, ok := m.files[c]; ok {
			return c, nil
		}
	}
	return "", &IncludeError{Filename: filename, Quoted: quoted}
}

func (m *memLocator) Read(p string) (string, error) {
	m.reads[p]++
	content, ok := m.files[p]
	if !ok || m.unreadable[p] {
		return "", fs.ErrNotExist
	}
	return content, nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0755))
	require.NoError(t, os.WriteFile(name, []byte(content), 0644))
	return name
}

func TestFileLocatorQuotedInCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "test.h"), "// test")

	r := NewFileLocator(nil, nil, "")
	got, err := r.Resolve("test.h", tmpDir, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "test.h"), got)
}

func TestFileLocatorAngledNotInCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "test.h"), "// test")

	r := NewFileLocator(nil, nil, "")
	_, err := r.Resolve("test.h", tmpDir, false)
	require.Error(t, err)

	var incErr *IncludeError
	require.True(t, errors.As(err, &incErr))
	assert.Equal(t, "test.h", incErr.Filename)
	assert.Contains(t, err.Error(), "angled")
}

func TestFileLocatorSearchOrder(t *testing.T) {
	cur := t.TempDir()
	user := t.TempDir()
	sys := t.TempDir()
	writeFile(t, filepath.Join(cur, "a.h"), "")
	writeFile(t, filepath.Join(user, "a.h"), "")
	writeFile(t, filepath.Join(user, "b.h"), "")
	writeFile(t, filepath.Join(sys, "b.h"), "")
	writeFile(t, filepath.Join(sys, "c.h"), "")

	r := NewFileLocator([]string{user}, []string{sys}, "")
	tests := []struct {
		name   string
		quoted bool
		want   string
	}{
		{"a.h", true, filepath.Join(cur, "a.h")},
		{"a.h", false, filepath.Join(user, "a.h")},
		{"b.h", true, filepath.Join(user, "b.h")},
		{"c.h", false, filepath.Join(sys, "c.h")},
	}
	for _, tc := range tests {
		got, err := r.Resolve(tc.name, cur, tc.quoted)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s quoted=%v", tc.name, tc.quoted)
	}
}

func TestFileLocatorBaseDir(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "include", "cfg.h"), "#define CFG 1\n")

	r := NewFileLocator([]string{"include"}, nil, base)
	assert.Equal(t, []string{filepath.Join(base, "include")}, r.IncludeDirs)

	got, err := r.Resolve("cfg.h", "", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "include", "cfg.h"), got)
}

func TestFileLocatorAbsolutePath(t *testing.T) {
	tmpDir := t.TempDir()
	abs := writeFile(t, filepath.Join(tmpDir, "abs.h"), "")

	r := NewFileLocator(nil, nil, "")
	got, err := r.Resolve(abs, "", false)
	require.NoError(t, err)
	assert.Equal(t, abs, got)

	_, err = r.Resolve(filepath.Join(tmpDir, "missing.h"), "", true)
	assert.Error(t, err)
}

func TestParseCompilerOutput(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	output := `Using built-in specs.
#include "..." search starts here:
#include <...> search starts here:
 ` + dir1 + `
 /nonexistent/include/path
 ` + dir2 + ` (framework directory)
 ` + dir2 + `
End of search list.
 /not/in/list
`
	assert.Equal(t, []string{dir1, dir2}, parseCompilerOutput(output))
}

func TestCanonicalPath(t *testing.T) {
	tmpDir := t.TempDir()
	target := writeFile(t, filepath.Join(tmpDir, "real.h"), "")
	want := CanonicalPath(target)

	assert.Equal(t, want, CanonicalPath(filepath.Join(tmpDir, "sub", "..", "real.h")))

	link := filepath.Join(tmpDir, "link.h")
	if err := os.Symlink(target, link); err == nil {
		assert.Equal(t, want, CanonicalPath(link))
	}

	assert.True(t, filepath.IsAbs(CanonicalPath("relative/missing.h")))
}

func TestScanDirectives(t *testing.T) {
	src := "#define A 1\nint x;\n#ifdef B\n#include \"c.h\"\n#endif\n#undef A\n"
	tokens := ScanDirectives(src, "h.h")
	assert.Equal(t, []TokenType{PP_DEFINE, PP_INCLUDE}, types(tokens))
}

func TestHarvestMutualIncludes(t *testing.T) {
	loc := newMemLocator(map[string]string{
		"/src/main.c": "#include \"a.h\"\nA B\n",
		"/src/a.h":    "#define A 1\n#include \"b.h\"\n",
		"/src/b.h":    "#define B 2\n#include \"a.h\"\n#include \"b.h\"\n",
	})
	pp, err := NewPreprocessor(PreprocessorOptions{Locator: loc})
	require.NoError(t, err)

	res, err := pp.PreprocessFile("/src/main.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, texts(res.Tokens))
	assert.Equal(t, []string{"/src/a.h", "/src/b.h"}, res.Headers)
	assert.Equal(t, 1, loc.reads["/src/a.h"])
	assert.Equal(t, 1, loc.reads["/src/b.h"])
}

func TestHarvestIgnoresHeaderConditionals(t *testing.T) {
	loc := newMemLocator(map[string]string{
		"/src/main.c": "#include <h.h>\nH G\n",
		"/inc/h.h":    "#ifndef H_GUARD\n#define H_GUARD\n#ifdef NOPE\n#define H 1\n#else\n#define H 2\n#endif\nint g;\n#define G g\n#endif\n",
	})
	pp, err := NewPreprocessor(PreprocessorOptions{Locator: loc})
	require.NoError(t, err)

	s := pp.NewSession("/src/main.c")
	res, err := s.RunFile()
	require.NoError(t, err)
	// the last definition of H wins and header code never reaches the output
	assert.Equal(t, []string{"2", "g"}, texts(res.Tokens))
	assert.True(t, s.Macros().IsDefined("H_GUARD"))
	assert.False(t, s.Skipping())
}

func TestHarvestUnresolvedInclude(t *testing.T) {
	loc := newMemLocator(map[string]string{
		"/src/main.c": "#include \"missing.h\"\n#include <gone.h>\nint x;\n",
	})
	pp, err := NewPreprocessor(PreprocessorOptions{Locator: loc})
	require.NoError(t, err)

	res, err := pp.PreprocessFile("/src/main.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"int", "x", ";"}, texts(res.Tokens))
	assert.Empty(t, res.Headers)
	assert.Len(t, res.Trivia, 2)
}

func TestHarvestReadFailurePopsHeader(t *testing.T) {
	loc := newMemLocator(map[string]string{
		"/src/main.c": "#include \"bad.h\"\n#include \"ok.h\"\nOK\n",
		"/src/bad.h":  "#define BAD 1\n",
		"/src/ok.h":   "#define OK 1\n",
	})
	loc.unreadable["/src/bad.h"] = true
	pp, err := NewPreprocessor(PreprocessorOptions{Locator: loc})
	require.NoError(t, err)

	s := pp.NewSession("/src/main.c")
	res, err := s.RunFile()
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, texts(res.Tokens))
	assert.Equal(t, "/src/main.c", s.CurrentFile())
	assert.False(t, s.Macros().IsDefined("BAD"))
	assert.Equal(t, []string{"/src/bad.h", "/src/ok.h"}, s.AnalysedFiles())
}

func TestHarvestNestedRelativeToHeader(t *testing.T) {
	loc := newMemLocator(map[string]string{
		"/src/main.c":      "#include \"sub/outer.h\"\nINNER\n",
		"/src/sub/outer.h": "#include \"inner.h\"\n",
		"/src/sub/inner.h": "#define INNER 42\n",
		"/src/inner.h":     "#define INNER 0\n",
	})
	pp, err := NewPreprocessor(PreprocessorOptions{Locator: loc})
	require.NoError(t, err)

	res, err := pp.PreprocessFile("/src/main.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, texts(res.Tokens))
}

func TestComputedInclude(t *testing.T) {
	loc := newMemLocator(map[string]string{
		"/src/main.c": "#define HDR \"a.h\"\n#define SYS <sys.h>\n#include HDR\n#include SYS\nA S\n",
		"/src/a.h":    "#define A 1\n",
		"/inc/sys.h":  "#define S 2\n",
	})
	pp, err := NewPreprocessor(PreprocessorOptions{Locator: loc})
	require.NoError(t, err)

	res, err := pp.PreprocessFile("/src/main.c")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, texts(res.Tokens))
}

func TestIncludeFromDisk(t *testing.T) {
	root := t.TempDir()
	main := writeFile(t, filepath.Join(root, "src", "main.c"), "#include \"local.h\"\n#include <lib.h>\nLOCAL + LIB\n")
	writeFile(t, filepath.Join(root, "src", "local.h"), "#define LOCAL 1\n")
	writeFile(t, filepath.Join(root, "include", "lib.h"), "#define LIB 2\n")

	pp, err := NewPreprocessor(PreprocessorOptions{
		IncludeDirs: []string{"include"},
		BaseDir:     root,
	})
	require.NoError(t, err)

	res, err := pp.PreprocessFile(main)
	require.NoError(t, err)
	assert.Equal(t, "1 + 2\n", res.Text())
	assert.Len(t, res.Headers, 2)
}

func TestPreprocessFileMissing(t *testing.T) {
	pp, err := NewPreprocessor(PreprocessorOptions{})
	require.NoError(t, err)

	_, err = pp.PreprocessFile(filepath.Join(t.TempDir(), "nope.c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Contains(t, err.Error(), "reading")
}
