// Include path handling and header harvesting for the C preprocessor.
package cpp

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/golang/glog"
)

// SourceLocator finds and reads included files.
type SourceLocator interface {
	// Resolve returns the path of filename as included from a file in
	// currentDir, or an *IncludeError when it cannot be found.
	Resolve(filename, currentDir string, quoted bool) (string, error)
	// Read returns the content of a resolved file.
	Read(path string) (string, error)
}

// FileLocator resolves includes on the file system using the compiler's
// search order: for "file" the including file's directory first, then the
// include directories, then the system directories; for <file> only the
// include and system directories.
type FileLocator struct {
	IncludeDirs    []string // -I directories
	SystemDirs     []string // -isystem directories
	BaseDir        string   // relative include directories are resolved against it
	systemDetected bool
}

// NewFileLocator creates a locator. Relative directories are taken relative
// to baseDir, or to the working directory when baseDir is empty.
func NewFileLocator(includeDirs, systemDirs []string, baseDir string) *FileLocator {
	r := &FileLocator{BaseDir: baseDir}
	for _, dir := range includeDirs {
		r.AddIncludeDir(dir)
	}
	for _, dir := range systemDirs {
		r.AddSystemDir(dir)
	}
	return r
}

// AddIncludeDir adds a -I include directory.
func (r *FileLocator) AddIncludeDir(dir string) {
	r.IncludeDirs = append(r.IncludeDirs, r.rooted(dir))
}

// AddSystemDir adds a -isystem include directory.
func (r *FileLocator) AddSystemDir(dir string) {
	r.SystemDirs = append(r.SystemDirs, r.rooted(dir))
}

func (r *FileLocator) rooted(dir string) string {
	if filepath.IsAbs(dir) || r.BaseDir == "" {
		return dir
	}
	return filepath.Join(r.BaseDir, dir)
}

// DetectSystemPaths adds the system include directories reported by the
// installed C compiler, or well-known defaults.
func (r *FileLocator) DetectSystemPaths() {
	if r.systemDetected {
		return
	}
	r.systemDetected = true

	paths := queryCompilerIncludePaths()
	if len(paths) == 0 {
		paths = getDefaultSystemPaths()
	}
	glog.V(1).Infof("detected system include directories: %v", paths)
	r.SystemDirs = append(r.SystemDirs, paths...)
}

// Resolve implements SourceLocator.
func (r *FileLocator) Resolve(filename, currentDir string, quoted bool) (string, error) {
	if filepath.IsAbs(filename) {
		if fileExists(filename) {
			return filename, nil
		}
		return "", &IncludeError{Filename: filename, Quoted: quoted}
	}

	var searchPaths []string
	if quoted && currentDir != "" {
		searchPaths = append(searchPaths, currentDir)
	}
	searchPaths = append(searchPaths, r.IncludeDirs...)
	searchPaths = append(searchPaths, r.SystemDirs...)

	for _, dir := range searchPaths {
		fullPath := filepath.Join(dir, filename)
		if fileExists(fullPath) {
			return fullPath, nil
		}
	}
	return "", &IncludeError{Filename: filename, Quoted: quoted}
}

// Read implements SourceLocator.
func (r *FileLocator) Read(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// IncludeError indicates that an include file was not found.
type IncludeError struct {
	Filename string
	Quoted   bool
}

func (e *IncludeError) Error() string {
	kindStr := "angled"
	if e.Quoted {
		kindStr = "quoted"
	}
	return "include file not found: " + e.Filename + " (" + kindStr + ")"
}

// CanonicalPath returns the identity used to recognize a file that was
// already harvested: absolute, cleaned and, when possible, symlink-free.
func CanonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// processInclude harvests the macros of the file named by an #include line.
// Failures are logged and never stop the surrounding scan.
func (s *Session) processInclude(tok Token) {
	dir, err := ParseDirective(tok.Text, tok.Loc)
	if err != nil {
		glog.Warningf("[%s]: %v", s.position(tok), err)
		return
	}

	name, quoted := dir.HeaderName, dir.Quoted
	if name == "" {
		// Computed include: the operand must expand to "file" or <file>
		operand := append(append([]Token(nil), dir.Operand...), Token{Type: PP_EOF, Loc: tok.Loc})
		var ok bool
		name, quoted, ok = parseHeaderOperand(s.Run(operand).Tokens)
		if !ok {
			glog.Warningf("[%s]: cannot interpret the include operand of '%s'", s.position(tok), tok.Text)
			return
		}
	}

	path, err := s.pp.locator.Resolve(name, s.currentDir(tok), quoted)
	if err != nil {
		glog.Warningf("[%s]: cannot find the sources for '%s': %v", s.position(tok), tok.Text, err)
		return
	}

	id := CanonicalPath(path)
	if s.analysed[id] {
		glog.V(1).Infof("[%s]: skipping already included file '%s'", s.position(tok), id)
		return
	}
	glog.V(1).Infof("[%s]: processing %s, resolved to file '%s'", s.position(tok), tok.Text, id)
	s.harvest(id)
}

// harvest scans a header only for its #include and #define directives and
// dispatches them. The header is marked analysed before it is scanned so
// that include cycles terminate.
func (s *Session) harvest(id string) {
	s.analysed[id] = true
	s.headers = append(s.headers, id)
	defer func() { s.headers = s.headers[:len(s.headers)-1] }()

	content, err := s.pp.locator.Read(id)
	if err != nil {
		glog.Errorf("cannot read included file '%s': %v", id, err)
		return
	}
	for _, tok := range ScanDirectives(content, id) {
		s.Process([]Token{tok})
	}
}

// ScanDirectives lexes input and returns only its #include and #define lines.
func ScanDirectives(input, filename string) []Token {
	lex := NewLexer(input, filename)
	var tokens []Token
	for {
		tok := lex.NextToken()
		switch tok.Type {
		case PP_EOF:
			return tokens
		case PP_INCLUDE, PP_DEFINE:
			tokens = append(tokens, tok)
		}
	}
}

// currentDir is the directory quoted includes are searched in first.
func (s *Session) currentDir(tok Token) string {
	if file := s.CurrentFile(); file != "" {
		return filepath.Dir(file)
	}
	if tok.Loc.File != "" {
		return filepath.Dir(tok.Loc.File)
	}
	return ""
}

// CurrentFile returns the header being harvested, or the top-level file.
func (s *Session) CurrentFile() string {
	if len(s.headers) > 0 {
		return s.headers[len(s.headers)-1]
	}
	return s.file
}

// AnalysedFiles returns the headers harvested so far, sorted.
func (s *Session) AnalysedFiles() []string {
	files := make([]string, 0, len(s.analysed))
	for f := range s.analysed {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// queryCompilerIncludePaths queries the system C compiler for include paths.
func queryCompilerIncludePaths() []string {
	for _, compiler := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(compiler); err == nil {
			if paths := queryCompiler(path); len(paths) > 0 {
				return paths
			}
		}
	}
	return nil
}

func queryCompiler(compiler string) []string {
	cmd := exec.Command(compiler, "-v", "-E", "-x", "c", "-")
	cmd.Stdin = strings.NewReader("")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	_ = cmd.Run() // the search list is printed even when the command fails

	return parseCompilerOutput(stderr.String())
}

func parseCompilerOutput(output string) []string {
	var paths []string
	inSearchList := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, "#include <...> search starts here:") ||
			strings.Contains(line, "#include \"...\" search starts here:") {
			inSearchList = true
			continue
		}
		if strings.Contains(line, "End of search list") {
			inSearchList = false
			continue
		}

		if inSearchList {
			path := strings.TrimSpace(line)
			if strings.HasSuffix(path, " (framework directory)") {
				continue
			}
			if path != "" && dirExists(path) {
				paths = append(paths, path)
			}
		}
	}
	return paths
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func getDefaultSystemPaths() []string {
	candidates := []string{"/usr/include", "/usr/local/include"}
	if runtime.GOOS == "darwin" {
		candidates = []string{
			"/Library/Developer/CommandLineTools/SDKs/MacOSX.sdk/usr/include",
			"/usr/local/include",
		}
	}

	var paths []string
	for _, p := range candidates {
		if dirExists(p) {
			paths = append(paths, p)
		}
	}
	return paths
}
