// Package preproc drives the cpp package over whole files: one file at a
// time or a batch of files preprocessed concurrently.
package preproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/raymyers/cxxpp/pkg/config"
	"github.com/raymyers/cxxpp/pkg/cpp"
)

// Options configures the preprocessing step
type Options struct {
	Config  *config.Config    // settings; nil means defaults
	Locator cpp.SourceLocator // overrides the file system locator
}

// FileResult is the outcome for one file of a batch.
type FileResult struct {
	File   string
	Result *cpp.Result
	Err    error
}

func (o *Options) config() *config.Config {
	if o == nil || o.Config == nil {
		return &config.Config{}
	}
	return o.Config
}

// NewPreprocessor builds the shared preprocessor described by opts.
func NewPreprocessor(opts *Options) (*cpp.Preprocessor, error) {
	ppOpts := opts.config().PreprocessorOptions()
	if opts != nil {
		ppOpts.Locator = opts.Locator
	}
	return cpp.NewPreprocessor(ppOpts)
}

// Preprocess runs the preprocessor on the given source file.
func Preprocess(filename string, opts *Options) (*cpp.Result, error) {
	pp, err := NewPreprocessor(opts)
	if err != nil {
		return nil, err
	}
	return preprocessWith(pp, filename)
}

// PreprocessString preprocesses C source code provided as a string.
func PreprocessString(source, filename string, opts *Options) (*cpp.Result, error) {
	pp, err := NewPreprocessor(opts)
	if err != nil {
		return nil, err
	}
	return pp.PreprocessString(source, filename), nil
}

// PreprocessAll preprocesses files concurrently, at most Config.Workers() at
// a time. Each session is independent; a failing file is reported in its
// FileResult and does not stop the others. The error is non-nil only when
// the preprocessor cannot be built or ctx is cancelled.
func PreprocessAll(ctx context.Context, files []string, opts *Options) ([]FileResult, error) {
	pp, err := NewPreprocessor(opts)
	if err != nil {
		return nil, err
	}

	results := make([]FileResult, len(files))
	sem := make(chan struct{}, opts.config().Workers())
	g, gctx := errgroup.WithContext(ctx)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			res, err := preprocessWith(pp, file)
			if err != nil {
				glog.Errorf("preprocessing %s: %v", file, err)
			}
			results[i] = FileResult{File: file, Result: res, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func preprocessWith(pp *cpp.Preprocessor, filename string) (*cpp.Result, error) {
	if NeedsPreprocessing(filename) {
		return pp.PreprocessFile(filename)
	}

	// Already preprocessed: tokens pass through untouched
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	return &cpp.Result{File: filename, Tokens: cpp.Lex(string(content), filename)}, nil
}

// NeedsPreprocessing returns true if the file might need preprocessing.
// Files ending in .i or .ii are considered already preprocessed.
func NeedsPreprocessing(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext != ".i" && ext != ".ii"
}
