package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/raymyers/cxxpp/pkg/config"
	"github.com/raymyers/cxxpp/pkg/cpp"
	"github.com/raymyers/cxxpp/pkg/preproc"
	"github.com/raymyers/cxxpp/pkg/watch"
)

var version = "0.1.0"

// Preprocessor options
var (
	configFile        string
	includePaths      []string
	systemPaths       []string
	defineFlags       []string
	undefineFlags     []string
	baseDir           string
	detectSystemPaths bool
	jobs              int
)

// Output options
var (
	preprocessOnly bool // -E flag
	dumpMacros     bool
	listHeaders    bool
)

// ErrPreprocessing indicates that at least one file could not be preprocessed
var ErrPreprocessing = errors.New("preprocessing failed")

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, ErrPreprocessing) {
			fmt.Fprintf(os.Stderr, "cxxpp: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cxxpp [file...]",
		Short: "cxxpp is a C/C++ preprocessor for static analysis",
		Long: `cxxpp expands macros and evaluates conditional compilation in
C and C++ sources the way a static analyzer sees them. Included headers
are scanned for macro definitions only; their code is never emitted.`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			return doPreprocess(cmd.Context(), args, out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	// Add preprocessor flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Read settings from a YAML config file")
	pf.StringArrayVarP(&includePaths, "include", "I", nil, "Add directory to include search path")
	pf.StringArrayVar(&systemPaths, "isystem", nil, "Add directory to system include search path")
	pf.StringArrayVarP(&defineFlags, "define", "D", nil, "Define macro (NAME or NAME=VALUE)")
	pf.StringArrayVarP(&undefineFlags, "undefine", "U", nil, "Undefine macro")
	pf.StringVar(&baseDir, "base-dir", "", "Resolve relative include directories against this directory")
	pf.BoolVar(&detectSystemPaths, "detect-system-paths", false, "Add the system include directories of the installed compiler")
	pf.IntVarP(&jobs, "jobs", "j", 0, "Number of files to preprocess concurrently (0 for one per CPU)")

	// glog's -v, -logtostderr, ...
	pf.AddGoFlagSet(flag.CommandLine)

	// Add output flags
	rootCmd.Flags().BoolVarP(&preprocessOnly, "preprocess", "E", false, "Preprocess only, output to stdout")
	rootCmd.Flags().BoolVar(&dumpMacros, "dump-macros", false, "Print the macros defined at the end of each file")
	rootCmd.Flags().BoolVar(&listHeaders, "headers", false, "Print the headers harvested for each file")

	rootCmd.AddCommand(newWatchCmd(out, errOut))
	return rootCmd
}

func newWatchCmd(out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "watch file",
		Short: "Preprocess a file again whenever it or one of its headers changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doWatch(cmd.Context(), args[0], out, errOut)
		},
	}
}

// buildConfig merges the config file with the command-line flags
func buildConfig() (*config.Config, error) {
	cfg := &config.Config{}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Merge(config.Config{
		Defines:           defineFlags,
		Undefines:         undefineFlags,
		IncludeDirs:       includePaths,
		SystemDirs:        systemPaths,
		BaseDir:           baseDir,
		DetectSystemPaths: detectSystemPaths,
		Jobs:              jobs,
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// doPreprocess preprocesses every file and writes the requested output in
// argument order
func doPreprocess(ctx context.Context, files []string, out, errOut io.Writer) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	results, err := preproc.PreprocessAll(ctx, files, &preproc.Options{Config: cfg})
	if err != nil {
		return err
	}

	failed := false
	for _, fr := range results {
		if fr.Err != nil {
			fmt.Fprintf(errOut, "cxxpp: preprocessing error: %v\n", fr.Err)
			failed = true
			continue
		}
		writeResult(out, fr.Result)
		if !preprocessOnly && !dumpMacros && !listHeaders {
			fmt.Fprintf(errOut, "cxxpp: %s: %d tokens, %d macros, %d headers\n",
				fr.File, len(fr.Result.Tokens)-1, len(fr.Result.Macros), len(fr.Result.Headers))
		}
	}
	if failed {
		return ErrPreprocessing
	}
	return nil
}

func writeResult(out io.Writer, res *cpp.Result) {
	if preprocessOnly {
		fmt.Fprintf(out, "# 1 %q\n", res.File)
		fmt.Fprint(out, res.Text())
	}
	if listHeaders {
		for _, h := range res.Headers {
			fmt.Fprintf(out, "%s: %s\n", res.File, h)
		}
	}
	if dumpMacros {
		for _, m := range res.Macros {
			fmt.Fprintln(out, m)
		}
	}
}

// doWatch preprocesses file and repeats on every change until interrupted
func doWatch(ctx context.Context, file string, out, errOut io.Writer) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	pp, err := preproc.NewPreprocessor(&preproc.Options{Config: cfg})
	if err != nil {
		return err
	}

	w, err := watch.New()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Close()

	preprocessOnly = true
	return w.Run(ctx, file,
		func() (*cpp.Result, error) { return pp.PreprocessFile(file) },
		func(res *cpp.Result, err error) {
			if err != nil {
				fmt.Fprintf(errOut, "cxxpp: preprocessing error: %v\n", err)
				return
			}
			writeResult(out, res)
			glog.V(1).Infof("watching %d files", w.Files())
		})
}
