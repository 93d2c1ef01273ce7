// Package config loads preprocessor settings from a YAML file and merges
// them with command-line overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/cxxpp/pkg/cpp"
)

// Config holds the preprocessing settings of a project.
type Config struct {
	Defines           []string `yaml:"defines"`             // NAME or NAME=VALUE
	Undefines         []string `yaml:"undefines"`           // names removed from the defines
	IncludeDirs       []string `yaml:"include_dirs"`        // -I directories
	SystemDirs        []string `yaml:"system_dirs"`         // -isystem directories
	BaseDir           string   `yaml:"base_dir"`            // root for relative include directories
	DetectSystemPaths bool     `yaml:"detect_system_paths"` // query the installed compiler
	Jobs              int      `yaml:"jobs"`                // concurrent files, 0 for one per CPU
}

// Load reads a YAML config file. A relative base_dir is taken relative to
// the directory holding the file; when it is absent that directory is used.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	switch {
	case cfg.BaseDir == "":
		cfg.BaseDir = dir
	case !filepath.IsAbs(cfg.BaseDir):
		cfg.BaseDir = filepath.Join(dir, cfg.BaseDir)
	}
	return cfg, nil
}

// Parse decodes and validates YAML config data. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings for values the preprocessor cannot use.
func (c *Config) Validate() error {
	if c.Jobs < 0 {
		return fmt.Errorf("jobs must not be negative, got %d", c.Jobs)
	}
	for _, dir := range append(append([]string(nil), c.IncludeDirs...), c.SystemDirs...) {
		if dir == "" {
			return errors.New("empty include directory")
		}
	}
	if _, err := cpp.ParseExternalMacros(c.Defines, c.Undefines); err != nil {
		return err
	}
	return nil
}

// Merge applies command-line overrides: lists are appended after the file's
// entries, scalars replace them when set.
func (c *Config) Merge(o Config) {
	c.Defines = append(c.Defines, o.Defines...)
	c.Undefines = append(c.Undefines, o.Undefines...)
	c.IncludeDirs = append(c.IncludeDirs, o.IncludeDirs...)
	c.SystemDirs = append(c.SystemDirs, o.SystemDirs...)
	if o.BaseDir != "" {
		c.BaseDir = o.BaseDir
	}
	if o.DetectSystemPaths {
		c.DetectSystemPaths = true
	}
	if o.Jobs > 0 {
		c.Jobs = o.Jobs
	}
}

// Workers returns the number of files to preprocess concurrently.
func (c *Config) Workers() int {
	if c.Jobs > 0 {
		return c.Jobs
	}
	return runtime.NumCPU()
}

// PreprocessorOptions converts the settings for cpp.NewPreprocessor.
func (c *Config) PreprocessorOptions() cpp.PreprocessorOptions {
	return cpp.PreprocessorOptions{
		Defines:           c.Defines,
		Undefines:         c.Undefines,
		IncludeDirs:       c.IncludeDirs,
		SystemDirs:        c.SystemDirs,
		BaseDir:           c.BaseDir,
		DetectSystemPaths: c.DetectSystemPaths,
	}
}
