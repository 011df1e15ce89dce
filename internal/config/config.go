package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the scan root.
const FileName = "loupe.yaml"

// Config represents the loupe configuration.
type Config struct {
	Exclude   ExcludeConfig   `yaml:"exclude"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Traversal TraversalConfig `yaml:"traversal"`
	Cache     CacheConfig     `yaml:"cache"`
	LogLevel  string          `yaml:"log_level"`
}

// ExcludeConfig defines what the scanner skips, on top of the root .gitignore.
type ExcludeConfig struct {
	Dirs      []string `yaml:"dirs"`
	FilesGlob []string `yaml:"files_glob"`
}

// AnalysisConfig tunes graph construction.
type AnalysisConfig struct {
	// Workers is the number of files analyzed in parallel. Zero means one
	// per CPU.
	Workers int `yaml:"workers"`
	// MaxFileSizeBytes caps analyzable file size.
	MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
}

// TraversalConfig bounds query traversals.
type TraversalConfig struct {
	// MaxDepth is the default depth bound for dependency trees.
	MaxDepth int `yaml:"max_depth"`
	// MaxPaths caps path enumeration before a query reports itself
	// incomplete.
	MaxPaths int `yaml:"max_paths"`
}

// CacheConfig controls snapshot persistence.
type CacheConfig struct {
	// Disabled turns the on-disk cache off.
	Disabled bool `yaml:"disabled"`
	// Dir is the cache directory, relative to the scan root when not
	// absolute. Empty means ".loupe".
	Dir string `yaml:"dir"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Exclude: ExcludeConfig{
			Dirs:      []string{"vendor", "node_modules", "third_party", "testdata", "__pycache__", ".venv"},
			FilesGlob: []string{"**/*.pb.go", "**/*_gen.go", "**/*_mock.go", "**/*.min.js"},
		},
		Analysis: AnalysisConfig{
			Workers:          runtime.NumCPU(),
			MaxFileSizeBytes: 10 * 1024 * 1024,
		},
		Traversal: TraversalConfig{
			MaxDepth: 64,
			MaxPaths: 1000,
		},
		Cache: CacheConfig{
			Dir: ".loupe",
		},
		LogLevel: "info",
	}
}

// Load reads configuration from file, falling back to defaults.
// If configPath is empty, it looks for loupe.yaml in the current directory.
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = FileName
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	defaults.Merge(&fileCfg)
	return defaults, nil
}

// LoadFromDir loads configuration from the specified directory.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Merge combines another config into this one, with other taking precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Exclude.Dirs) > 0 {
		c.Exclude.Dirs = other.Exclude.Dirs
	}
	if len(other.Exclude.FilesGlob) > 0 {
		c.Exclude.FilesGlob = other.Exclude.FilesGlob
	}
	if other.Analysis.Workers > 0 {
		c.Analysis.Workers = other.Analysis.Workers
	}
	if other.Analysis.MaxFileSizeBytes > 0 {
		c.Analysis.MaxFileSizeBytes = other.Analysis.MaxFileSizeBytes
	}
	if other.Traversal.MaxDepth > 0 {
		c.Traversal.MaxDepth = other.Traversal.MaxDepth
	}
	if other.Traversal.MaxPaths > 0 {
		c.Traversal.MaxPaths = other.Traversal.MaxPaths
	}
	if other.Cache.Dir != "" {
		c.Cache.Dir = other.Cache.Dir
	}
	if other.Cache.Disabled {
		c.Cache.Disabled = true
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// CacheDir resolves the cache directory against a scan root.
func (c *Config) CacheDir(root string) string {
	dir := c.Cache.Dir
	if dir == "" {
		dir = ".loupe"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}
