package config

import "runtime"

// WorldConfig controls directory loading.
type WorldConfig struct {
	// Pattern selects files relative to the loaded root (supports **).
	Pattern string `yaml:"pattern" json:"pattern,omitempty"`
	// ExcludeDirs skips directories with these names at any depth.
	ExcludeDirs []string `yaml:"exclude_dirs" json:"exclude_dirs,omitempty"`
	// Workers caps concurrent file reads.
	Workers int `yaml:"workers" json:"workers,omitempty"`
}

// DefaultExcludeDirs are build, VCS and dependency directories skipped by
// directory loads.
func DefaultExcludeDirs() []string {
	return []string{
		".git", "__pycache__", "node_modules", ".venv", "venv",
		"build", "dist", ".next", ".nuxt", "target", ".opencode",
		".tox", ".mypy_cache", ".pytest_cache", ".ruff_cache",
		"vendor", "coverage", ".cache", ".rlm",
	}
}

// DefaultWorldConfig returns defaults for directory loading.
func DefaultWorldConfig() WorldConfig {
	workers := runtime.NumCPU()
	if workers > 20 {
		workers = 20
	}
	if workers < 4 {
		workers = 4
	}
	return WorldConfig{
		Pattern:     "**/*",
		ExcludeDirs: DefaultExcludeDirs(),
		Workers:     workers,
	}
}
