package config

import "time"

// ExecutionConfig configures the embedded interpreter.
type ExecutionConfig struct {
	// Timeout bounds a single exec run. "0s" or empty means unbounded.
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`

	// Imports are standard library packages made available to caller code
	// without an import statement.
	Imports []string `yaml:"imports" json:"imports,omitempty"`
}

// DefaultExecutionConfig returns the interpreter defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Timeout: "0s",
		Imports: []string{"fmt", "strings", "strconv", "regexp", "sort", "math", "time"},
	}
}

// GetTimeout returns the exec timeout as a duration; zero means unbounded.
func (e ExecutionConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
