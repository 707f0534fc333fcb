// Package config loads rewind settings from JSON config files: a global file
// in the user's config directory with an optional per-directory override.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config holds all configurable rewind settings.
type Config struct {
	Root            string   `json:"root"`             // watch root; default is the home directory
	DataDir         string   `json:"data_dir"`         // state/history/backups; default XDG data dir
	ExcludePatterns []string `json:"exclude_patterns"` // extra exclusion rules
	DebounceMS      int      `json:"debounce_ms"`      // event coalescing window
	ListenAddr      string   `json:"listen_addr"`      // daemon API address
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Root:       home,
		ListenAddr: "127.0.0.1:7437",
		DebounceMS: 150,
	}
}

// LoadGlobal reads ~/.config/rewind/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".config", "rewind", "config.json")
	return loadFile(path, true)
}

// LoadProject reads .rewindconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".rewindconfig", false)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()

	apply := func(c *Config) {
		if c == nil {
			return
		}
		if c.Root != "" {
			result.Root = c.Root
		}
		if c.DataDir != "" {
			result.DataDir = c.DataDir
		}
		if len(c.ExcludePatterns) > 0 {
			result.ExcludePatterns = c.ExcludePatterns
		}
		if c.DebounceMS > 0 {
			result.DebounceMS = c.DebounceMS
		}
		if c.ListenAddr != "" {
			result.ListenAddr = c.ListenAddr
		}
	}
	apply(global)
	apply(project)

	return result
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
