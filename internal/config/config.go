// Package config loads streamstored's configuration: defaults -> global
// config -> project config -> explicit --config file -> CLI flag
// overrides, parsed as hujson (JSON with comments and trailing commas).
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config holds all configuration options for the streamstored process.
type Config struct {
	Root         string        `json:"root"`
	Addr         string        `json:"addr"`
	ReadTimeout  time.Duration `json:"-"`
	WriteTimeout time.Duration `json:"-"`
}

// rawConfig is the on-disk shape; ReadTimeout/WriteTimeout are stored as
// human-friendly duration strings ("30s") rather than nanosecond integers.
type rawConfig struct {
	Root         string `json:"root,omitempty"`
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// ConfigFileName is the project-level config file name, checked relative to
// the working directory.
const ConfigFileName = ".streamstore.json"

// DefaultConfig returns the built-in defaults, the lowest-precedence layer.
func DefaultConfig() Config {
	return Config{
		Root:         "tmp_outputs",
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Sources records which config files, if any, were loaded. Useful for
// diagnostics.
type Sources struct {
	Global  string
	Project string
}

// Load resolves configuration with the following precedence (highest wins):
//  1. DefaultConfig
//  2. Global config ($XDG_CONFIG_HOME/streamstore/config.json or
//     ~/.config/streamstore/config.json)
//  3. Project config (./.streamstore.json, if present)
//  4. Explicit --config file, if configPath is non-empty
//  5. cliOverrides, field by field, only for fields the caller marks changed
func Load(workDir, configPath string, cliOverrides Config, changed map[string]bool, env []string) (Config, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalPath := globalConfigPath(env)
	if globalPath != "" {
		if raw, ok, err := readIfExists(globalPath); err != nil {
			return Config{}, Sources{}, err
		} else if ok {
			cfg = merge(cfg, raw)
			sources.Global = globalPath
		}
	}

	projectPath := filepath.Join(workDir, ConfigFileName)
	if raw, ok, err := readIfExists(projectPath); err != nil {
		return Config{}, Sources{}, err
	} else if ok {
		cfg = merge(cfg, raw)
		sources.Project = projectPath
	}

	if configPath != "" {
		raw, err := parseFile(configPath)
		if err != nil {
			return Config{}, Sources{}, err
		}

		cfg = merge(cfg, raw)
	}

	if changed["root"] {
		cfg.Root = cliOverrides.Root
	}

	if changed["addr"] {
		cfg.Addr = cliOverrides.Addr
	}

	return cfg, sources, nil
}

// globalConfigPath prefers XDG_CONFIG_HOME from the supplied env slice (so
// tests can control it without mutating process env), falling back to
// os.Getenv and then os.UserHomeDir.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "streamstore", "config.json")
		}
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "streamstore", "config.json")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "streamstore", "config.json")
}

func readIfExists(path string) (rawConfig, bool, error) {
	if path == "" {
		return rawConfig{}, false, nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return rawConfig{}, false, nil
		}

		return rawConfig{}, false, err
	}

	raw, err := parseFile(path)

	return raw, true, err
}

func parseFile(path string) (rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rawConfig{}, err
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return rawConfig{}, err
	}

	var raw rawConfig
	if err := json.Unmarshal(std, &raw); err != nil {
		return rawConfig{}, err
	}

	return raw, nil
}

func merge(cfg Config, raw rawConfig) Config {
	if raw.Root != "" {
		cfg.Root = raw.Root
	}

	if raw.Addr != "" {
		cfg.Addr = raw.Addr
	}

	if raw.ReadTimeout != "" {
		if d, err := time.ParseDuration(raw.ReadTimeout); err == nil {
			cfg.ReadTimeout = d
		}
	}

	if raw.WriteTimeout != "" {
		if d, err := time.ParseDuration(raw.WriteTimeout); err == nil {
			cfg.WriteTimeout = d
		}
	}

	return cfg
}

// WriteDefault atomically writes DefaultConfig to path, using
// natefinch/atomic so a concurrent reader never observes a partial write.
func WriteDefault(path string) error {
	cfg := DefaultConfig()

	raw := rawConfig{
		Root:         cfg.Root,
		Addr:         cfg.Addr,
		ReadTimeout:  cfg.ReadTimeout.String(),
		WriteTimeout: cfg.WriteTimeout.String(),
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	data = append(data, '\n')

	return atomic.WriteFile(path, strings.NewReader(string(data)))
}
