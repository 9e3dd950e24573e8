// Package config loads and validates the optional .overseer file.
//
// The file is YAML (.overseer) or TOML (.overseer.toml). When both exist in
// the same directory the YAML file wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/deixis/overseer/internal/command"
)

// Config file names, in lookup order.
const (
	FileName     = ".overseer"
	TOMLFileName = ".overseer.toml"
)

// Default values for runner configuration.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultGracePeriod = 5 * time.Second
	DefaultKillWait    = 5 * time.Second
	DefaultMaxOutput   = 1 << 20 // 1 MiB
	DefaultLogLevel    = "info"
	DefaultCacheSize   = 128
)

// Store kinds.
const (
	StoreDisk   = "disk"
	StoreSQLite = "sqlite"
)

// ErrUnknownCommand is returned by Command for names not in the file.
var ErrUnknownCommand = errors.New("unknown command")

// Config holds the parsed .overseer configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version        int                       `yaml:"version" toml:"version"`
	RawTimeout     string                    `yaml:"timeout" toml:"timeout"`           // e.g. "60s", "2m"
	RawGracePeriod string                    `yaml:"grace_period" toml:"grace_period"` // SIGTERM to SIGKILL delay
	RawKillWait    string                    `yaml:"kill_wait" toml:"kill_wait"`       // wait for death after SIGKILL
	RawMaxOutput   int                       `yaml:"max_output" toml:"max_output"`     // bytes
	LogLevel       string                    `yaml:"log_level" toml:"log_level"`
	Store          StoreConfig               `yaml:"store" toml:"store"`
	Commands       map[string]CommandConfig  `yaml:"commands" toml:"commands"`
	Pipelines      map[string]PipelineConfig `yaml:"pipelines" toml:"pipelines"`
}

// StoreConfig selects where run reports are kept.
type StoreConfig struct {
	Kind  string `yaml:"kind" toml:"kind"`   // disk (default) or sqlite
	Path  string `yaml:"path" toml:"path"`   // directory for disk, file for sqlite; relative to the repo root
	Cache int    `yaml:"cache" toml:"cache"` // in-memory LRU entries
}

// CommandConfig is a named command.
type CommandConfig struct {
	Program    string   `yaml:"program" toml:"program"`
	Args       []string `yaml:"args" toml:"args"`
	RawTimeout string   `yaml:"timeout" toml:"timeout"`
	Dir        string   `yaml:"dir" toml:"dir"`
	Env        []string `yaml:"env" toml:"env"`
}

// PipelineConfig is an ordered list of command names.
type PipelineConfig struct {
	Steps    []string `yaml:"steps" toml:"steps"`
	FailFast *bool    `yaml:"fail_fast" toml:"fail_fast"` // default: true
}

// StopOnFailure reports whether the pipeline stops at the first failed step.
func (p PipelineConfig) StopOnFailure() bool {
	return p.FailFast == nil || *p.FailFast
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	return durationOr(c.RawTimeout, DefaultTimeout)
}

// GracePeriod returns the configured grace period or the default.
func (c *Config) GracePeriod() time.Duration {
	return durationOr(c.RawGracePeriod, DefaultGracePeriod)
}

// KillWait returns the configured kill wait or the default.
func (c *Config) KillWait() time.Duration {
	return durationOr(c.RawKillWait, DefaultKillWait)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// Level returns the configured log level or the default.
func (c *Config) Level() string {
	if s := strings.TrimSpace(c.LogLevel); s != "" {
		return s
	}
	return DefaultLogLevel
}

// StoreKind returns the configured store kind, falling back to disk.
func (c *Config) StoreKind() string {
	if c.Store.Kind == "" {
		return StoreDisk
	}
	return c.Store.Kind
}

// StorePath returns the store location resolved against root.
func (c *Config) StorePath(root string) string {
	p := c.Store.Path
	if p == "" {
		if c.StoreKind() == StoreSQLite {
			p = filepath.Join(".overseer-runs", "runs.db")
		} else {
			p = ".overseer-runs"
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// CacheSize returns the configured LRU size or the default.
func (c *Config) CacheSize() int {
	if c.Store.Cache > 0 {
		return c.Store.Cache
	}
	return DefaultCacheSize
}

// Command returns the named command as a runnable spec.
func (c *Config) Command(name string) (command.Spec, error) {
	cc, ok := c.Commands[name]
	if !ok {
		return command.Spec{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	spec := command.Spec{
		Program: cc.Program,
		Args:    append([]string(nil), cc.Args...),
		Dir:     cc.Dir,
		Env:     append([]string(nil), cc.Env...),
	}
	if cc.RawTimeout != "" {
		d, err := time.ParseDuration(cc.RawTimeout)
		if err != nil {
			return command.Spec{}, fmt.Errorf("command %q: parsing timeout: %w", name, err)
		}
		spec.Timeout = d
	}
	return spec, nil
}

// CommandNames returns the configured command names, sorted.
func (c *Config) CommandNames() []string {
	names := make([]string, 0, len(c.Commands))
	for n := range c.Commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every command has a program and arguments, that
// durations parse and that pipelines only reference known commands.
func (c *Config) Validate() error {
	var errs []error
	for _, f := range []struct{ name, raw string }{
		{"timeout", c.RawTimeout},
		{"grace_period", c.RawGracePeriod},
		{"kill_wait", c.RawKillWait},
	} {
		if f.raw == "" {
			continue
		}
		if _, err := time.ParseDuration(f.raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
		}
	}
	switch c.StoreKind() {
	case StoreDisk, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("store.kind: unsupported %q", c.Store.Kind))
	}
	for _, name := range c.CommandNames() {
		cc := c.Commands[name]
		if strings.TrimSpace(cc.Program) == "" {
			errs = append(errs, fmt.Errorf("command %q: missing program", name))
		}
		if len(cc.Args) == 0 {
			errs = append(errs, fmt.Errorf("command %q: missing args", name))
		}
		if _, err := c.Command(name); err != nil {
			errs = append(errs, err)
		}
	}
	for name, p := range c.Pipelines {
		if len(p.Steps) == 0 {
			errs = append(errs, fmt.Errorf("pipeline %q: no steps", name))
		}
		for _, step := range p.Steps {
			if _, ok := c.Commands[step]; !ok {
				errs = append(errs, fmt.Errorf("pipeline %q: %w: %q", name, ErrUnknownCommand, step))
			}
		}
	}
	return errors.Join(errs...)
}

// LoadResult holds the parsed config and the discovered repository root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory holding the config file or .git; falls back to workspace
	Path     string // config file that was read; empty when none exists
}

// Load reads the config file from the repository root.
// The repository root is discovered by walking upward from workspace
// looking for a config file or a .git entry. If no config file exists, a
// default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		// No marker found; use workspace as root.
		root = workspace
	}

	cfg := &Config{}
	res := &LoadResult{Config: cfg, RepoRoot: root}

	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
		res.Path = path
	case os.IsNotExist(err):
		path = filepath.Join(root, TOMLFileName)
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return res, nil
			}
			return nil, fmt.Errorf("parsing %s: %w", TOMLFileName, err)
		}
		res.Path = path
	default:
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", filepath.Base(res.Path), err)
	}
	return res, nil
}

// findRepoRoot walks upward from dir looking for a config file or .git.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		for _, marker := range []string{FileName, TOMLFileName, ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s or .git found", FileName)
		}
		dir = parent
	}
}

func durationOr(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}
