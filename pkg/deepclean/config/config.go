// Package config loads the deepclean run configuration with viper.
//
// The configuration file is deepclean.config.json. It is looked up in the
// working directory and up to nine of its parents, then in
// $XDG_CONFIG_HOME/deepclean. Every key can be overridden from the
// environment with the DEEPCLEAN_ prefix (e.g. DEEPCLEAN_PROOFSDIR).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// FileName is the configuration file name searched for.
const FileName = "deepclean.config.json"

// maxParentSearch bounds how many directories Load walks up.
const maxParentSearch = 10

// RunConfig holds the settings that shape a single pipeline run.
type RunConfig struct {
	Roots           []string           `mapstructure:"roots" json:"roots" yaml:"roots"`
	QuarantineDir   string             `mapstructure:"quarantineDir" json:"quarantineDir" yaml:"quarantineDir"`
	StagingDir      string             `mapstructure:"stagingDir" json:"stagingDir" yaml:"stagingDir"`
	ProofsDir       string             `mapstructure:"proofsDir" json:"proofsDir" yaml:"proofsDir"`
	Schedule        string             `mapstructure:"schedule" json:"schedule" yaml:"schedule"`
	MaxCPUPercent   int                `mapstructure:"maxCpuPercent" json:"maxCpuPercent" yaml:"maxCpuPercent"`
	AllowedActions  []types.ActionKind `mapstructure:"allowedActions" json:"allowedActions" yaml:"allowedActions"`
	DryRunByDefault bool               `mapstructure:"dryRunByDefault" json:"dryRunByDefault" yaml:"dryRunByDefault"`
}

// Workers converts MaxCPUPercent into a worker count for directory
// enumeration. It never returns less than one.
func (r RunConfig) Workers() int {
	pct := r.MaxCPUPercent
	if pct <= 0 || pct > 100 {
		pct = 100
	}
	n := runtime.NumCPU() * pct / 100
	if n < 1 {
		n = 1
	}
	return n
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"maxSize" json:"maxSize" yaml:"maxSize"`
	MaxAge     int    `mapstructure:"maxAge" json:"maxAge" yaml:"maxAge"`
	MaxBackups int    `mapstructure:"maxBackups" json:"maxBackups" yaml:"maxBackups"`
	Daily      bool   `mapstructure:"daily" json:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" json:"level" yaml:"level"`
	Path       string            `mapstructure:"path" json:"path" yaml:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation" json:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" json:"components" yaml:"components"`
}

// HistoryConfig configures the local run index.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" json:"path" yaml:"path"`
}

// DaemonConfig configures deepcleand.
type DaemonConfig struct {
	PIDPath  string `mapstructure:"pidPath" json:"pidPath" yaml:"pidPath"`
	Watch    bool   `mapstructure:"watch" json:"watch" yaml:"watch"`
	Debounce string `mapstructure:"debounce" json:"debounce" yaml:"debounce"`
}

// Config is the full application configuration.
type Config struct {
	RunConfig `mapstructure:",squash" yaml:",inline"`

	// Policy is the path of the policy file. Empty uses the built-in policy.
	Policy string `mapstructure:"policy" json:"policy" yaml:"policy"`

	Logging LoggingConfig `mapstructure:"logging" json:"logging" yaml:"logging"`
	History HistoryConfig `mapstructure:"history" json:"history" yaml:"history"`
	Daemon  DaemonConfig  `mapstructure:"daemon" json:"daemon" yaml:"daemon"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-" json:"-" yaml:"-"`
}

// Load reads configuration. An explicit path must exist; otherwise the
// search locations are tried and defaults apply when nothing is found.
// Relative directories are resolved against the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix("DEEPCLEAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is found, without
// resolving relative paths.
func Default() *Config {
	return &Config{
		RunConfig: RunConfig{
			Roots:           append([]string(nil), DefaultRoots...),
			QuarantineDir:   DefaultQuarantineDir,
			StagingDir:      DefaultStagingDir,
			ProofsDir:       DefaultProofsDir,
			Schedule:        DefaultSchedule,
			MaxCPUPercent:   DefaultMaxCPUPercent,
			AllowedActions:  append([]types.ActionKind(nil), DefaultAllowedActions...),
			DryRunByDefault: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			Rotation: RotationConfig{
				MaxSize:    "10MB",
				MaxAge:     30,
				MaxBackups: 5,
				Daily:      true,
			},
			Components: map[string]string{},
		},
		History: HistoryConfig{Enabled: true},
		Daemon: DaemonConfig{
			Watch:    true,
			Debounce: DefaultDebounce.String(),
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("roots", d.Roots)
	v.SetDefault("quarantineDir", d.QuarantineDir)
	v.SetDefault("stagingDir", d.StagingDir)
	v.SetDefault("proofsDir", d.ProofsDir)
	v.SetDefault("schedule", d.Schedule)
	v.SetDefault("maxCpuPercent", d.MaxCPUPercent)
	v.SetDefault("allowedActions", kindsToStrings(d.AllowedActions))
	v.SetDefault("dryRunByDefault", d.DryRunByDefault)
	v.SetDefault("policy", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.maxSize", d.Logging.Rotation.MaxSize)
	v.SetDefault("logging.rotation.maxAge", d.Logging.Rotation.MaxAge)
	v.SetDefault("logging.rotation.maxBackups", d.Logging.Rotation.MaxBackups)
	v.SetDefault("logging.rotation.daily", d.Logging.Rotation.Daily)
	v.SetDefault("logging.components", map[string]string{})

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", "")

	v.SetDefault("daemon.pidPath", "")
	v.SetDefault("daemon.watch", d.Daemon.Watch)
	v.SetDefault("daemon.debounce", d.Daemon.Debounce)
}

func kindsToStrings(kinds []types.ActionKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Resolve makes every configured directory absolute.
func (c *Config) Resolve() error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wd, p)
	}

	for i, r := range c.Roots {
		c.Roots[i] = abs(r)
	}
	c.QuarantineDir = abs(c.QuarantineDir)
	c.StagingDir = abs(c.StagingDir)
	c.ProofsDir = abs(c.ProofsDir)
	c.Policy = abs(c.Policy)
	c.Logging.Path = abs(c.Logging.Path)
	c.History.Path = abs(c.History.Path)
	c.Daemon.PIDPath = abs(c.Daemon.PIDPath)
	return nil
}

// SearchPaths returns the directories searched for FileName, in order.
func SearchPaths() []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		current := wd
		for i := 0; i < maxParentSearch; i++ {
			dirs = append(dirs, current)
			parent := filepath.Dir(current)
			if parent == current {
				break
			}
			current = parent
		}
	}
	return append(dirs, ConfigDir())
}

// ConfigDir returns $XDG_CONFIG_HOME/deepclean.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "deepclean")
}

// StateDir returns $XDG_STATE_HOME/deepclean.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "deepclean")
}

// HistoryPath returns the configured history directory or the default
// under the state directory.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(StateDir(), "history")
}

// PIDPath returns the configured daemon PID file or the default.
func (c *Config) PIDPath() string {
	if c.Daemon.PIDPath != "" {
		return c.Daemon.PIDPath
	}
	return filepath.Join(StateDir(), "deepcleand.pid")
}

// ErrConfigExists is returned by WriteDefault when the target exists.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes a starter deepclean.config.json to path.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrConfigExists)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
