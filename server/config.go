package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration for the local run service. All paths may use
// ${VAR} or ${VAR:-default} references, expanded against the process
// environment when the file is loaded.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// RunsDir holds the run registry database and per-run directories.
	RunsDir string `yaml:"runs_dir"`

	// DataDir holds service state that outlives runs (the SSH deploy key).
	DataDir string `yaml:"data_dir"`

	// WorkspaceDir is where remote repositories are cloned.
	WorkspaceDir string `yaml:"workspace_dir"`

	// DefaultProvider is used when a run request names no provider.
	DefaultProvider string `yaml:"default_provider"`

	// LongPollWait bounds how long an events request waits for new lines.
	LongPollWait time.Duration `yaml:"long_poll_wait"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a fully populated configuration. A config file overlays
// these values; a missing file leaves them as-is.
func Default() Config {
	return Config{
		Addr:            "127.0.0.1:8765",
		RunsDir:         "runs",
		DataDir:         "data",
		WorkspaceDir:    "workspace",
		DefaultProvider: "simple",
		LongPollWait:    25 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadFile loads configuration from path, overlaying the defaults. The
// empty path returns the defaults unchanged.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expand() {
	c.Addr = expandVars(c.Addr)
	c.RunsDir = expandVars(c.RunsDir)
	c.DataDir = expandVars(c.DataDir)
	c.WorkspaceDir = expandVars(c.WorkspaceDir)
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} against the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := varPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[3]
	})
}

// Validate checks the configuration, collecting every problem.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.RunsDir == "" {
		errs = append(errs, errors.New("runs_dir must not be empty"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	if c.WorkspaceDir == "" {
		errs = append(errs, errors.New("workspace_dir must not be empty"))
	}
	if c.LongPollWait < 0 {
		errs = append(errs, errors.New("long_poll_wait must not be negative"))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("shutdown_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// SSHKeyPath returns the location of the stored deploy key.
func (c *Config) SSHKeyPath() string {
	return filepath.Join(c.DataDir, "ssh", "id")
}
