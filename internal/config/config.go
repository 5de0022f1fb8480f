package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/netx"
)

// MinKDFIterations is the lowest PBKDF2 iteration count the daemon accepts.
const MinKDFIterations = 100_000

// Config holds runtime settings shared by prwatchd and prwatch.
type Config struct {
	// ListenAddr is the host:port of the daemon message bridge.
	ListenAddr string
	// DataDir holds the persistent SQLite store.
	DataDir string
	// RuntimeDir holds the volatile remember-password file. It should live on
	// storage that is wiped on reboot.
	RuntimeDir string
	// GitHubAPIURL is the base URL of the GitHub REST API.
	GitHubAPIURL string

	PollInterval         time.Duration
	AutoCheckGap         time.Duration
	ManualCheckGap       time.Duration
	RememberWindow       time.Duration
	NotificationThrottle time.Duration

	KDFIterations int

	LogLevel  string
	LogFormat string

	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ListenAddr = "127.0.0.1:50071"
	c.DataDir = defaultDataDir()
	c.RuntimeDir = defaultRuntimeDir()
	c.GitHubAPIURL = "https://api.github.com"

	c.PollInterval = 5 * time.Minute
	c.AutoCheckGap = 10 * time.Second
	c.ManualCheckGap = 4 * time.Second
	c.RememberWindow = 12 * time.Hour
	c.NotificationThrottle = 30 * time.Second

	c.KDFIterations = MinKDFIterations

	c.LogLevel = "info"
	c.LogFormat = "json"
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "prwatch.db")
}

// SessionPath is the remember-password file inside RuntimeDir.
func (c *Config) SessionPath() string {
	return filepath.Join(c.RuntimeDir, "session.json")
}

func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	} else if err := netx.CheckLoopback(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("listen address: %w", err))
	}
	if c.KDFIterations < MinKDFIterations {
		errs = append(errs, fmt.Errorf("kdf iterations %d below minimum %d", c.KDFIterations, MinKDFIterations))
	}
	for name, d := range map[string]time.Duration{
		"poll interval":         c.PollInterval,
		"auto check gap":        c.AutoCheckGap,
		"manual check gap":      c.ManualCheckGap,
		"remember window":       c.RememberWindow,
		"notification throttle": c.NotificationThrottle,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Load builds a Config from defaults, the JSON file, the environment and
// finally the given command-line arguments (without the program name).
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, fmt.Errorf("json config: %w", err)
	}
	parseEnv(cfg)
	if err := parseFlags(cfg, args); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over os.Args. It panics on invalid configuration since
// neither binary can do anything useful without one.
func LoadConfig() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		panic(err)
	}
	return cfg
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "prwatch")
}

func defaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "prwatch")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("prwatch-%d", os.Getuid()))
}
