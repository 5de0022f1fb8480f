package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/prwatch/internal/flagx"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

// JSONConfig is the DTO used exclusively for JSON unmarshalling. Zero values
// leave the corresponding Config field untouched.
type JSONConfig struct {
	ListenAddr           string         `json:"listen_addr"`
	DataDir              string         `json:"data_dir"`
	RuntimeDir           string         `json:"runtime_dir"`
	GitHubAPIURL         string         `json:"github_api_url"`
	PollInterval         timex.Duration `json:"poll_interval"`
	AutoCheckGap         timex.Duration `json:"auto_check_gap"`
	ManualCheckGap       timex.Duration `json:"manual_check_gap"`
	RememberWindow       timex.Duration `json:"remember_window"`
	NotificationThrottle timex.Duration `json:"notification_throttle"`
	KDFIterations        int            `json:"kdf_iterations"`
	LogLevel             string         `json:"log_level"`
	LogFormat            string         `json:"log_format"`
	MetricsAddr          string         `json:"metrics_addr"`
}

// parseJSON overlays values from the file named by -c/-config, if any.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.JSONConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var c JSONConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}

	setString(&cfg.ListenAddr, c.ListenAddr)
	setString(&cfg.DataDir, c.DataDir)
	setString(&cfg.RuntimeDir, c.RuntimeDir)
	setString(&cfg.GitHubAPIURL, c.GitHubAPIURL)
	setString(&cfg.LogLevel, c.LogLevel)
	setString(&cfg.LogFormat, c.LogFormat)
	setString(&cfg.MetricsAddr, c.MetricsAddr)

	if c.PollInterval.Duration != 0 {
		cfg.PollInterval = c.PollInterval.Duration
	}
	if c.AutoCheckGap.Duration != 0 {
		cfg.AutoCheckGap = c.AutoCheckGap.Duration
	}
	if c.ManualCheckGap.Duration != 0 {
		cfg.ManualCheckGap = c.ManualCheckGap.Duration
	}
	if c.RememberWindow.Duration != 0 {
		cfg.RememberWindow = c.RememberWindow.Duration
	}
	if c.NotificationThrottle.Duration != 0 {
		cfg.NotificationThrottle = c.NotificationThrottle.Duration
	}
	if c.KDFIterations != 0 {
		cfg.KDFIterations = c.KDFIterations
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
