package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/flagx"
)

// parseFlags overlays the short flags documented in doc.go. Other arguments
// (subcommands, -c) are filtered out first so they do not cause parse errors.
func parseFlags(cfg *Config, args []string) error {
	filtered := flagx.FilterArgs(args, []string{"-a", "-d", "-g", "-i", "-l", "-m"})

	fs := flag.NewFlagSet("prwatch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ListenAddr, "a", cfg.ListenAddr, "daemon listen address")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.GitHubAPIURL, "g", cfg.GitHubAPIURL, "GitHub API base URL")
	pollInterval := fs.Int("i", int(cfg.PollInterval/time.Second), "poll interval (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")

	if err := fs.Parse(filtered); err != nil {
		return err
	}

	cfg.PollInterval = time.Duration(*pollInterval) * time.Second
	return nil
}
