package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// parseEnv overlays PRWATCH_* environment variables. Durations are given in
// seconds.
func parseEnv(cfg *Config) {
	loadDotEnv()

	cfg.ListenAddr = env.GetString("PRWATCH_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DataDir = env.GetString("PRWATCH_DATA_DIR", cfg.DataDir)
	cfg.RuntimeDir = env.GetString("PRWATCH_RUNTIME_DIR", cfg.RuntimeDir)
	cfg.GitHubAPIURL = env.GetString("PRWATCH_GITHUB_API_URL", cfg.GitHubAPIURL)
	cfg.LogLevel = env.GetString("PRWATCH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = env.GetString("PRWATCH_LOG_FORMAT", cfg.LogFormat)
	cfg.MetricsAddr = env.GetString("PRWATCH_METRICS_ADDR", cfg.MetricsAddr)
	cfg.KDFIterations = env.GetInt("PRWATCH_KDF_ITERATIONS", cfg.KDFIterations)

	cfg.PollInterval = seconds("PRWATCH_POLL_INTERVAL_SECONDS", cfg.PollInterval)
	cfg.RememberWindow = seconds("PRWATCH_REMEMBER_WINDOW_SECONDS", cfg.RememberWindow)
}

func seconds(key string, def time.Duration) time.Duration {
	return time.Duration(env.GetInt(key, int(def/time.Second))) * time.Second
}

// loadDotEnv loads the first .env found walking up from the working directory.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
