// Package config loads daemon configuration with precedence
// ENV > file > defaults, and defines the runtime-tunable detection settings
// persisted alongside processing results.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is the process-level configuration: where data lives, how to
// reach external collaborators, and how the daemon serves.
type AppConfig struct {
	ListenAddr    string   `yaml:"listen_addr"`
	DataDir       string   `yaml:"data_dir"`
	FFmpegPath    string   `yaml:"ffmpeg_path"`
	ScorerCommand string   `yaml:"scorer_command"`
	ScorerArgs    []string `yaml:"scorer_args"`
	WatchDir      string   `yaml:"watch_dir"` // optional; enables watch mode
	LogLevel      string   `yaml:"log_level"`
}

// DatabasePath returns the SQLite file location under the data dir.
func (c AppConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "cradlewatch.db")
}

// ExportDir returns where event clips are exported.
func (c AppConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

func defaults() AppConfig {
	return AppConfig{
		ListenAddr: ":7860",
		DataDir:    "./data",
		FFmpegPath: "ffmpeg",
		LogLevel:   "info",
	}
}

// Load reads configuration with precedence ENV > file > defaults. The file is
// optional; a missing path is only an error when it was set explicitly.
func Load(path string, explicit bool) (AppConfig, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// fall through to env/defaults
		default:
			return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.ListenAddr == "" {
		return AppConfig{}, fmt.Errorf("config: listen_addr must not be empty")
	}
	if cfg.DataDir == "" {
		return AppConfig{}, fmt.Errorf("config: data_dir must not be empty")
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("CRADLEWATCH_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CRADLEWATCH_DATA"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CRADLEWATCH_FFMPEG"); v != "" {
		cfg.FFmpegPath = v
	}
	if parts := strings.Fields(os.Getenv("CRADLEWATCH_SCORER")); len(parts) > 0 {
		cfg.ScorerCommand = parts[0]
		cfg.ScorerArgs = parts[1:]
	}
	if v := os.Getenv("CRADLEWATCH_WATCH_DIR"); v != "" {
		cfg.WatchDir = v
	}
	if v := os.Getenv("CRADLEWATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
