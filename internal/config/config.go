// Package config provides configuration for the server.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable holding the optional YAML config
// file path.
const FileEnv = "CLAUSE_CONFIG"

// Config holds server configuration.
type Config struct {
	// Server settings
	Port      int    `yaml:"port"`
	StaticDir string `yaml:"static_dir"`

	// Claude CLI
	ClaudePath string `yaml:"claude_path"`

	// Realtime
	EventHistory int      `yaml:"event_history"`
	WatchDirs    []string `yaml:"watch_dirs"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         8420,
		StaticDir:    "./frontend/dist",
		ClaudePath:   "claude",
		EventHistory: 200,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CLAUSE_CONFIG (if set), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)
	c.ClaudePath = getEnv("CLAUDE_PATH", c.ClaudePath)
	c.EventHistory = getEnvInt("EVENT_HISTORY", c.EventHistory)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	if v := os.Getenv("WATCH_DIRS"); v != "" {
		c.WatchDirs = splitList(v)
	}
}

// Level parses LogLevel. Unknown values fall back to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a logger writing to w in LogFormat at Level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.Level()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
