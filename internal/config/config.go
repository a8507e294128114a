package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Storage  StorageConfig
	Media    MediaConfig
	Download DownloadConfig
	Log      LogConfig

	// Constrained enables the tighter budgets used on small cloud
	// deployments: smaller size cap, fewer download retries. The error
	// taxonomy is unchanged.
	Constrained bool
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	APIKey         string
	Model          string
	AnalyzeTimeout time.Duration
	ChatTimeout    time.Duration
}

type StorageConfig struct {
	DataDir string
}

type MediaConfig struct {
	MaxUploadMB     int64
	MaxHistoryTurns int
	AllowedHosts    []string // empty means the built-in platform allow-list
}

type DownloadConfig struct {
	BinaryPath     string // yt-dlp location; empty means PATH lookup
	Attempts       int
	Retries        int
	SocketTimeout  time.Duration
	AttemptTimeout time.Duration
}

type LogConfig struct {
	Level string
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "plugd")
	}
	return filepath.Join(home, ".plugd")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Gemini: GeminiConfig{
			Model:          "gemini-2.0-flash-exp",
			AnalyzeTimeout: 5 * time.Minute,
			ChatTimeout:    2 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Media: MediaConfig{
			MaxUploadMB:     500,
			MaxHistoryTurns: 20,
		},
		Download: DownloadConfig{
			Attempts:       3,
			Retries:        3,
			SocketTimeout:  30 * time.Second,
			AttemptTimeout: 2 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// applyConstrained shrinks size and retry budgets for small deployments.
// Explicit env overrides still win because they are applied afterwards.
func applyConstrained(cfg *Config) {
	cfg.Constrained = true
	cfg.Media.MaxUploadMB = 50
	cfg.Download.Attempts = 1
	cfg.Download.Retries = 1
	cfg.Download.SocketTimeout = 20 * time.Second
}

// Load reads configuration from an optional .env file and the environment.
//
// Precedence, lowest to highest: built-in defaults, constrained-mode
// defaults (when PLUGD_CONSTRAINED is set), then PLUGD_* environment
// variables. The Gemini API key is required and read from GOOGLE_API_KEY
// (matching the hosted variant) or PLUGD_GOOGLE_API_KEY.
func Load() (Config, error) {
	// Missing .env files are fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := defaults()

	if raw := os.Getenv("PLUGD_CONSTRAINED"); raw != "" {
		if b, err := strconv.ParseBool(raw); err == nil && b {
			applyConstrained(&cfg)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. Set it via GOOGLE_API_KEY or PLUGD_GOOGLE_API_KEY")
	}

	return cfg, nil
}

// MaxUploadBytes returns the upload cap in bytes.
func (c Config) MaxUploadBytes() int64 {
	return c.Media.MaxUploadMB << 20
}
