package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kInt64
	kDuration
	kStringList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PLUGD_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "gemini.api_key", typ: kString, env: "PLUGD_GOOGLE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "PLUGD_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.analyze_timeout", typ: kDuration, env: "PLUGD_ANALYZE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Gemini.AnalyzeTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Gemini.AnalyzeTimeout },
	},
	{
		key: "gemini.chat_timeout", typ: kDuration, env: "PLUGD_CHAT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Gemini.ChatTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Gemini.ChatTimeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PLUGD_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "media.max_upload_mb", typ: kInt64, env: "PLUGD_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Media.MaxUploadMB = v.(int64) },
		extract: func(cfg Config) any { return cfg.Media.MaxUploadMB },
	},
	{
		key: "media.max_history_turns", typ: kInt, env: "PLUGD_MAX_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Media.MaxHistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Media.MaxHistoryTurns },
	},
	{
		key: "media.allowed_hosts", typ: kStringList, env: "PLUGD_ALLOWED_HOSTS",
		apply:   func(cfg *Config, v any) { cfg.Media.AllowedHosts = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Media.AllowedHosts, ",") },
	},
	{
		key: "download.binary_path", typ: kString, env: "PLUGD_YTDLP_PATH",
		apply:   func(cfg *Config, v any) { cfg.Download.BinaryPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Download.BinaryPath },
	},
	{
		key: "download.attempts", typ: kInt, env: "PLUGD_DOWNLOAD_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Download.Attempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Download.Attempts },
	},
	{
		key: "download.retries", typ: kInt, env: "PLUGD_DOWNLOAD_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Download.Retries = v.(int) },
		extract: func(cfg Config) any { return cfg.Download.Retries },
	},
	{
		key: "download.socket_timeout", typ: kDuration, env: "PLUGD_SOCKET_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Download.SocketTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Download.SocketTimeout },
	},
	{
		key: "download.attempt_timeout", typ: kDuration, env: "PLUGD_DOWNLOAD_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Download.AttemptTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Download.AttemptTimeout },
	},
	{
		key: "log.level", typ: kString, env: "PLUGD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kInt64:
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kStringList:
			parts := strings.Split(raw, ",")
			var list []string
			for _, p := range parts {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					list = append(list, trimmed)
				}
			}
			s.apply(cfg, list)
		}
	}
}

// KeyValue is one effective configuration entry for display.
type KeyValue struct {
	Key   string
	Value string
}

// ShowAll returns the effective configuration as displayable key/value pairs,
// masking secrets.
func ShowAll(cfg Config) []KeyValue {
	out := make([]KeyValue, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && v != "" {
			v = "********"
		}
		out = append(out, KeyValue{Key: s.key, Value: v})
	}
	return out
}
