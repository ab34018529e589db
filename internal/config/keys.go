package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
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
		key: "server.port", typ: kInt, env: "FILERAG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "gemini.base_url", typ: kString, env: "FILERAG_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.model", typ: kString, env: "FILERAG_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.api_key", typ: kString, env: "FILERAG_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FILERAG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "querylog.path", typ: kString, env: "FILERAG_QUERYLOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.QueryLog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.QueryLog.Path },
	},
	{
		key: "upload.poll_interval", typ: kDuration, env: "FILERAG_UPLOAD_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Upload.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Upload.PollInterval },
	},
	{
		key: "upload.max_polls", typ: kInt, env: "FILERAG_UPLOAD_MAX_POLLS",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxPolls = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxPolls },
	},
	{
		key: "log.level", typ: kString, env: "FILERAG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "watch.extensions", typ: kString, env: "FILERAG_WATCH_EXTENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Watch.Extensions = v.(string) },
		extract: func(cfg Config) any { return cfg.Watch.Extensions },
	},
}

// parseValue converts raw text into the Go value apply expects for s.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

// applyBackend copies persisted values into cfg. Secrets never come from the
// config file. A malformed integer is an error; a malformed duration falls
// back to the default with a warning.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides lets FILERAG_* variables win over file values. Empty
// variables are treated as unset.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
