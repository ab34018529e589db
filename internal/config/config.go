package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingAPIKey is returned by RequireAPIKey when no Gemini key is set.
var ErrMissingAPIKey = errors.New("missing required config: Gemini API key")

type Config struct {
	Server   ServerConfig
	Gemini   GeminiConfig
	Storage  StorageConfig
	QueryLog QueryLogConfig
	Upload   UploadConfig
	Log      LogConfig
	Watch    WatchConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
}

type QueryLogConfig struct {
	// Path defaults to query_history.txt under the data directory.
	Path string
}

type UploadConfig struct {
	PollInterval time.Duration
	// MaxPolls bounds the wait for a document to become active; 0 means unbounded.
	MaxPolls int
}

type LogConfig struct {
	Level string
}

type WatchConfig struct {
	// Extensions is a comma-separated list such as ".txt,.pdf".
	Extensions string
}

// ExtensionList splits Extensions into its entries.
func (w WatchConfig) ExtensionList() []string {
	var out []string
	for _, e := range strings.Split(w.Extensions, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.5-flash",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Upload: UploadConfig{
			PollInterval: time.Second,
			MaxPolls:     300,
		},
		Log: LogConfig{
			Level: "info",
		},
		Watch: WatchConfig{
			Extensions: ".txt,.pdf,.md,.doc,.docx",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/filerag/config.json, then a .env file in the working
// directory, then the environment. Variables already set in the
// environment win over .env entries.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v\n", envFile, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.QueryLog.Path == "" {
		cfg.QueryLog.Path = filepath.Join(cfg.Storage.DataDir, "query_history.txt")
	}

	return cfg, nil
}

// RequireAPIKey reports ErrMissingAPIKey when no Gemini key was configured.
func (c Config) RequireAPIKey() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("%w. Set FILERAG_GEMINI_API_KEY or GEMINI_API_KEY in the environment or a .env file", ErrMissingAPIKey)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "filerag-data"
		}
	}
	return filepath.Join(dir, "filerag")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "filerag", "config.json")
}
