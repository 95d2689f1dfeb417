package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// EnvPrefix is prepended to every flag name when reading the environment
const EnvPrefix = "PANTRY_TRACKER"

const (
	ScannerGemini = "gemini"
	ScannerOllama = "ollama"
)

// Config holds the runtime settings for the pantry tracker
type Config struct {
	Port         int
	DBPath       string
	StoragePath  string
	ScannerType  string
	GeminiKey    string
	GeminiModel  string
	OllamaURL    string
	OllamaModel  string
	AuthUser     string
	AuthPass     string
	DefaultsPath string
	Debounce     time.Duration
	LogLevel     string
	ShowVersion  bool

	fs *ff.FlagSet
}

// Parse loads an optional env file, then reads flags and PANTRY_TRACKER_*
// environment variables. Flags win over the environment.
func Parse(args []string) (*Config, error) {
	if err := loadEnvFile(os.Getenv(EnvPrefix + "_ENV_FILE")); err != nil {
		return nil, err
	}

	cfg := &Config{fs: ff.NewFlagSet("pantry-tracker")}
	cfg.fs.IntVar(&cfg.Port, 0, "port", 8080, "HTTP server port")
	cfg.fs.StringVar(&cfg.DBPath, 0, "db", "pantry-tracker.db", "Database file path")
	cfg.fs.StringVar(&cfg.StoragePath, 0, "storage", "./photos", "Directory for archived scan photos")
	cfg.fs.StringVar(&cfg.ScannerType, 0, "scanner", ScannerGemini, "Scanner type: 'gemini' or 'ollama'")
	cfg.fs.StringVar(&cfg.GeminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	cfg.fs.StringVar(&cfg.GeminiModel, 0, "gemini-model", "gemini-2.5-flash", "Google Gemini model name")
	cfg.fs.StringVar(&cfg.OllamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	cfg.fs.StringVar(&cfg.OllamaModel, 0, "ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
	cfg.fs.StringVar(&cfg.AuthUser, 0, "auth-user", "", "Basic auth username (optional)")
	cfg.fs.StringVar(&cfg.AuthPass, 0, "auth-pass", "", "Basic auth password (optional)")
	cfg.fs.StringVar(&cfg.DefaultsPath, 0, "defaults", "", "YAML file overriding the built-in item defaults table")
	cfg.fs.DurationVar(&cfg.Debounce, 0, "rematch-debounce", 300*time.Millisecond, "Quiet period before an edited name is re-matched")
	cfg.fs.StringVar(&cfg.LogLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	cfg.fs.BoolVar(&cfg.ShowVersion, 0, "version", "Show version information")

	if err := ff.Parse(cfg.fs, args, ff.WithEnvVarPrefix(EnvPrefix)); err != nil {
		return cfg, err
	}

	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	return cfg, nil
}

// Validate reports settings that cannot produce a working server
func (c *Config) Validate() error {
	switch c.ScannerType {
	case ScannerGemini:
		if c.GeminiKey == "" {
			return errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
	case ScannerOllama:
		if c.OllamaURL == "" {
			return errors.New("ollama URL is required")
		}
	default:
		return fmt.Errorf("invalid scanner type %q: expected gemini or ollama", c.ScannerType)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("rematch debounce must not be negative, got %s", c.Debounce)
	}
	return nil
}

// Usage renders the flag help
func (c *Config) Usage() string {
	return ffhelp.Flags(c.fs).String()
}

func loadEnvFile(path string) error {
	if path == "" {
		// A missing .env is fine when settings come from the environment
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}
