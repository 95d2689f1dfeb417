package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zombor/pantry-tracker/internal/config"
	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/logger"
	"github.com/zombor/pantry-tracker/internal/reconcile"
	"github.com/zombor/pantry-tracker/internal/scanning"
	"github.com/zombor/pantry-tracker/internal/session"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if cfg != nil {
			fmt.Fprintf(os.Stderr, "%s\n", cfg.Usage())
		}
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("pantry tracker stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	log.Info("initializing database", zap.String("path", cfg.DBPath))
	db, err := inventory.NewBoltDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	scanner, err := newScanner(cfg, log)
	if err != nil {
		return err
	}
	defer scanner.Close()

	log.Info("initializing storage", zap.String("path", cfg.StoragePath))
	photos, err := session.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	defaults, err := reconcile.LoadDefaultsFile(cfg.DefaultsPath)
	if err != nil {
		return fmt.Errorf("loading item defaults: %w", err)
	}
	log.Info("item defaults loaded", zap.Int("entries", defaults.Len()))

	ledger := inventory.NewLedger(db)
	sess := session.New(scanner, ledger, defaults, session.Options{
		Debounce: cfg.Debounce,
		Logger:   logger.Named(log, "session"),
		Metrics:  reconcile.NewMetrics(prometheus.DefaultRegisterer),
	})
	defer sess.Close()

	basicAuth := session.BasicAuth{
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
	}
	server := session.NewServer(sess, ledger, photos, basicAuth, logger.Named(log, "http"))
	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		log.Info("basic auth enabled", zap.String("user", cfg.AuthUser))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("server started", zap.String("address", fmt.Sprintf("http://localhost%s", addr)))
	if err := server.Start(ctx, addr); err != nil {
		return fmt.Errorf("serving http: %w", err)
	}

	log.Info("shutting down")
	return nil
}

func newScanner(cfg *config.Config, log *zap.Logger) (scanning.Scanner, error) {
	switch cfg.ScannerType {
	case config.ScannerGemini:
		log.Info("initializing gemini scanner", zap.String("model", cfg.GeminiModel))
		scanner, err := scanning.NewGemini(cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return scanner, nil
	case config.ScannerOllama:
		log.Info("initializing ollama scanner", zap.String("url", cfg.OllamaURL), zap.String("model", cfg.OllamaModel))
		scanner, err := scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return scanner, nil
	default:
		return nil, fmt.Errorf("invalid scanner type %q", cfg.ScannerType)
	}
}
