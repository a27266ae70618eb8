package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/voicehub/internal/config"
	"github.com/user/voicehub/internal/store"
	"github.com/user/voicehub/internal/types"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "voicehub",
	Short: "Audio session and context engine",
	Long:  "voicehub manages voice conversations: TTL-governed conversation threads, audio session lifecycles, and live-stream highlight detection.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath,
		"config",
		filepath.Join(os.Getenv("HOME"), ".voicehub", "config.json"),
		"config file path")
}

// loadConfig loads the config file or exits. Commands call this after
// flag parsing so --config is honored.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openStore builds the configured context store backend.
func openStore(ctx context.Context, cfg *config.Config) (types.ContextStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(ctx, cfg.Store.RedisAddr, cfg.Store.RedisDB,
			cfg.DefaultTTL(), cfg.WorkingMemoryTTL())
	case "", "memory":
		return store.NewMemoryStore(cfg.DefaultTTL(), cfg.WorkingMemoryTTL()), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func formatAge(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
