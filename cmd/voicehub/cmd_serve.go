package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/voicehub/internal/audio"
	"github.com/user/voicehub/internal/pipeline"
	promptpkg "github.com/user/voicehub/internal/prompt"
	"github.com/user/voicehub/internal/session"
	"github.com/user/voicehub/internal/stream"
	"github.com/user/voicehub/internal/sweeper"
	"github.com/user/voicehub/internal/types"
	"github.com/user/voicehub/pkg/speech"
	"github.com/user/voicehub/pkg/speech/httpapi"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the voicehub daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "voicehub.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Context store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	// Speech capabilities
	client := httpapi.New(&speech.Config{
		BaseURL:         cfg.Speech.BaseURL,
		APIKey:          cfg.Speech.APIKey,
		ConfidenceFloor: cfg.Speech.ConfidenceFloor,
	})

	// Highlight coordinator
	coordinator := stream.NewCoordinator(stream.Config{
		HighlightThreshold: cfg.Stream.HighlightThreshold,
		WindowRetention:    cfg.WindowRetention(),
		ClipPreMargin:      cfg.ClipPreMargin(),
		ClipPostMargin:     cfg.ClipPostMargin(),
		RecencyWeight:      cfg.Stream.RecencyWeight,
		KeywordWeights:     cfg.Stream.KeywordWeights,
		MaxConcurrent:      int64(cfg.MaxConcurrentStreams),
	}, slog.Default())
	defer coordinator.Close()

	// Scoring window for the daemon's own live line
	streamID := types.NewStreamID()
	if err := coordinator.StartStream(streamID); err != nil {
		return fmt.Errorf("start stream window: %w", err)
	}
	defer coordinator.EndStream(streamID)

	// Prompt assembly
	engine, err := promptpkg.New(cfg.Prompt.Model, cfg.Prompt.MaxContextTokens, cfg.Prompt.OutputReserve, cfg.Prompt.MaxMessages)
	if err != nil {
		return fmt.Errorf("create prompt engine: %w", err)
	}

	// Session registry and the local loopback line
	registry := session.NewRegistry()
	transport := audio.NewLoopback("loopback")
	defer transport.Close()

	// Utterance pipeline, replying through the creative endpoint
	pipe := pipeline.New(st, client, client, coordinator)
	pipe.EnableReplies(engine, client, client, transport, func() string {
		return coordinator.Insight(streamID)
	})
	pipe.Start(ctx)
	defer pipe.Stop()

	sess := session.New(transport, registry, st, client, client, session.Config{
		ResponseTimeout: cfg.ResponseTimeout(),
		IdleTimeout:     cfg.IdleTimeout(),
		SilenceGap:      cfg.SilenceGap(),
		UtteranceBuffer: cfg.Session.UtteranceBuffer,
	})
	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect session: %w", err)
	}
	defer sess.Disconnect()

	go func() {
		err := sess.StartConversationLoop(ctx, func(_ context.Context, frames []audio.Frame, threadID types.ThreadID) {
			if err := pipe.HandleUtterance(threadID, frames, pipeline.WithStream(streamID)); err != nil {
				slog.Warn("utterance dropped", "thread_id", threadID, "error", err)
			}
		})
		if err != nil {
			slog.Error("conversation loop ended", "error", err)
		}
	}()

	// TTL sweeper
	if sw, ok := st.(sweeper.Store); ok {
		s := sweeper.New(sw, cfg.SweepSchedule, slog.Default())
		if err := s.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
		defer s.Stop()
	}

	slog.Info("voicehub started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"store_backend", cfg.Store.Backend,
		"max_concurrent_streams", cfg.MaxConcurrentStreams,
		"stream_id", string(streamID),
		"speech_base_url", cfg.Speech.BaseURL,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
