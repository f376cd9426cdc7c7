package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stafftrack/attendance-platform/internal/agent/buffer"
	"github.com/stafftrack/attendance-platform/internal/agent/capture"
	"github.com/stafftrack/attendance-platform/internal/agent/client"
	"github.com/stafftrack/attendance-platform/internal/agent/config"
	"github.com/stafftrack/attendance-platform/internal/agent/syncer"
	"github.com/stafftrack/attendance-platform/internal/models"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Attendance reader agent",
	Long:  "Reads token taps from a capture device and reports them to the central attendance service, buffering locally while offline.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the reader agent",
	RunE:  runAgent,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show offline buffer statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.LogLevel)

	queue, err := buffer.Open(buffer.Config{
		Path:            cfg.Buffer.Path,
		MaxSyncAttempts: cfg.Buffer.MaxSyncAttempts,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer queue.Close()

	deliveryClient := client.New(cfg.API.BaseURL, cfg.Device.APIKey, cfg.APITimeout(), logger)

	coordinator := syncer.New(queue, deliveryClient, syncer.Config{
		Interval:  cfg.SyncInterval(),
		BatchSize: cfg.Sync.BatchSize,
		Logger:    logger,
	})

	source := capture.NewLineTokenSource(os.Stdin)
	defer source.Close()
	loop := capture.New(source, deliveryClient, queue, coordinator, capture.Config{
		DeviceID:     cfg.Device.DeviceID,
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Nightly cleanup of old SYNCED rows; retention is policy, not
	// correctness.
	cleanup := cron.New()
	if _, err := cleanup.AddFunc("0 3 * * *", func() {
		if _, err := queue.CleanupSynced(ctx, cfg.BufferRetention()); err != nil {
			logger.Error("buffer cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule buffer cleanup: %w", err)
	}
	cleanup.Start()
	defer cleanup.Stop()

	logger.Info("reader agent started",
		"device_id", cfg.Device.DeviceID,
		"api_base_url", cfg.API.BaseURL,
		"buffer_path", cfg.Buffer.Path,
		"sync_interval", cfg.SyncInterval(),
	)

	// The capture loop and the sync coordinator run independently; the
	// durable queue is their only shared resource.
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Run(ctx) })
	g.Go(func() error { return loop.Run(ctx) })

	err = g.Wait()
	if err == context.Canceled {
		err = nil
	}

	stats, statsErr := queue.Stats(context.Background())
	if statsErr == nil && stats[models.CapturedEventPending] > 0 {
		logger.Warn("events pending sync; they will be delivered on next startup",
			"pending", stats[models.CapturedEventPending])
	}
	logger.Info("reader agent stopped")
	return err
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	queue, err := buffer.Open(buffer.Config{Path: cfg.Buffer.Path, MaxSyncAttempts: cfg.Buffer.MaxSyncAttempts})
	if err != nil {
		return err
	}
	defer queue.Close()

	stats, err := queue.Stats(context.Background())
	if err != nil {
		return err
	}
	for _, status := range []models.CapturedEventStatus{
		models.CapturedEventPending,
		models.CapturedEventSynced,
		models.CapturedEventFailed,
	} {
		fmt.Printf("%-8s %d\n", status, stats[status])
	}
	return nil
}

func setupLogging(level string) *slog.Logger {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel}))
	slog.SetDefault(logger)
	return logger
}
