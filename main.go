package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"project-vinyl/internal/api"
	"project-vinyl/internal/config"
	"project-vinyl/internal/logger"
	"project-vinyl/internal/metadata"
	"project-vinyl/internal/storage"
	"project-vinyl/internal/worker"
)

func main() {
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "vinyl",
		Short: "HTTP server that downloads and transcodes audio from media identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Host, "url", config.DefaultHost, "listen address")
	flags.IntVar(&cfg.Port, "port", config.DefaultPort, "listen port")
	flags.IntVar(&cfg.WorkerCount, "worker-count", 0, "download pool size (0 = one per cpu)")
	flags.IntVar(&cfg.TranscodeWorkerCount, "transcode-thread-count", 0, "transcode pool size (0 = one per cpu)")
	flags.StringVar(&cfg.DownloaderBinary, "downloader-path", "yt-dlp", "downloader binary")
	flags.StringVar(&cfg.TranscoderBinary, "transcoder-path", "ffmpeg", "transcoder binary")
	flags.StringVar(&cfg.DataDir, "data-dir", config.DefaultDataDir, "data directory")
	flags.StringVar(&cfg.StaticDir, "static-dir", config.DefaultStaticDir, "static frontend directory")
	flags.StringVar(&cfg.MetadataAPIKey, "metadata-api-key", os.Getenv("METADATA_API_KEY"), "upstream metadata api key")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	cfg.Normalize()
	if err := cfg.SeedDirectories(); err != nil {
		return err
	}

	log, closeLog, err := logger.New(os.Stdout, cfg.ServerLogPath())
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := storage.Open(cfg.IndexPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Checkpoint(); err != nil {
			log.Warn("wal checkpoint failed", "error", err)
		}
		store.Close()
	}()

	// Rows a previous process left queued or running describe work that
	// no longer exists; heal them before anything can observe them.
	reset, err := store.RecoverStaleRows()
	if err != nil {
		return fmt.Errorf("failed to recover stale rows: %w", err)
	}
	if reset > 0 {
		log.Info("recovered stale index rows", "count", reset)
	}

	coordinator := worker.NewCoordinator(cfg, store, log)
	defer coordinator.Stop()

	meta := metadata.NewClient(cfg.MetadataAPIKey)
	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.NewServer(coordinator, meta, cfg, log).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Addr(),
			"workers", cfg.WorkerCount, "transcode_workers", cfg.TranscodeWorkerCount)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}
