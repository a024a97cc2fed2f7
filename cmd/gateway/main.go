package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hubenschmidt/live-translator/internal/audio"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()
	var cfgFile string

	root := &cobra.Command{
		Use:          "gateway",
		Short:        "Live transcription and translation gateway",
		Long:         `Serves websocket transcription and translation sessions backed by speech and language APIs.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	serveCmd.Flags().StringP("port", "p", "", "port to listen on")
	v.BindPFlag("gateway_port", serveCmd.Flags().Lookup("port"))

	detectCmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Run the speech gate over an audio file and print the speech segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd.Context(), v, args[0])
		},
	}

	root.AddCommand(serveCmd, detectCmd)
	return root
}

func setupLogging(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func initSentry(cfg config) (flush func()) {
	if cfg.sentryDSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.sentryDSN,
		Environment:      cfg.sentryEnv,
		AttachStacktrace: true,
	})
	if err != nil {
		slog.Warn("sentry init failed", "error", err)
		return func() {}
	}
	slog.Info("sentry initialized", "environment", cfg.sentryEnv)
	return func() { sentry.Flush(2 * time.Second) }
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	setupLogging(os.Stdout, cfg.logLevel)

	flush := initSentry(cfg)
	defer flush()

	collab, err := buildCollaborators(cfg)
	if err != nil {
		sentry.CaptureException(err)
		slog.Error("init collaborators", "error", err)
		return err
	}

	model, closeModel, err := loadSpeechModel(cfg)
	if err != nil {
		slog.Error("init speech model", "error", err)
		return err
	}
	defer closeModel()

	gate, err := audio.NewGate(model, cfg.gate)
	if err != nil {
		return fmt.Errorf("speech gate: %w", err)
	}

	addr := ":" + cfg.port
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHandler(cfg, collab, gate),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway starting", "addr", addr, "max_concurrent", cfg.maxConcurrent)

	if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		return err
	}

	slog.Info("gateway stopped")
	return nil
}

type detectResult struct {
	File       string          `json:"file"`
	SourceRate int             `json:"source_rate"`
	DurationMs int64           `json:"duration_ms"`
	Speech     bool            `json:"speech"`
	Segments   []audio.Segment `json:"segments"`
}

func runDetect(ctx context.Context, v *viper.Viper, path string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	// stdout carries the result
	setupLogging(os.Stderr, cfg.logLevel)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	model, closeModel, err := loadSpeechModel(cfg)
	if err != nil {
		return err
	}
	defer closeModel()

	gate, err := audio.NewGate(model, cfg.gate)
	if err != nil {
		return fmt.Errorf("speech gate: %w", err)
	}

	wave, err := newNormalizer(cfg).Normalize(ctx, data)
	if err != nil {
		return err
	}
	segments, err := gate.Segments(wave)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(detectResult{
		File:       path,
		SourceRate: wave.SourceRate,
		DurationMs: wave.Duration().Milliseconds(),
		Speech:     len(segments) > 0,
		Segments:   segments,
	})
}
