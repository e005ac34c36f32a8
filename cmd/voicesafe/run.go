package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/voicesafe/internal/config"
	"github.com/skypro1111/voicesafe/internal/fakebackend"
	"github.com/skypro1111/voicesafe/internal/metrics"
	"github.com/skypro1111/voicesafe/internal/server"
	"github.com/skypro1111/voicesafe/pkg/voicesafe"
)

type runOptions struct {
	duration       time.Duration
	continuous     bool
	localBackend   bool
	violationEvery int
	blurEvery      time.Duration
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the SDK in a simulated host loop",
		Long:  "Drives the SDK from a ticker the way a game loop would, with the configured capture source and an optional in-process backend.\nStops on Ctrl+C or after --duration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("continuous") {
				cfg.Recording.Continuous = opts.continuous
			}
			return runHost(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&opts.continuous, "continuous", false, "Record back to back, ignoring the sampling rate")
	cmd.Flags().BoolVar(&opts.localBackend, "local-backend", false, "Serve an in-memory moderation backend and point the SDK at it")
	cmd.Flags().IntVar(&opts.violationEvery, "violation-every", 3, "With --local-backend, flag every Nth upload")
	cmd.Flags().DurationVar(&opts.blurEvery, "blur-every", 0, "Toggle host focus at this interval (0 keeps focus)")

	return cmd
}

func runHost(parent context.Context, cfg *config.Config, opts *runOptions) error {
	logger := config.NewLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
	)

	if cfg.Player.UserID == "" {
		cfg.Player.UserID = "player-" + uuid.NewString()[:8]
	}
	if cfg.Player.RoomID == "" {
		cfg.Player.RoomID = "room-local"
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	var backendServer *http.Server
	if opts.localBackend {
		srv, url, err := startLocalBackend(cfg, opts, logger)
		if err != nil {
			return err
		}
		backendServer = srv
		cfg.API.BaseURL = url
	}

	if err := requireAppKey(cfg); err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("base_url", cfg.API.BaseURL),
		slog.String("source", cfg.Audio.Source),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("target_duration", cfg.Recording.TargetDuration),
		slog.Float64("default_intermission", cfg.Policy.DefaultIntermission),
		slog.Duration("tick_interval", cfg.Recording.GetTickInterval()),
		slog.String("user_id", cfg.Player.UserID),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(nil)

	sdk, err := voicesafe.New(cfg, voicesafe.Options{
		Permission: voicesafe.PermissionFunc(func() bool { return true }),
		Telemetry:  voicesafe.TelemetryFunc(cfg.Player.Telemetry),
		OnAction: func(a voicesafe.ActionItem, serverTime time.Time) {
			logger.Warn("Enforcement action received",
				slog.String("action", a.Action),
				slog.Int("duration_minutes", a.DurationInMinutes),
				slog.String("reason", a.Reason),
				slog.Time("effective_until", a.EffectiveUntil),
			)
		},
		Logger:  logger,
		Metrics: appMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create SDK: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sdk, appMetrics, serviceVersion)
		if err := httpServer.Start(); err != nil {
			sdk.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// The SDK is driven from this goroutine only.
	g.Go(func() error {
		return hostLoop(gctx, sdk, cfg.Recording.GetTickInterval(), opts.blurEvery, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if httpServer != nil {
			if err := httpServer.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("status server: %w", err))
			}
		}
		if backendServer != nil {
			if err := backendServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("local backend: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	runErr := g.Wait()
	if err := sdk.Close(); err != nil {
		logger.Error("Error closing SDK", slog.String("error", err.Error()))
	}

	snap := sdk.Snapshot()
	presence := sdk.PresenceStats()
	logger.Info("Final statistics",
		slog.Uint64("ticks", snap.Ticks),
		slog.Uint64("windows_started", snap.Counters.WindowsStarted),
		slog.Uint64("windows_flushed", snap.Counters.WindowsFlushed),
		slog.Uint64("discarded_silent", snap.Counters.DiscardedSilent),
		slog.Uint64("uploads_succeeded", snap.Counters.UploadsSucceeded),
		slog.Uint64("uploads_failed", snap.Counters.UploadsFailed),
		slog.Uint64("actions_forwarded", snap.Counters.ActionsForwarded),
		slog.Uint64("session_pulses", presence.Pulses),
	)

	logger.Info("Service stopped")
	return runErr
}

func hostLoop(ctx context.Context, sdk *voicesafe.SDK, interval, blurEvery time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var blur <-chan time.Time
	if blurEvery > 0 {
		t := time.NewTicker(blurEvery)
		defer t.Stop()
		blur = t.C
	}

	focused := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-blur:
			focused = !focused
			logger.Info("Host focus changed", slog.Bool("focused", focused))
			sdk.SetFocus(focused)
		case <-ticker.C:
			sdk.Tick()
		}
	}
}

func startLocalBackend(cfg *config.Config, opts *runOptions, logger *slog.Logger) (*http.Server, string, error) {
	if cfg.API.AppKey == "" {
		cfg.API.AppKey = "local-" + uuid.NewString()
	}

	backend := fakebackend.New(fakebackend.Options{
		AppKey:                      cfg.API.AppKey,
		SamplingRate:                0.5,
		SilenceThreshold:            float64(cfg.Policy.SilenceThreshold),
		SessionPulseIntervalSeconds: cfg.Policy.SessionPulseInterval,
		PlayerStatsExpiryInDays:     7,
		ViolationEvery:              opts.violationEvery,
		Logger:                      logger,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("failed to start local backend: %w", err)
	}
	srv := &http.Server{
		Handler:      backend.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Local backend error", slog.String("error", err.Error()))
		}
	}()

	url := "http://" + ln.Addr().String()
	logger.Info("Local moderation backend listening", slog.String("url", url))
	return srv, url, nil
}
