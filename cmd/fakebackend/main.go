package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/voicesafe/internal/config"
	"github.com/skypro1111/voicesafe/internal/fakebackend"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8787", "Listen address")
	appKey := flag.String("app-key", os.Getenv(config.EnvAppKey), "Required bearer token (empty accepts any)")
	samplingRate := flag.Float64("sampling-rate", 0.5, "Published sampling rate")
	silence := flag.Float64("silence-threshold", 0.02, "Published audio silence threshold")
	pulse := flag.Int("pulse-interval", 60, "Published session pulse interval in seconds")
	violationEvery := flag.Int("violation-every", 0, "Flag every Nth upload as a violation (0 never)")
	action := flag.String("action", "mute", "Enforcement action for violations")
	actionMinutes := flag.Int("action-minutes", 5, "Enforcement action length in minutes")
	latency := flag.Duration("latency", 0, "Delay added to each moderation upload")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := config.NewLogger(config.LoggingConfig{Level: *logLevel, Format: "text", Output: "stderr"})

	backend := fakebackend.New(fakebackend.Options{
		AppKey:                      *appKey,
		SamplingRate:                *samplingRate,
		SilenceThreshold:            *silence,
		SessionPulseIntervalSeconds: *pulse,
		PlayerStatsExpiryInDays:     7,
		ViolationEvery:              *violationEvery,
		Action:                      *action,
		ActionMinutes:               *actionMinutes,
		Latency:                     *latency,
		Logger:                      logger,
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      backend.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10*time.Second + *latency,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Fake moderation backend listening",
			slog.String("address", *addr),
			slog.Float64("sampling_rate", *samplingRate),
			slog.Int("violation_every", *violationEvery),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		os.Exit(1)
	}
	logger.Info("Fake moderation backend stopped", slog.Int("uploads", len(backend.Uploads())))
}
