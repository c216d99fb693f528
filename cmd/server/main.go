package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/dumpvoice/internal/adapters/http"
	"github.com/dkeye/dumpvoice/internal/adapters/rtc"
	wssignal "github.com/dkeye/dumpvoice/internal/adapters/signal"
	"github.com/dkeye/dumpvoice/internal/app"
	"github.com/dkeye/dumpvoice/internal/app/orch"
	"github.com/dkeye/dumpvoice/internal/config"
	"github.com/dkeye/dumpvoice/internal/core"
	"github.com/dkeye/dumpvoice/internal/identity"
	"github.com/dkeye/dumpvoice/internal/metrics"
	"github.com/dkeye/dumpvoice/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Mode, cfg.LogLevel, os.Stderr)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

// setupLogger writes JSON lines in release mode and console output otherwise.
func setupLogger(mode, level string, w io.Writer) {
	if mode == "release" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil && level != "" {
		zerolog.SetGlobalLevel(lvl)
	}
}

func openDirectory(ctx context.Context, cfg *config.Config) (store.Directory, func(), error) {
	switch cfg.Store.Driver {
	case "mysql":
		db, err := store.OpenMySQL(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		mem, err := store.NewMemoryFromSeed(cfg.Store.Seed)
		if err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dir, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer closeDir()

	policy, err := app.PolicyFromName(cfg.BackpressurePolicy)
	if err != nil {
		return err
	}

	var device core.AudioDevice
	if cfg.Audio.Enabled {
		device = rtc.NewTrackDevice(cfg.Audio.SampleDuration, cfg.Audio.MaxStreams)
	}

	m := metrics.New()
	o := orch.New(device, policy, cfg.RelayToSender, m)
	gate := identity.NewGate(cfg.JWTSecret, cfg.TokenTTL, dir)
	limiter := wssignal.NewHandshakeLimiter(cfg.HandshakeLimit, cfg.HandshakeInterval)
	ctl := wssignal.NewSignalWSController(o, gate, limiter, m, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
		StunURLs:   cfg.StunURLs,
	})

	r := router.SetupRouter(ctx, cfg, ctl, m)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		interval := cfg.HandshakeInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		o.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		o.Release()
		return nil
	})
	return g.Wait()
}
