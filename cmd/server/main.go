package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/veilcall/morph/internal/adapters/http"
	"github.com/veilcall/morph/internal/adapters/rtc"
	signalws "github.com/veilcall/morph/internal/adapters/signal"
	"github.com/veilcall/morph/internal/config"
	"github.com/veilcall/morph/internal/domain"
	"github.com/veilcall/morph/internal/relay"
	"github.com/veilcall/morph/internal/store"
	"github.com/veilcall/morph/internal/transform"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	sessions := store.NewMemory()
	rel := relay.New(sessions)

	var resolver transform.Resolver = transform.NewStatic(nil)
	if cfg.RegistryURL != "" {
		resolver = transform.NewHTTPRegistry(cfg.RegistryURL)
	}

	bridge := rtc.NewBridge(sessions, resolver, transform.Passthrough{}, cfg.FrameBudget, cfg.DropThreshold)
	bridge.OnDegraded = func(id domain.SessionID, stream domain.StreamKind) {
		rel.Notify(id, relay.Message{Type: "degraded", Room: id})
	}

	ctl := signalws.NewController(rel, sessions, bridge, cfg.ReadLimit)

	r := router.SetupRouter(ctx, cfg, sessions, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Idle sweep runs outside the per-frame path.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions.SweepIdle(cfg.IdleThreshold)
			}
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Morph relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
