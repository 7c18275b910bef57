package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/meshcall/internal/capture"
	"github.com/openmeet/meshcall/internal/config"
	"github.com/openmeet/meshcall/internal/session"
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

	room := os.Getenv("MESHCALL_ROOM")
	if room == "" {
		room = "lobby"
	}
	token := os.Getenv("MESHCALL_TOKEN")

	devices, err := capture.NewMediaDevices()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init capture")
	}

	sess := session.New(cfg, nil, devices, nil)
	sess.OnChange(func() {
		log.Debug().Str("module", "main").Str("state", sess.State().String()).Msg("session changed")
	})

	if err := sess.Connect(ctx, room, token); err != nil {
		log.Fatal().Err(err).Str("room", room).Msg("connect failed")
	}
	log.Info().Str("room", room).Msg("meshcall connecting")

	srv := &http.Server{
		Addr:    cfg.StatusAddr,
		Handler: setupRouter(cfg, sess),
	}
	go func() {
		log.Info().Str("addr", cfg.StatusAddr).Msg("status endpoint started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	sess.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}
	log.Info().Msg("meshcall exited gracefully")
}
