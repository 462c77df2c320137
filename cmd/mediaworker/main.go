package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkprog/poc-mediasoup-room/internal/config"
	"github.com/dkprog/poc-mediasoup-room/internal/domain"
	"github.com/dkprog/poc-mediasoup-room/internal/engine"
	"github.com/dkprog/poc-mediasoup-room/internal/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	eng := engine.NewMemory()
	// A dead engine is unrecoverable in-process; the balancer's health sweep
	// routes around us after we exit.
	eng.OnDied(func() {
		log.Fatal().Msg("media engine died (this should never happen)")
	})

	workerID := domain.WorkerID(uuid.NewString())
	reg := worker.NewRegistry(eng)
	server := worker.NewServer(reg, workerID, cfg.WorkerURL, worker.SampleCPU)

	heartbeat := worker.NewHeartbeat(reg, workerID, cfg.WorkerURL, cfg.LoadBalancerURL, cfg.HeartbeatInterval, cfg.RequestTimeout)
	go heartbeat.Run(ctx)

	r := worker.SetupRouter(cfg, server)
	addr := fmt.Sprintf(":%d", cfg.WorkerPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("worker", string(workerID)).Msg("media worker started")
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
	eng.Close()
	log.Info().Msg("Server exited gracefully")
}
