package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/airchainpay/proximityd/internal/api"
	"github.com/airchainpay/proximityd/internal/config"
	"github.com/airchainpay/proximityd/internal/integration"
	"github.com/airchainpay/proximityd/internal/server"
	"github.com/airchainpay/proximityd/internal/storage"
	"github.com/airchainpay/proximityd/internal/subsystem"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/proximityd.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Connect to database
	var store storage.Store
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		store = pg
		log.Info().Msg("Connected to database")
	} else {
		log.Info().Msg("Database not configured, session history is disabled")
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WaitGroup for services
	var wg sync.WaitGroup

	// Optional: connect to NATS
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Server.Name),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				log.Error().
					Err(err).
					Str("subject", sub.Subject).
					Msg("NATS error")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without event bus")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Build the proximity subsystem
	sub, err := subsystem.New(cfg, subsystem.Options{Store: store, NATS: nc})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build proximity subsystem")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sub.Run(ctx)
	}()

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, sub)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("REST API server failed")
			cancel()
		}
	}()

	// Bus consumers need both NATS and the event bus subjects
	if nc != nil {
		if store != nil {
			recorder := server.NewEventRecorder(nc, store)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := recorder.Start(ctx); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("Event recorder stopped")
				}
			}()
		}

		if cfg.MQTT.Enabled || len(cfg.Webhook.URLs) > 0 {
			forwarder := integration.NewForwarder(cfg.MQTT, cfg.Webhook, nc)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := forwarder.Start(ctx); err != nil {
					log.Error().Err(err).Msg("Integration forwarder stopped")
				}
			}()
		}
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-ctx.Done():
	}

	// Cancel context
	cancel()

	// Stop radio activity before the API goes away
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sub.Shutdown(shutdownCtx)

	// Shutdown API server
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("proximityd stopped")
}
