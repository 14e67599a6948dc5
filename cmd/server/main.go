package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/switchboard-io/switchboard-api/internal/bus"
	"github.com/switchboard-io/switchboard-api/internal/config"
	"github.com/switchboard-io/switchboard-api/internal/db"
	"github.com/switchboard-io/switchboard-api/internal/httpapi"
	"github.com/switchboard-io/switchboard-api/internal/permission"
	"github.com/switchboard-io/switchboard-api/internal/presence"
	"github.com/switchboard-io/switchboard-api/internal/service/chatservice"
	"github.com/switchboard-io/switchboard-api/internal/store"
	"github.com/switchboard-io/switchboard-api/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	devMode := flag.Bool("dev", false, "dev mode: console logging and X-Debug-User auth")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *devMode {
		cfg.DevMode = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg)

	ctx := context.Background()

	// Durable store first: the service cannot run without it.
	pool, err := db.Open(ctx, cfg.StoreDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}
	if err := st.SeedDefaultRules(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to seed messaging rules")
	}

	// The bus degrades to single-node mode when unreachable.
	b := bus.Connect(ctx, cfg.BusDSN)
	if b.Degraded() {
		log.Warn().Msg("running in single-node mode: no cross-node fanout")
	}

	tracker := presence.NewTracker(b)
	engine := permission.NewEngine(st, cfg.RuleWindow)
	chat := chatservice.New(st, tracker, engine)

	hub := ws.NewHub(b, tracker)
	wsHandler := ws.NewHandler(hub, chat, cfg.IdentityVerifierSecret, cfg.CORSOrigins)

	srv := &httpapi.Server{
		Chat:      chat,
		Store:     st,
		Bus:       b,
		Cfg:       cfg,
		Fanout:    hub,
		WSHandler: wsHandler,
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Reverse dependency order: drain HTTP, close sessions, then the bus,
	// then the store pool.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	hub.Shutdown(shutdownCtx)
	if err := b.Close(); err != nil {
		log.Error().Err(err).Msg("bus close error")
	}
	st.Close()

	log.Info().Msg("server stopped")
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.With().Str("service", "switchboard-api").Logger()
	if cfg.DevMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}
