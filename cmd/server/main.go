// Package main is the entry point for the Home Assistant scheduler server.
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

	"github.com/marcelveldt/homeassistant-scheduler/internal/api"
	"github.com/marcelveldt/homeassistant-scheduler/internal/astro"
	"github.com/marcelveldt/homeassistant-scheduler/internal/config"
	"github.com/marcelveldt/homeassistant-scheduler/internal/engine"
	"github.com/marcelveldt/homeassistant-scheduler/internal/homeassistant"
	"github.com/marcelveldt/homeassistant-scheduler/internal/storage"
	"github.com/marcelveldt/homeassistant-scheduler/internal/timespec"
	"github.com/marcelveldt/homeassistant-scheduler/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if *debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading configuration")
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Listen); err != nil {
			logger.Fatal().Err(err).Msg("health check failed")
		}
		os.Exit(0)
	}

	logger.Info().Str("version", version).Msg("starting scheduler")

	location, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("resolving timezone")
	}

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening database")
	}
	defer db.Close()

	if err := storage.RunMigrations(db); err != nil {
		logger.Fatal().Err(err).Msg("running migrations")
	}
	logger.Info().Str("path", db.Path()).Msg("database ready")

	hub := websocket.NewHub(logger)
	go hub.Run()
	broadcaster := websocket.NewEventBroadcaster(hub, logger)

	// The Home Assistant connection is optional. Without it conditions
	// evaluate to inactive and workday tokens stay inert.
	var (
		conditions engine.ConditionEvaluator
		workday    engine.WorkdaySignal
		stream     *homeassistant.EventStream
	)
	if cfg.HAEnabled() {
		haConfig := homeassistant.DefaultConfig()
		haConfig.BaseURL = cfg.HomeAssistant.URL
		if cfg.HomeAssistant.Token != "" {
			haConfig.Token = cfg.HomeAssistant.Token
		}

		haClient := homeassistant.NewClient(haConfig)
		stream = homeassistant.NewEventStream(haConfig, logger)
		stream.Start()

		conditions = homeassistant.NewTemplateConditions(haClient, stream, logger)
		if cfg.HomeAssistant.WorkdayEntity != "" {
			workday = homeassistant.NewWorkdaySensor(haClient, stream, cfg.HomeAssistant.WorkdayEntity, logger)
		}
		logger.Info().Str("url", haConfig.BaseURL).Msg("Home Assistant connection configured")
	} else {
		logger.Warn().Msg("no Home Assistant connection; conditions and workday tokens disabled")
	}

	resolver := timespec.NewResolver(astro.NewProvider(cfg.Latitude, cfg.Longitude), location)
	repo := storage.NewScheduleRepository(db)

	eng := engine.New(repo, resolver, conditions, workday, broadcaster, logger)
	broadcaster.BindActiveList(eng.ActiveSchedules)

	if err := eng.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("starting engine")
	}

	router := api.NewRouter(db, eng, hub, logger)

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Listen).Msg("server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	eng.Stop()
	if stream != nil {
		stream.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown error")
	}

	logger.Info().Msg("server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
