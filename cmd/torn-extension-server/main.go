package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/config"
	"github.com/wiber2065939-droid/torn-extension-server/internal/database"
	httpapi "github.com/wiber2065939-droid/torn-extension-server/internal/http"
	"github.com/wiber2065939-droid/torn-extension-server/internal/logger"
	"github.com/wiber2065939-droid/torn-extension-server/internal/repository"
	"github.com/wiber2065939-droid/torn-extension-server/internal/service"
	"github.com/wiber2065939-droid/torn-extension-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "torn-extension-server")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("Starting torn-extension-server",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Int("race_window_seconds", cfg.Claims.RaceWindowSeconds),
		zap.Int("allowed_factions", len(cfg.Licensing.AllowedFactions)),
	)

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Redis only backs caching and rate limiting; degrade, don't die.
		log.Warn("Redis unreachable, continuing without it", zap.Error(err))
	}
	cancel()

	claimsRepo := repository.NewPostgresClaimsRepository(db, log)
	factionRepo := repository.NewPostgresFactionRepository(db, log)

	claimService := service.NewClaimService(claimsRepo, cfg.Claims, log)
	settingsService := service.NewSettingsService(
		factionRepo,
		store.NewRedisKV(redisClient),
		time.Duration(cfg.Monitor.ConfigCacheTTL)*time.Second,
		cfg.Settings.GodUserID,
		log,
	)

	var monitorService service.MonitorService
	if cfg.Monitor.Enabled {
		torn := service.NewTornClient(cfg.Monitor.TornAPIBase, cfg.Monitor.TornAPIKey, log)
		discord := service.NewDiscordClient(log)
		monitorService = service.NewMonitorService(factionRepo, torn, discord, cfg.Licensing.AllowedFactions, log)
	}

	limiter := store.NewRateLimiter(redisClient, "ratelimit:validate:",
		cfg.RateLimit.MaxAttempts,
		time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute,
	)

	router := httpapi.NewRouter(log)
	router.RegisterAlertRoutes(httpapi.NewAlertClaimHandler(claimService, cfg.Claims.MaxCooldownMinutes, log))
	router.RegisterSettingsRoutes(httpapi.NewSettingsHandler(settingsService, cfg.Licensing.AllowedFactions, log))
	router.RegisterValidateRoutes(httpapi.NewValidateHandler(cfg.Licensing.AllowedFactions, cfg.Licensing.Licenses, limiter, log))
	router.RegisterCronRoutes(httpapi.NewCronHandler(claimService, monitorService, cfg.Cron.Secret, log))
	router.RegisterHealthRoute()

	server := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("HTTP server failed", zap.Error(err))
	case sig := <-quit:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}

	log.Info("torn-extension-server stopped")
}
