package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/videotube-accounts/internal/config"
	"github.com/iliyamo/videotube-accounts/internal/database"
	"github.com/iliyamo/videotube-accounts/internal/handler"
	"github.com/iliyamo/videotube-accounts/internal/logging"
	"github.com/iliyamo/videotube-accounts/internal/media"
	"github.com/iliyamo/videotube-accounts/internal/middleware"
	"github.com/iliyamo/videotube-accounts/internal/queue"
	"github.com/iliyamo/videotube-accounts/internal/repository"
	"github.com/iliyamo/videotube-accounts/internal/router"
	"github.com/iliyamo/videotube-accounts/internal/service"
	"github.com/iliyamo/videotube-accounts/internal/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Load() // Load environment config; exits on invalid values

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := database.Open(ctx, cfg.Mongo)
	if err != nil {
		log.Fatalf("mongo: %v", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database(cfg.Mongo.Database)
	if err := database.EnsureIndexes(ctx, db); err != nil {
		log.Fatalf("mongo indexes: %v", err)
	}

	rdb := config.NewRedisClient(cfg.Redis) // nil when Redis is unreachable
	if rdb == nil {
		logger.Warn("redis unavailable: local rate limiting, caching disabled", "addr", cfg.Redis.Address())
	} else {
		defer func() { _ = rdb.Close() }()
	}

	host, err := media.NewS3Host(ctx, cfg.Media)
	if err != nil {
		log.Fatalf("media: %v", err)
	}

	// A nil interface, not a nil *queue.Publisher, disables publishing.
	var events service.EventPublisher
	if cfg.Queue.Enabled {
		events = queue.NewPublisher(cfg.Queue.URL, cfg.Queue.PublishTimeout, logger)
		startConsumers(ctx, cfg, host, logger)
	}

	signer := utils.NewSigner(cfg.Tokens.AccessSecret, cfg.Tokens.RefreshSecret, cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL)
	svc := service.NewAccountService(
		repository.NewAccountRepo(db),
		repository.NewSubscriptionRepo(db),
		host,
		utils.BcryptHasher{Cost: cfg.BcryptCost},
		signer,
		events,
		logger,
	)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: cfg.CORSOrigins, AllowCredentials: cfg.CORSAllowCredentials()}))
	e.Use(echomw.BodyLimit(strconv.FormatInt(2*cfg.Media.MaxUploadBytes+1<<20, 10) + "B"))

	router.RegisterRoutes(e, database.Healthcheck(client))
	accounts := handler.NewAccountHandler(svc, cfg.CookieSecure, cfg.RequestTimeout, cfg.Media.UploadTimeout)
	router.RegisterAccounts(e, accounts, svc, cfg, rdb)

	addr := ":" + cfg.Port
	logger.Info("listening", "addr", addr, "env", cfg.Env)

	srvErr := make(chan error, 1)
	go func() { srvErr <- e.Start(addr) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// startConsumers runs the audit log and media reaper consumers until ctx ends.
func startConsumers(ctx context.Context, cfg config.Config, host *media.S3Host, logger *slog.Logger) {
	consumers := map[string]queue.HandlerFunc{
		queue.AccountEventsQueue: queue.AuditLog(cfg.Queue.AuditLogPath),
		queue.MediaOrphanedQueue: queue.MediaReaper(host, cfg.Media.UploadTimeout),
	}
	for name, handle := range consumers {
		go func(name string, handle queue.HandlerFunc) {
			if err := queue.Consume(ctx, cfg.Queue.URL, name, handle, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer stopped", "queue", name, "error", err)
			}
		}(name, handle)
	}
}
