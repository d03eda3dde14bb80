package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/iliyamo/storefront-identity/internal/config"
	"github.com/iliyamo/storefront-identity/internal/database"
	"github.com/iliyamo/storefront-identity/internal/handler"
	"github.com/iliyamo/storefront-identity/internal/logging"
	"github.com/iliyamo/storefront-identity/internal/metrics"
	"github.com/iliyamo/storefront-identity/internal/middleware"
	"github.com/iliyamo/storefront-identity/internal/notify"
	"github.com/iliyamo/storefront-identity/internal/queue"
	"github.com/iliyamo/storefront-identity/internal/repository"
	"github.com/iliyamo/storefront-identity/internal/router"
	"github.com/iliyamo/storefront-identity/internal/service"
	"github.com/iliyamo/storefront-identity/internal/utils"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Config warnings are emitted before the configured format is known.
	boot := logging.Setup("storefront-identity", version, "json", os.Stderr)
	cfg := config.Load(boot)
	logger := logging.Setup("storefront-identity", version, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser,
		Pass: cfg.DBPass,
		Host: cfg.DBHost,
		Port: cfg.DBPort,
		Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		logger.Warn("redis unreachable, rate limiting disabled", "addr", cfg.Redis.Addr)
	} else {
		defer rdb.Close()
	}

	passwords, err := utils.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := utils.NewTokenIssuer(utils.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return err
	}

	var mailer notify.Mailer
	if cfg.Mail.Host != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host: cfg.Mail.Host,
			Port: cfg.Mail.Port,
			User: cfg.Mail.User,
			Pass: cfg.Mail.Pass,
			From: cfg.Mail.From,
		}, nil, logger)
	} else {
		logger.Warn("SMTP not configured, mail is logged only")
		lm := notify.NewLogMailer(logger)
		lm.RevealTokens = cfg.Env == "dev"
		mailer = lm
	}

	dispatcher := service.OpenDispatcher(ctx, service.DispatcherConfig{
		QueueURL:    cfg.QueueURL,
		MaxAttempts: cfg.NotifyMaxAttempts,
		BackoffBase: cfg.NotifyBackoffBase,
	}, queue.DialAMQP, mailer, logger)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("close notification dispatcher", "error", err)
		}
	}()

	store := repository.NewCredentialStore(db)
	tickets := repository.NewTicketRepo(db)

	auth, err := service.NewAuthService(store, tokens, passwords, mailer, service.AuthConfig{
		VerificationTTL: cfg.VerificationTTL,
	}, logger)
	if err != nil {
		return err
	}
	guard, err := service.NewTicketAccessGuard(passwords)
	if err != nil {
		return err
	}
	ticketSvc := service.NewTicketService(tickets, store, guard, passwords, dispatcher, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request",
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb, logger)
	router.RegisterRoutes(e, &handler.HealthHandler{
		DB:         db,
		NotifyMode: func() string { return string(dispatcher.Mode()) },
	}, reg)
	router.RegisterAuth(e, handler.NewAuthHandler(auth, tokens), tokens, limit)
	router.RegisterTickets(e, handler.NewTicketHandler(ticketSvc), tokens, limit)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env, "notify_mode", dispatcher.Mode())
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
