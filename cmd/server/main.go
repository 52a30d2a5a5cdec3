// Command server runs the newsletter backend: the HTTP API (subscriptions
// and idempotent publishing) plus the background delivery workers that drain
// the issue delivery queue.
//
// Startup order:
//  1. Load .env (best effort) and configuration from the environment
//  2. Configure zerolog (level, optional pretty console output)
//  3. Initialize OpenTelemetry tracing (optional, config-driven)
//  4. Open SQLite and run migrations
//  5. Start the delivery worker pool
//  6. Register routes and serve HTTP with graceful shutdown
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ntavlas/go-newsletter-backend/internal/config"
	"github.com/ntavlas/go-newsletter-backend/internal/domain"
	"github.com/ntavlas/go-newsletter-backend/internal/email"
	httpapi "github.com/ntavlas/go-newsletter-backend/internal/http"
	"github.com/ntavlas/go-newsletter-backend/internal/observability"
	"github.com/ntavlas/go-newsletter-backend/internal/repo"
	"github.com/ntavlas/go-newsletter-backend/internal/sysutil"
	"github.com/ntavlas/go-newsletter-backend/internal/worker"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	sender, err := domain.ParseEmail(cfg.Mailer.SenderEmail)
	if err != nil {
		log.Fatal().Err(err).Msg("MAILER_SENDER_EMAIL is not a valid address")
	}
	mailer := email.NewClient(cfg.Mailer.BaseURL, sender, cfg.Mailer.AuthToken, cfg.Mailer.Timeout)

	// Delivery worker pool: drains the issue delivery queue independently of
	// the request path.
	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Count; i++ {
		w := &worker.DeliveryWorker{
			DB:            db,
			Mailer:        mailer,
			Name:          workerName(i),
			PollInterval:  cfg.Worker.PollInterval,
			ErrorBackoff:  cfg.Worker.ErrorBackoff,
			LeaseDuration: cfg.Worker.LeaseDuration,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, mailer, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// Workers stop on ctx cancellation; wait for in-flight tasks to settle.
	wg.Wait()
	log.Info().Msg("stopped")
}

func workerName(i int) string {
	return "delivery-" + strconv.Itoa(i)
}
