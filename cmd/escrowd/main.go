package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/p2pescrow/internal/auth"
	"github.com/efreitasn/p2pescrow/internal/config"
	"github.com/efreitasn/p2pescrow/internal/domain"
	"github.com/efreitasn/p2pescrow/internal/engine"
	"github.com/efreitasn/p2pescrow/internal/handler"
	"github.com/efreitasn/p2pescrow/internal/ledger"
	"github.com/efreitasn/p2pescrow/internal/metrics"
	"github.com/efreitasn/p2pescrow/internal/outbox"
	"github.com/efreitasn/p2pescrow/internal/service"
	"github.com/efreitasn/p2pescrow/internal/store"
	"github.com/efreitasn/p2pescrow/internal/token"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("escrowd stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Contracts share one host so token movements roll back with the escrow call.
	host := ledger.NewHost()
	tok := token.NewLedger(host, token.Metadata{
		Address:  cfg.TokenAddress,
		Symbol:   cfg.TokenSymbol,
		Decimals: cfg.TokenDecimals,
		Minter:   cfg.TokenMinterAddress,
	})
	reg := metrics.New()
	events := outbox.NewLog()
	eng := engine.New(host, cfg.EscrowAddress, tok, events,
		engine.WithRecorder(reg),
		engine.WithLogger(logger),
	)

	if err := bootstrap(ctx, eng, cfg); err != nil {
		return fmt.Errorf("bootstrap escrow: %w", err)
	}

	// Sinks: webhooks always, archive and bus when configured.
	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), cfg.WebhookTimeout, logger)
	sinks := []outbox.Sink{webhookSvc}

	if cfg.PostgresDSN != "" {
		archive, err := outbox.NewPostgresArchive(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres archive: %w", err)
		}
		defer archive.Close()
		sinks = append(sinks, archive)
		logger.Info("postgres event archive enabled")
	}

	if cfg.NATSURL != "" {
		publisher, err := outbox.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Name("escrowd"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("nats flush on close failed", slog.String("error", err.Error()))
			}
		}()
		sinks = append(sinks, publisher)
		logger.Info("nats event publisher enabled", slog.String("prefix", cfg.NATSSubjectPrefix))
	}

	relay := outbox.NewRelay(events, sinks,
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithBatchSize(cfg.RelayBatchSize),
		outbox.WithRelayLogger(logger),
		outbox.WithDeliveryRecorder(reg),
	)

	if cfg.AuthMode == string(auth.ModeHeader) {
		logger.Warn("AUTH_MODE=header trusts X-Signer-Address without a signature")
	}
	verifier := &auth.Verifier{Mode: auth.Mode(cfg.AuthMode), MaxSkew: cfg.AuthMaxSkew}
	router := handler.NewRouter(eng, tok, webhookSvc, verifier, reg.Handler(), logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr), slog.String("escrow", eng.Address().Hex()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return relay.Run(gctx)
	})

	// Graceful shutdown: stop HTTP server, then hand the sinks what committed
	// before it stopped.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.String("error", err.Error()))
		}
		if err := relay.Flush(shutdownCtx); err != nil {
			logger.Warn("final event flush incomplete", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}

// bootstrap initializes the escrow as the configured admin and applies the
// configured fee and limits where they differ from the defaults.
func bootstrap(ctx context.Context, eng *engine.Engine, cfg *config.Config) error {
	adminCtx := auth.WithPrincipal(ctx, cfg.AdminAddress)

	if err := eng.Initialize(adminCtx, cfg.AdminAddress, cfg.TokenAddress, cfg.FeeCollectorAddress); err != nil {
		return err
	}
	if cfg.FeeRateBps != domain.DefaultFeeRate {
		if _, err := eng.UpdateFeeRate(adminCtx, cfg.FeeRateBps); err != nil {
			return err
		}
	}
	if cfg.MinTradeAmount != domain.DefaultMinTradeAmount || cfg.MaxTradeAmount != domain.DefaultMaxTradeAmount {
		if _, err := eng.UpdateTradeLimits(adminCtx, cfg.MinTradeAmount, cfg.MaxTradeAmount); err != nil {
			return err
		}
	}
	if !cfg.MinExchangeRate.Equal(domain.DefaultMinExchangeRate) || !cfg.MaxExchangeRate.Equal(domain.DefaultMaxExchangeRate) {
		if _, err := eng.UpdateRateBounds(adminCtx, cfg.MinExchangeRate, cfg.MaxExchangeRate); err != nil {
			return err
		}
	}
	return nil
}
