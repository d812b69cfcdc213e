package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusbook/internal/api"
	"campusbook/internal/catalog"
	"campusbook/internal/config"
	"campusbook/internal/database"
	"campusbook/internal/domain"
	"campusbook/internal/events"
	"campusbook/internal/export"
	"campusbook/internal/logging"
	"campusbook/internal/metrics"
	"campusbook/internal/mq"
	"campusbook/internal/notify"
	"campusbook/internal/repository"
	"campusbook/internal/service"
	"campusbook/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "", "path to config file (defaults to $CONFIG_PATH or configs/config.yaml)")
	pflag.Parse()

	cfg, logger, closer, err := loadConfigAndLogger(*configPath)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer flushTracing(shutdownTracing, logger)

	db, err := database.NewDB(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	cat, err := catalog.New(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	state, stateCloser := initStateRepository(ctx, cfg, logger)
	defer (func() { _ = stateCloser.Close() })()

	bus := events.NewEventBus(logger)
	publisherCloser := initEventConsumers(cfg, bus, logger)
	defer (func() { _ = publisherCloser.Close() })()

	invitations := service.NewInvitationService(db, state, initNotifier(cfg, logger), bus, service.InvitationOptions{
		RateLimit:       cfg.Invitations.RateLimit,
		RateLimitWindow: cfg.Invitations.RateLimitWindow,
	}, logger)
	booking := service.NewBookingService(db, cat, invitations, bus, logger)
	users := service.NewUserService(db, logger)

	deps := api.Dependencies{
		Booking:      booking,
		Invitations:  invitations,
		Users:        users,
		Health:       db,
		MaxRangeDays: cfg.Exports.MaxRangeDays,
	}
	if sheets := initSheets(ctx, cfg, logger); sheets != nil {
		deps.Sheets = sheets
	}

	startMetrics(ctx, cfg, logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, booking, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, deps, logger)
	}

	return startServers(ctx, grpcServer, httpServer, logger)
}

func loadConfigAndLogger(flagPath string) (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := flagPath
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

// initStateRepository prefers Redis and falls back to process memory when Redis
// is unset or unreachable.
func initStateRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.StateRepository, io.Closer) {
	memory := repository.NewMemoryStateRepository()
	if cfg.Redis.Address == "" {
		logger.Info().Msg("redis not configured, using in-memory rate limits")
		return memory, io.NopCloser(nil)
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, starting on in-memory rate limits")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return repository.NewFailoverStateRepository(repository.NewRedisStateRepository(client), memory, logger), client
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	if !cfg.SMTP.Enabled {
		logger.Info().Msg("smtp disabled, invitation emails are only logged")
		return notify.NewLogNotifier(logger)
	}
	return notify.NewEmailNotifier(cfg.SMTP, cfg.App.BaseURL, logger)
}

// initEventConsumers attaches the optional AMQP forwarder and Telegram desk alerts.
func initEventConsumers(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) io.Closer {
	var closer io.Closer = io.NopCloser(nil)

	if cfg.AMQP.Enabled {
		publisher, err := mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("amqp init failed, continuing without event publishing")
		} else {
			publisher.Subscribe(bus)
			closer = publisher
			logger.Info().Str("exchange", cfg.AMQP.Exchange).Msg("amqp publisher connected")
		}
	}

	if cfg.Telegram.Enabled {
		bot, err := notify.NewBotAPI(cfg.Telegram.BotToken, cfg.Telegram.Debug)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without desk alerts")
		} else {
			notify.NewDeskAlerts(bot, cfg.Telegram.ChatID, logger).Subscribe(bus)
		}
	}

	return closer
}

func initSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.SheetsWriter {
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		return nil
	}

	sheets, err := export.NewSheetsWriter(ctx, cfg.Google.CredentialsFile, cfg.Google.SpreadsheetID, cfg.Google.SheetName, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}

	logger.Info().Msg("google sheets connected")
	return sheets
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(ctx context.Context, grpcServer *api.GRPCServer, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	if grpcServer == nil && httpServer == nil {
		return errors.New("both HTTP and gRPC APIs are disabled")
	}

	errCh := make(chan error, 2)
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}
	if httpServer != nil {
		go func() {
			if err := httpServer.Start(); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
	}

	logger.Info().Msg("campusbook stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func flushTracing(shutdown tracing.ShutdownFunc, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("flush traces")
	}
}
