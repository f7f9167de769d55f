package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/stkpay/golang_services/internal/payment_service/adapters/http"
	"github.com/stkpay/golang_services/internal/payment_service/adapters/queue"
	"github.com/stkpay/golang_services/internal/payment_service/app"
	"github.com/stkpay/golang_services/internal/payment_service/bootstrap"
	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
	"github.com/stkpay/golang_services/internal/platform/config"
	"github.com/stkpay/golang_services/internal/platform/logger"
	"github.com/stkpay/golang_services/internal/platform/messagebroker"
)

const serviceName = "payment-service"

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(slog.Default())
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}
	appLogger := logger.New(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	appLogger.Info("Payment service starting...",
		"http_port", cfg.HTTPPort,
		"metrics_port", cfg.MetricsPort,
		"store_driver", cfg.StoreDriver,
		"queue_driver", cfg.QueueDriver,
		"gateway_driver", cfg.GatewayDriver,
	)

	stores, err := bootstrap.OpenStores(mainCtx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to open store", "error", err)
		return err
	}
	defer stores.Close()

	gateway, err := bootstrap.NewGateway(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize payment gateway", "error", err)
		return err
	}

	transitions := app.NewTransitioner(stores.Transactions, appLogger, nil)

	// The reprocessor's dead-letter sink and the ingestor's queue depend on QUEUE_DRIVER.
	var (
		callbackQueue domain.CallbackQueue
		deadLetters   domain.DeadLetterSink
		natsClient    *messagebroker.NatsClient
		pool          *app.WorkerPool
	)
	if cfg.QueueDriver == "nats" {
		natsClient, err = bootstrap.OpenBroker(mainCtx, cfg, serviceName, appLogger)
		if err != nil {
			appLogger.Error("Failed to connect to NATS", "error", err)
			return err
		}
		defer natsClient.Close()
		natsQueue := bootstrap.NatsQueue(natsClient, cfg, appLogger)
		callbackQueue, deadLetters = natsQueue, natsQueue
	} else {
		deadLetters = memory.NewDeadLetterSink(appLogger)
	}
	reprocessor := app.NewReprocessor(transitions, deadLetters, bootstrap.RetryPolicy(cfg), appLogger, nil)
	if callbackQueue == nil {
		pool = app.NewWorkerPool(cfg.ReprocessQueueSize, reprocessor, appLogger)
		pool.Start(cfg.ReprocessWorkers)
		callbackQueue = pool
	}

	initiator := app.NewInitiator(stores.Transactions, gateway, transitions, bootstrap.InitiatorConfig(cfg), appLogger, nil)
	ingestor := app.NewCallbackIngestor(transitions, stores.CallbackLogs, callbackQueue, appLogger, nil)
	replay := app.NewReplayService(stores.Transactions, callbackQueue, appLogger, nil)
	sweeper := app.NewSweeper(stores.Transactions, app.NewCSVReportWriter(cfg.ReconcileExportDir, appLogger), cfg.ReconcileStaleAfter, appLogger, nil)

	scheduler, err := sweeper.Schedule(cfg.ReconcileSchedule, cfg.ReconcileTimeout)
	if err != nil {
		appLogger.Error("Failed to schedule reconciliation", "error", err)
		return err
	}

	handler := httpadapter.NewPaymentHandler(initiator, ingestor, replay, stores.Transactions, validator.New(), appLogger)
	if cfg.OperatorJWTSecret == "" {
		appLogger.Warn("OPERATOR_JWT_SECRET is empty; replay and admin routes are unauthenticated")
	}
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      httpadapter.NewRouter(handler, httpadapter.RouterConfig{OperatorSecret: cfg.OperatorJWTSecret}, appLogger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("HTTP server shut down gracefully.")
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Metrics HTTP server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Metrics HTTP server ListenAndServe error", "error", err)
			return err
		}
		appLogger.Info("Metrics HTTP server shut down gracefully.")
		return nil
	})

	if natsClient != nil {
		consumer := queue.NewCallbackConsumer(groupCtx, reprocessor, cfg.ReprocessInitialBackoff, appLogger)
		g.Go(func() error {
			return natsClient.Consume(groupCtx, messagebroker.ConsumerConfig{
				Stream:        cfg.NATSStream,
				Durable:       cfg.NATSConsumer,
				FilterSubject: cfg.NATSCallbackSubject,
				AckWait:       cfg.NATSAckWait,
				MaxDeliver:    cfg.NATSMaxDeliver,
			}, consumer.HandleMsg)
		})
	}

	scheduler.Start()

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)

	g.Go(func() error {
		select {
		case sig := <-stopSignal:
			appLogger.Info("Received termination signal", "signal", sig.String())
			mainCancel()
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Initiating graceful shutdown...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancelShutdown()

		var shutdownErrors error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("http shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics HTTP server graceful shutdown failed", "error", err)
			shutdownErrors = errors.Join(shutdownErrors, fmt.Errorf("metrics http shutdown: %w", err))
		}

		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			appLogger.Warn("Reconciliation pass still running at shutdown")
		}

		if pool != nil {
			if err := pool.Shutdown(shutdownCtx); err != nil {
				appLogger.Warn("Worker pool did not drain before shutdown timeout", "error", err)
			}
		}
		return shutdownErrors
	})

	appLogger.Info("Payment service is ready and running.")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service group encountered an error during run/shutdown", "error", err)
		return err
	}
	appLogger.Info("Payment service shut down successfully.")
	return nil
}
