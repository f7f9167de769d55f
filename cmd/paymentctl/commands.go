package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stkpay/golang_services/internal/payment_service/adapters/queue"
	"github.com/stkpay/golang_services/internal/payment_service/app"
	"github.com/stkpay/golang_services/internal/payment_service/bootstrap"
	"github.com/stkpay/golang_services/internal/payment_service/domain"
	"github.com/stkpay/golang_services/internal/payment_service/middleware"
	"github.com/stkpay/golang_services/internal/payment_service/repository/memory"
	"github.com/stkpay/golang_services/internal/platform/config"
	"github.com/stkpay/golang_services/internal/platform/logger"
)

const appName = "paymentctl"

// env is what every command needs: configuration, a logger and the stores.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	stores *bootstrap.Stores
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(slog.Default())
	if err != nil {
		return nil, err
	}
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text").With("service", appName)
	stores, err := bootstrap.OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: log, stores: stores}, nil
}

// replayService publishes to JetStream when QUEUE_DRIVER=nats and otherwise runs the
// reprocessor inline.
func (e *env) replayService(ctx context.Context) (*app.ReplayService, func(), error) {
	if e.cfg.QueueDriver == "nats" {
		client, err := bootstrap.OpenBroker(ctx, e.cfg, appName, e.logger)
		if err != nil {
			return nil, nil, err
		}
		q := bootstrap.NatsQueue(client, e.cfg, e.logger)
		return app.NewReplayService(e.stores.Transactions, q, e.logger, nil), client.Close, nil
	}
	transitions := app.NewTransitioner(e.stores.Transactions, e.logger, nil)
	reprocessor := app.NewReprocessor(transitions, memory.NewDeadLetterSink(e.logger), bootstrap.RetryPolicy(e.cfg), e.logger, nil)
	return app.NewReplayService(e.stores.Transactions, queue.NewInlineQueue(reprocessor), e.logger, nil), func() {}, nil
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and export pending transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.stores.Close()

			dir, _ := cmd.Flags().GetString("export-dir")
			if dir == "" {
				dir = e.cfg.ReconcileExportDir
			}
			staleAfter, _ := cmd.Flags().GetDuration("stale-after")
			if staleAfter <= 0 {
				staleAfter = e.cfg.ReconcileStaleAfter
			}

			sweeper := app.NewSweeper(e.stores.Transactions, app.NewCSVReportWriter(dir, e.logger), staleAfter, e.logger, nil)
			report, err := sweeper.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending: %d\nstale:   %d\n", report.Pending, report.Stale)
			if report.ReportPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "report:  %s\n", report.ReportPath)
			}
			return nil
		},
	}
	cmd.Flags().String("export-dir", "", "Directory for the CSV report (default RECONCILE_EXPORT_DIR)")
	cmd.Flags().Duration("stale-after", 0, "Age after which a pending transaction is stale (default RECONCILE_STALE_AFTER)")
	return cmd
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay [checkout-request-id]",
		Short: "Replay a success callback for a checkout request id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReplay(cmd, func(ctx context.Context, s *app.ReplayService) (*domain.CallbackMessage, error) {
				return s.ReplayCheckout(ctx, args[0])
			})
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [transaction-id]",
		Short: "Replay the callback for a transaction's checkout request id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction id: %w", err)
			}
			return withReplay(cmd, func(ctx context.Context, s *app.ReplayService) (*domain.CallbackMessage, error) {
				return s.RetryTransaction(ctx, id)
			})
		},
	}
}

func withReplay(cmd *cobra.Command, fn func(context.Context, *app.ReplayService) (*domain.CallbackMessage, error)) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.stores.Close()

	svc, closeQueue, err := e.replayService(ctx)
	if err != nil {
		return err
	}
	defer closeQueue()

	msg, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "replayed: message %s\n", msg.ID)
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token for the replay and admin routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(slog.Default())
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := middleware.IssueOperatorToken(cfg.OperatorJWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "operator", "Token subject")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}
