package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"

	notification "github.com/dmehra2102/course-payments/internal/notification/domain"
	notificationpg "github.com/dmehra2102/course-payments/internal/notification/infrastructure/postgres"
	"github.com/dmehra2102/course-payments/internal/payment/domain"
	paymentgrpc "github.com/dmehra2102/course-payments/internal/payment/infrastructure/grpc"
	pg "github.com/dmehra2102/course-payments/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/course-payments/pkg/config"
	"github.com/dmehra2102/course-payments/pkg/logging"
)

func connect(ctx context.Context) (*pgxpool.Pool, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return nil, cfg, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the payment and notification schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("payment schema: %w", err)
			}
			if err := notificationpg.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("notification schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schemas applied")
			return nil
		},
	}
}

func reviewsCmd() *cobra.Command {
	var (
		all   bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "List notifications that could not be applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, cfg, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rows, err := pg.NewRepository(logging.New(cfg.LogLevel), pool).ListUnresolved(ctx, !all, limit)
			if err != nil {
				return err
			}
			printUnresolved(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include rows below the review threshold")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows")
	return cmd
}

func printUnresolved(out io.Writer, rows []domain.Unresolved) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "nothing to review")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GATEWAY\tEXTERNAL ID\tREASON\tCOUNT\tREVIEW\tLAST SEEN")
	for _, u := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n", u.Gateway, u.ExternalID, u.Reason, u.Occurrences, u.NeedsReview, u.LastSeenAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <gateway> <external-id>",
		Short: "Mark an unresolved notification as handled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, cfg, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			err = pg.NewRepository(logging.New(cfg.LogLevel), pool).ResolveUnresolved(ctx, args[0], args[1])
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("no open notification for %s/%s", args[0], args[1])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

func notificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifications <user-id>",
		Short: "Show the notifications queued for a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, cfg, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			rows, err := notificationpg.NewRepository(logging.New(cfg.LogLevel), pool).ListForUser(ctx, args[0])
			if err != nil {
				return err
			}
			printNotifications(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func printNotifications(out io.Writer, rows []notification.Notification) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no notifications")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tKIND\tCOURSE\tORDER\tSUBJECT")
	for _, n := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n.CreatedAt.Format(time.RFC3339), n.Kind, n.CourseID, n.OrderID, n.Subject)
	}
	_ = tw.Flush()
}

func healthCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the webhook service's gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			status, err := paymentgrpc.Probe(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			if status != grpc_health_v1.HealthCheckResponse_SERVING {
				return fmt.Errorf("service not serving")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "gRPC address")
	return cmd
}
