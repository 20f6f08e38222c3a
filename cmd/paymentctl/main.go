package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmehra2102/course-payments/pkg/shutdown"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tooling for the course payment webhooks",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reviewsCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(healthCmd())

	ctx, cancel := shutdown.WithSignals(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
