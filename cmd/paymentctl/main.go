package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tooling for the payment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}
