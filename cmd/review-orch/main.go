package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "review-orch",
		Short: "Review Queue - parallel code review orchestrator",
		Long: `Review Queue fans review prompts out to parallel coding agents
working in the same workspace, aggregates their findings into a single
report, and can run a follow-up fix pass against that report.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
