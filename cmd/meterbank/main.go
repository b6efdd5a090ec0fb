package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meterbank",
	Short: "Meterbank — metering and settlement for machine-to-machine tool calls",
	Long:  "Meterbank is a settlement engine for agent-to-agent tool calls: it prices calls in integer lamports, maintains per-agent balance ledgers, enforces budget guardrails, supports price-frozen quotes and pre-authorization holds, and pays providers out over an external rail.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/meterbank.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
