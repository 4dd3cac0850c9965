// Package cmd provides the CLI commands for enact.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enact-ai/enact/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "enact",
	Short: "Enact - governance middleware for AI agent tool calls",
	Long: `Enact sits between AI agents and their tools, evaluating every tool
call against configured policies, intent validators, and safety limits
before it executes, and auditing every decision.

Quick start:
  1. Create a config file: enact.yaml
  2. Run: enact serve -- <mcp-server-command>

Configuration:
  Config is loaded from enact.yaml in the current directory,
  $HOME/.enact/, or /etc/enact/.

  Environment variables can override config values with the ENACT_ prefix.
  Example: ENACT_RATE_LIMIT_MAX_PER_MINUTE=120

Commands:
  serve       Start the governed MCP proxy
  check       Validate a policy file
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./enact.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
