package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	output     string
	policyPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "Operator CLI for the agent action gate",
	Long: `gatectl inspects and exercises the agent action gate offline.

Commands:
  audit tail   Show recent audit records from a JSONL trail
  policy show  Print the rules in a policy file
  policy lint  Parse and compile a policy file without installing it
  check        Evaluate one action offline against a policy file`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVarP(&policyPath, "policy", "p", "policies.yaml", "Policy file path")
}
