package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zerotrust-labs/agent-gate/services/policy"
	"go.uber.org/zap"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and lint policy files",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rules in a policy file",
	RunE:  runPolicyShow,
}

var policyLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Parse and compile a policy file without installing it",
	Long: `Lint runs the same parse and constraint compilation the daemon
runs on reload. A file that lints clean will load clean.`,
	RunE: runPolicyLint,
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyLintCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	doc, err := policy.ParseFile(policyPath)
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "version: %d\n", doc.Version)
	for _, rule := range doc.Rules {
		verdict := "deny"
		if rule.Allowed {
			verdict = "allow"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %-5s sensitivity=%d", rule.Action, verdict, rule.SensitivityWeight)
		if rule.Limits != nil {
			fmt.Fprintf(cmd.OutOrStdout(), " limit=%d/%s", rule.Limits.Requests, rule.Limits.Period)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		for _, c := range rule.Constraints {
			fmt.Fprintf(cmd.OutOrStdout(), "    constraint %s: %s\n", c.Name, c.Expr)
		}
	}
	return nil
}

func runPolicyLint(cmd *cobra.Command, args []string) error {
	doc, err := policy.ParseFile(policyPath)
	if err != nil {
		return err
	}

	// Compile into a throwaway store; a failure here is exactly the
	// failure a daemon reload would report
	store, err := policy.NewStore(zap.NewNop())
	if err != nil {
		return err
	}
	if err := store.LoadDocument(doc); err != nil {
		return fmt.Errorf("%s: %w", policyPath, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d rules)\n", policyPath, len(doc.Rules))
	return nil
}
