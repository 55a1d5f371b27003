package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/services/engine"
	"github.com/zerotrust-labs/agent-gate/services/policy"
	"github.com/zerotrust-labs/agent-gate/services/ratelimit"
	"github.com/zerotrust-labs/agent-gate/services/risk"
	"github.com/zerotrust-labs/agent-gate/services/validation"
	"go.uber.org/zap"
)

var (
	checkActor     string
	checkContent   string
	checkWorkspace string
)

var checkCmd = &cobra.Command{
	Use:   "check <action> <path>",
	Short: "Evaluate one action offline against a policy file",
	Long: `Check runs the full gating pipeline for a single action without a
daemon. The verdict is printed but nothing is executed and nothing is
written to an audit trail.

Examples:
  gatectl check write_file /workspace/notes.txt --content "hi"
  gatectl check delete_file /workspace/tmp.txt -p policies.yaml -o json`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkActor, "actor", "gatectl", "Actor ID to evaluate as")
	checkCmd.Flags().StringVar(&checkContent, "content", "", "Content parameter for write_file")
	checkCmd.Flags().StringVar(&checkWorkspace, "workspace", "/workspace", "Workspace root")
	rootCmd.AddCommand(checkCmd)
}

// discardAuditor satisfies the engine without persisting anything;
// offline checks leave no trail
type discardAuditor struct{}

func (discardAuditor) Record(ctx context.Context, rec *models.AuditRecord) error { return nil }

func (discardAuditor) Defer(rec *models.AuditRecord) {}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()

	store, err := policy.NewStore(logger)
	if err != nil {
		return err
	}
	if err := store.LoadFile(policyPath); err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	limiter := ratelimit.NewService(ratelimit.Limit{Requests: 10, Period: time.Minute}, 15*time.Minute, logger)
	scorer := risk.NewService(risk.DefaultWeights(), nil, 10*time.Minute, logger)

	eng := engine.NewEngine(
		validation.NewService(checkWorkspace, logger),
		limiter,
		store,
		scorer,
		discardAuditor{},
		logger,
	)

	params := map[string]string{"path": args[1]}
	if checkContent != "" || args[0] == string(models.ActionWriteFile) {
		params["content"] = checkContent
	}

	req := models.NewActionRequest(checkActor, models.ActionType(args[0]), params)
	decision := eng.Evaluate(cmd.Context(), req)

	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(decision)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s as %s\n", args[0], args[1], checkActor)
	fmt.Fprintf(cmd.OutOrStdout(), "  verdict: %s (%s)\n", decision.Verdict, decision.ReasonCode)
	if decision.Reason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  reason:  %s\n", decision.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  risk:    %d (%s)\n", decision.RiskScore.Value, decision.RiskScore.Level)
	for _, tag := range decision.RiskScore.Tags {
		fmt.Fprintf(cmd.OutOrStdout(), "    - %s\n", tag)
	}
	return nil
}
