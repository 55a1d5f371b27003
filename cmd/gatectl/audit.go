package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zerotrust-labs/agent-gate/models"
	"github.com/zerotrust-labs/agent-gate/repositories/jsonl"
	"go.uber.org/zap"
)

var (
	auditFile    string
	auditActor   string
	auditLimit   int
	auditMinutes int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit records",
	Long: `Read the newest records from a JSONL audit trail, newest first.

Examples:
  gatectl audit tail --file audit_log.jsonl
  gatectl audit tail --actor agent1 --minutes 30 -o json`,
	RunE: runAuditTail,
}

func init() {
	auditTailCmd.Flags().StringVar(&auditFile, "file", "audit_log.jsonl", "Audit trail file")
	auditTailCmd.Flags().StringVar(&auditActor, "actor", "", "Filter by actor ID")
	auditTailCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum records to show")
	auditTailCmd.Flags().IntVar(&auditMinutes, "minutes", 60, "Lookback window when filtering by actor")

	auditCmd.AddCommand(auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(auditFile); err != nil {
		return fmt.Errorf("audit trail %s: %w", auditFile, err)
	}

	store, err := jsonl.NewStore(auditFile, zap.NewNop())
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var records []models.AuditRecord
	if auditActor != "" {
		since := time.Now().Add(-time.Duration(auditMinutes) * time.Minute)
		records, err = store.RecentByActor(ctx, auditActor, since, auditLimit)
	} else {
		records, err = store.Recent(ctx, auditLimit)
	}
	if err != nil {
		return fmt.Errorf("read audit trail: %w", err)
	}

	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	for _, rec := range records {
		fmt.Fprintf(cmd.OutOrStdout(), "%6d  %s  %-20s %-12s %-5s %-12s score=%d\n",
			rec.Sequence,
			rec.Request.Timestamp.Format(time.RFC3339),
			rec.Request.ActorID,
			rec.Request.ActionType,
			rec.Decision.Verdict,
			rec.Decision.ReasonCode,
			rec.Decision.RiskScore.Value)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d record(s)\n", len(records))
	return nil
}
