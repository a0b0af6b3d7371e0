package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
	"github.com/dvloznov/cashflow-assistant/internal/projector"
	"github.com/dvloznov/cashflow-assistant/internal/transactions"
)

var (
	projectFile     string
	projectPolicy   string
	projectFloor    string
	projectWithMods bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Print the day-by-day balance for a snapshot file",
	RunE:  runProject,
}

func init() {
	projectCmd.Flags().StringVarP(&projectFile, "file", "f", "", "Snapshot JSON (balance, transactions, window)")
	projectCmd.Flags().StringVar(&projectPolicy, "policy", "", "Same-day policy: timestamps or conservative")
	projectCmd.Flags().StringVar(&projectFloor, "floor", "", "Buffer floor")
	projectCmd.Flags().BoolVar(&projectWithMods, "with-ledger", false, "Apply the session's modifications")
	_ = projectCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(projectCmd)
}

func runProject(cmd *cobra.Command, _ []string) error {
	snap, err := transactions.ReadFile(projectFile)
	if err != nil {
		return err
	}
	if snap.Balance == nil || snap.Window == nil {
		return fmt.Errorf("%s: balance and window are required", projectFile)
	}

	floor, err := cfg.Planner.Floor()
	if err != nil {
		return err
	}
	if projectFloor != "" {
		if floor, err = decimal.NewFromString(projectFloor); err != nil {
			return fmt.Errorf("invalid --floor: %w", err)
		}
	}
	policy := domain.SameDayPolicy(cfg.Planner.SameDayPolicy)
	if projectPolicy != "" {
		policy = domain.SameDayPolicy(projectPolicy)
	}

	var mods []domain.CalendarModification
	if projectWithMods {
		a, err := build(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if mods, err = a.Sessions.Ledger(flagSession).List(cmd.Context()); err != nil {
			return err
		}
	}

	bp, err := projector.New(projector.WithPolicy(policy), projector.WithFloor(floor)).
		Project(*snap.Balance, snap.Transactions, mods, *snap.Window)
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s .. %s  opening %s  floor %s  (%s)\n\n", bp.Window.Start, bp.Window.End, bp.OpeningBalance.StringFixed(2), bp.Floor.StringFixed(2), bp.Policy)
	for _, d := range bp.Days {
		marker := ""
		if d.AtRisk {
			marker = "  AT RISK"
		}
		fmt.Printf("  %s  %12s  %12s%s\n", d.Date, d.Delta.StringFixed(2), d.RunningBalance.StringFixed(2), marker)
	}
	if len(bp.Orphaned) > 0 {
		fmt.Printf("\n  Skipped %d modification(s) with no matching transaction\n", len(bp.Orphaned))
	}
	fmt.Printf("\n  Lowest %s, %d risk day(s)\n", bp.Lowest().StringFixed(2), len(bp.RiskDays()))
	return nil
}
