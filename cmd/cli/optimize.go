package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dvloznov/cashflow-assistant/internal/optimizer"
	"github.com/dvloznov/cashflow-assistant/internal/transactions"
)

var (
	optimizeFile  string
	optimizeFocus string
	optimizeApply bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Propose schedule changes for a snapshot file",
	Long:  "Project the snapshot with the session's current ledger, run the optimizer and print the proposed modifications. With --apply they are written to the ledger as one batch.",
	Args:  cobra.NoArgs,
	RunE:  runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVarP(&optimizeFile, "file", "f", "", "Snapshot JSON (balance, transactions, cards, window)")
	optimizeCmd.Flags().StringVar(&optimizeFocus, "focus", "auto", "overdraft, utilization or auto")
	optimizeCmd.Flags().BoolVar(&optimizeApply, "apply", false, "Write the proposal to the session ledger")
	_ = optimizeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(optimizeCmd)
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	focus, err := optimizer.ParseFocus(optimizeFocus)
	if err != nil {
		return err
	}
	snap, err := transactions.ReadFile(optimizeFile)
	if err != nil {
		return err
	}
	if snap.Balance == nil || snap.Window == nil {
		return fmt.Errorf("%s: balance and window are required", optimizeFile)
	}

	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	store := a.Sessions.Ledger(flagSession)
	mods, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	before, err := a.Projector.Project(*snap.Balance, snap.Transactions, mods, *snap.Window)
	if err != nil {
		return err
	}
	res, err := a.Optimizer.Optimize(before, snap.Transactions, snap.Cards, focus)
	if err != nil {
		return err
	}

	fmt.Printf("\n  Focus %s: %d risk day(s) before, %d after\n", res.Focus, len(before.RiskDays()), len(res.Final.RiskDays()))
	if len(res.Modifications) == 0 {
		fmt.Println("  No changes needed.")
		return nil
	}
	fmt.Println()
	for _, m := range res.Modifications {
		fmt.Printf("  %-8s %-24s %s -> %s  %10s  %s\n", m.Kind, m.TransactionID, dateOrDash(m.OriginalDate), m.EffectiveDate(), m.Amount.StringFixed(2), m.Reason)
	}
	for _, d := range res.UnresolvedDays {
		fmt.Printf("  could not fully resolve %s\n", d)
	}
	for _, c := range res.UnresolvedCards {
		fmt.Printf("  could not bring card %s under target\n", c)
	}

	if !optimizeApply {
		fmt.Println("\n  Dry run; pass --apply to record these changes.")
		return nil
	}
	if err := store.ApplyBatch(cmd.Context(), res.Modifications); err != nil {
		return err
	}
	fmt.Printf("\n  Recorded %d modification(s) in session %s\n", len(res.Modifications), flagSession)
	return nil
}
