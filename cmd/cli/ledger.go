package main

import (
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"
)

var ledgerJSON bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or change a session's modification ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modifications",
	Args:  cobra.NoArgs,
	RunE:  runLedgerList,
}

var ledgerApproveCmd = &cobra.Command{
	Use:   "approve <modification-id>",
	Short: "Mark a suggested modification as approved",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedgerApprove,
}

var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every modification",
	Args:  cobra.NoArgs,
	RunE:  runLedgerClear,
}

func init() {
	ledgerListCmd.Flags().BoolVar(&ledgerJSON, "json", false, "Print the feed as JSON")
	ledgerCmd.AddCommand(ledgerListCmd, ledgerApproveCmd, ledgerClearCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerList(cmd *cobra.Command, _ []string) error {
	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	feed, err := a.Sessions.Ledger(flagSession).Feed(cmd.Context())
	if err != nil {
		return err
	}
	if ledgerJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(feed)
	}

	if len(feed.Modifications) == 0 {
		fmt.Println("\n  No modifications.")
		return nil
	}
	sum := feed.Summary()
	fmt.Printf("\n  %d modification(s): %d moved, %d planned, %d approved\n\n", sum.Total, sum.Moved, sum.Planned, sum.Approved)
	for _, m := range feed.Modifications {
		fmt.Printf("  %-36s  %-8s %-9s  %s -> %s  %10s  %s\n",
			m.ModificationID, m.Kind, m.Status, dateOrDash(m.OriginalDate), m.EffectiveDate(), m.Amount.StringFixed(2), m.Reason)
	}
	return nil
}

func runLedgerApprove(cmd *cobra.Command, args []string) error {
	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.Sessions.Ledger(flagSession).Approve(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Approved %s (%s)\n", m.ModificationID, m.TransactionID)
	return nil
}

func runLedgerClear(cmd *cobra.Command, _ []string) error {
	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Sessions.Ledger(flagSession).Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Cleared ledger for session %s\n", flagSession)
	return nil
}

func dateOrDash(d *civil.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}
