package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/cashflow-assistant/internal/dispatcher"
	"github.com/dvloznov/cashflow-assistant/internal/transactions"
)

var (
	chatFile  string
	chatUser  string
	chatFocus string
	chatJSON  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send one message to the assistant",
	Long:  "Send a message, optionally with a snapshot file attached. Moves the assistant makes are written to the session ledger.",
	Args:  cobra.ArbitraryArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatFile, "file", "f", "", "Snapshot JSON to attach")
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "cli", "User ID")
	chatCmd.Flags().StringVar(&chatFocus, "focus", "", "Optimizer focus: overdraft, utilization or auto")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Print the raw response")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	req := dispatcher.Request{
		SessionID: flagSession,
		UserID:    chatUser,
		Message:   strings.Join(args, " "),
		Focus:     chatFocus,
	}
	if chatFile != "" {
		snap, err := transactions.ReadFile(chatFile)
		if err != nil {
			return err
		}
		req.Balance = snap.Balance
		req.Transactions = snap.Transactions
		req.Cards = snap.Cards
		req.Window = snap.Window
	}

	a, err := build(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Dispatcher.Dispatch(cmd.Context(), req)
	if err != nil {
		return err
	}

	if chatJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Printf("\n  [%s / %s]\n\n  %s\n", resp.Capability, resp.Outcome, resp.Text)
	for _, b := range resp.Bullets {
		fmt.Printf("   - %s\n", b)
	}
	for _, m := range resp.Modifications {
		fmt.Printf("\n  %s  %-8s %-24s %s -> %s  %s", m.ModificationID, m.Kind, m.TransactionID, dateOrDash(m.OriginalDate), m.EffectiveDate(), m.Amount.StringFixed(2))
	}
	if len(resp.Modifications) > 0 {
		fmt.Println()
	}
	fmt.Println()
	return nil
}
