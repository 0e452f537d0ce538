package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/veridoc-ai/remediation-engine/cmd/remediate/ui"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and manage the credit ledger",
}

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		bal, err := store.GetBalance(context.Background(), args[0])
		if err != nil {
			return err
		}
		if bal.Unlimited {
			ui.Message("%s: unlimited", args[0])
		} else {
			ui.Message("%s: %d credit(s)", args[0], bal.Remaining)
		}
		return nil
	},
}

var ledgerGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Grant credits to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[1])
		if err != nil || amount <= 0 {
			return fmt.Errorf("amount must be a positive integer")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.Grant(context.Background(), args[0], amount, "manual grant"); err != nil {
			return err
		}
		bal, err := store.GetBalance(context.Background(), args[0])
		if err != nil {
			return err
		}
		ui.Success("Granted %d credit(s) to %s (balance: %d)", amount, args[0], bal.Remaining)
		return nil
	},
}

var ledgerHistoryCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "Show a user's recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := store.History(context.Background(), args[0], ledgerHistoryLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			ui.Message("no entries for %s", args[0])
			return nil
		}
		for _, e := range entries {
			ui.Message("%s  %-7s %+5d  %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, e.Amount, e.Reason)
		}
		return nil
	},
}

var ledgerUnlimitedCmd = &cobra.Command{
	Use:   "unlimited <user-id> <on|off>",
	Short: "Toggle unlimited credits for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[1] {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return fmt.Errorf("expected on or off, got %q", args[1])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, store, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := store.SetUnlimited(context.Background(), args[0], on); err != nil {
			return err
		}
		ui.Success("unlimited=%v for %s", on, args[0])
		return nil
	},
}

var ledgerHistoryLimit int

func init() {
	ledgerHistoryCmd.Flags().IntVarP(&ledgerHistoryLimit, "limit", "n", 20, "entries to show")
	ledgerCmd.AddCommand(ledgerBalanceCmd, ledgerGrantCmd, ledgerHistoryCmd, ledgerUnlimitedCmd)
	rootCmd.AddCommand(ledgerCmd)
}
