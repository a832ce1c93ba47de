// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/storage"
)

func newCreditsCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and grant credits in the sqlite ledger",
	}

	show := &cobra.Command{
		Use:   "show <identity>",
		Short: "Print an identity's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := openLedger(g)
			if err != nil {
				return fail(cmd, g, "credits show", err)
			}
			defer ledger.Close()

			acct, err := ledger.Account(cmd.Context(), args[0])
			if err != nil {
				return fail(cmd, g, "credits show", err)
			}
			return printAccount(cmd, g, "credits show", acct)
		},
	}

	grant := &cobra.Command{
		Use:   "grant <identity> <amount>",
		Short: "Add credits to an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fail(cmd, g, "credits grant", fmt.Errorf("amount must be a positive integer, got %q", args[1]))
			}
			ledger, err := openLedger(g)
			if err != nil {
				return fail(cmd, g, "credits grant", err)
			}
			defer ledger.Close()

			if err := ledger.Grant(cmd.Context(), args[0], amount); err != nil {
				return fail(cmd, g, "credits grant", err)
			}
			acct, err := ledger.Account(cmd.Context(), args[0])
			if err != nil {
				return fail(cmd, g, "credits grant", err)
			}
			return printAccount(cmd, g, "credits grant", acct)
		},
	}

	cmd.AddCommand(show, grant)
	return cmd
}

func openLedger(g *globalFlags) (*storage.Ledger, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return openSQLiteLedger(cfg)
}

func openSQLiteLedger(cfg *config.Config) (*storage.Ledger, error) {
	if cfg.Gate.Ledger != "sqlite" {
		return nil, fmt.Errorf("gate.ledger is %q; credits commands need the sqlite ledger", cfg.Gate.Ledger)
	}
	return storage.OpenLedger(cfg.Gate.LedgerPath, cfg.Gate.StartingCredits)
}

func printAccount(cmd *cobra.Command, g *globalFlags, name string, acct storage.Account) error {
	return output(cmd, g, name, acct, func(w *writer) {
		w.printf("%s\n", TitleStyle.Render(acct.Identity))
		w.printf("%s%s\n", RenderLabel("available"), SuccessStyle.Render(strconv.FormatInt(acct.Available(), 10)))
		w.printf("%s\n", RenderField("balance", strconv.FormatInt(acct.Balance, 10)))
		w.printf("%s\n", RenderField("held", strconv.FormatInt(acct.Held, 10)))
	})
}
