// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/config"
)

const redacted = "********"

func newConfigCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := g.loadConfig()
				if err != nil {
					return fail(cmd, g, "config validate", err)
				}
				summary := map[string]int{
					"providers": len(cfg.Providers),
					"pipelines": len(cfg.Pipelines),
					"routes":    len(cfg.Routes),
				}
				return output(cmd, g, "config validate", summary, func(w *writer) {
					w.printf("%s\n", SuccessStyle.Render("config ok"))
					w.printf("%s\n", RenderField("providers", strconv.Itoa(summary["providers"])))
					w.printf("%s\n", RenderField("pipelines", strconv.Itoa(summary["pipelines"])))
					w.printf("%s\n", RenderField("routes", strconv.Itoa(summary["routes"])))
				})
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := g.loadConfig()
				if err != nil {
					return fail(cmd, g, "config show", err)
				}
				shown := redact(cfg)
				if g.json {
					return NewJSONResponse("config show", shown).Write(cmd.OutOrStdout())
				}
				w := newWriter(cmd.OutOrStdout())
				w.printf("%s\n", DimStyle.Render("# effective configuration, secrets redacted"))
				if w.err != nil {
					return w.err
				}
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(shown)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the default config file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := config.ConfigPath()
				if err != nil {
					return fail(cmd, g, "config path", err)
				}
				return output(cmd, g, "config path", path, func(w *writer) {
					w.printf("%s\n", path)
				})
			},
		},
	)
	return cmd
}

// redact returns a copy of cfg without secret values.
func redact(cfg *config.Config) config.Config {
	out := *cfg
	if out.Identity.JWTSecret != "" {
		out.Identity.JWTSecret = redacted
	}
	if out.Billing.StripeKey != "" {
		out.Billing.StripeKey = redacted
	}
	out.Providers = make([]config.ProviderConfig, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = redacted
		}
		out.Providers[i] = p
	}
	return out
}
