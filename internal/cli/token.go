// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/identity"
	"github.com/jeranaias/promptforge/internal/model"
)

// TokenInfo is the output of token issue.
type TokenInfo struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Plan      string    `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}

	var subject, plan, apiKey string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token with identity.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return fail(cmd, g, "token issue", err)
			}
			p, err := model.ParsePlan(plan)
			if err != nil {
				return fail(cmd, g, "token issue", err)
			}
			if ttl <= 0 {
				ttl = identity.DefaultTokenLifetime
			}
			token, err := identity.NewVerifier(cfg.Identity).Issue(subject, p, apiKey, ttl)
			if err != nil {
				return fail(cmd, g, "token issue", err)
			}
			info := TokenInfo{
				Token:     token,
				Subject:   subject,
				Plan:      p.String(),
				ExpiresAt: time.Now().Add(ttl).UTC().Truncate(time.Second),
			}
			return output(cmd, g, "token issue", info, func(w *writer) {
				w.printf("%s\n", info.Token)
			})
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "identity the token is issued to")
	issue.Flags().StringVar(&plan, "plan", "free", "plan claim (free, pro, enterprise)")
	issue.Flags().StringVar(&apiKey, "api-key", "", "optional API key claim")
	issue.Flags().DurationVar(&ttl, "ttl", identity.DefaultTokenLifetime, "token lifetime")
	_ = issue.MarkFlagRequired("subject")

	cmd.AddCommand(issue)
	return cmd
}
