// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/model"
)

type upgradeFlags struct {
	client   string
	intent   string
	plan     string
	identity string
	explain  bool
}

func newUpgradeCommand(g *globalFlags) *cobra.Command {
	f := &upgradeFlags{}
	cmd := &cobra.Command{
		Use:   "upgrade [text]",
		Short: "Upgrade one prompt in-process",
		Long:  "Runs one request through the full engine without the HTTP layer.\nReads the prompt from stdin when no text argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(cmd, args)
			if err != nil {
				return fail(cmd, g, "upgrade", err)
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return fail(cmd, g, "upgrade", err)
			}
			svc, err := buildService(cfg, false)
			if err != nil {
				return fail(cmd, g, "upgrade", err)
			}
			defer svc.Close()

			res, err := svc.engine.Upgrade(cmd.Context(), req)
			if err != nil {
				return fail(cmd, g, "upgrade", err)
			}
			return output(cmd, g, "upgrade", res, func(w *writer) {
				w.printf("%s\n", res.Upgraded)
				w.printf("\npipeline=%s fidelity=%.2f degraded=%t\n", res.MatchedPipeline, res.FidelityScore, res.Degraded)
				if res.Plan != nil {
					for _, a := range res.Plan.Attempts {
						w.printf("  %-10s %-16s %-8s %s\n", a.Stage, a.ProviderID, a.Outcome, a.Duration())
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&f.client, "client", model.ClientAPI.String(), "client surface")
	cmd.Flags().StringVar(&f.intent, "intent", "", "intent (inferred when empty)")
	cmd.Flags().StringVar(&f.plan, "plan", model.PlanFree.String(), "plan to route as")
	cmd.Flags().StringVar(&f.identity, "identity", "cli", "identity for rate limits and credits")
	cmd.Flags().BoolVar(&f.explain, "explain", false, "print the execution plan")
	return cmd
}

func (f *upgradeFlags) request(cmd *cobra.Command, args []string) (model.Request, error) {
	text := ""
	if len(args) == 1 {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return model.Request{}, fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}

	client, err := model.ParseClient(f.client)
	if err != nil {
		return model.Request{}, err
	}
	intent := model.IntentUnset
	if f.intent != "" {
		if intent, err = model.ParseIntent(f.intent); err != nil {
			return model.Request{}, err
		}
	}
	plan, err := model.ParsePlan(f.plan)
	if err != nil {
		return model.Request{}, err
	}
	return model.Request{
		Text:          text,
		Client:        client,
		Intent:        intent,
		Plan:          plan,
		Explain:       f.explain,
		Identity:      f.identity,
		CorrelationID: uuid.NewString(),
	}, nil
}
