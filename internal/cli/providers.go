// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/provider"
)

func newProvidersCommand(g *globalFlags) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return fail(cmd, g, "providers", err)
			}
			registry, err := provider.BuildRegistry(cfg)
			if err != nil {
				return fail(cmd, g, "providers", err)
			}
			if probe {
				probeAll(cmd.Context(), registry, cfg.Registry.ProbeTimeout)
			}

			descs := registry.Descriptors()
			if g.json {
				return NewJSONResponse("providers", descs).Write(cmd.OutOrStdout())
			}
			rows := make([][]string, 0, len(descs))
			for _, d := range descs {
				rows = append(rows, []string{
					d.ID,
					d.Type,
					d.Health.String(),
					strconv.Itoa(d.Capabilities.MaxTokens),
					strconv.FormatBool(d.Capabilities.SupportsTools),
					fmt.Sprintf("%.2f", d.CostWeight),
					strconv.FormatBool(d.Disabled),
				})
			}
			headers := []string{"ID", "TYPE", "HEALTH", "MAX TOKENS", "TOOLS", "COST", "DISABLED"}
			out := newWriter(cmd.OutOrStdout())
			out.printf("%s\n", TitleStyle.Render("Providers"))
			out.printf("%s\n", RenderTable(headers, rows, func(row, col int) lipgloss.TerminalColor {
				if col == 2 {
					return StatusColor(rows[row][col])
				}
				return nil
			}))
			return out.err
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "probe each provider and report failures as errors")
	return cmd
}

// probeAll reports each probe outcome to the registry so the listing shows
// live health.
func probeAll(ctx context.Context, r *provider.Registry, timeout time.Duration) {
	for _, d := range r.Descriptors() {
		p, ok := r.Provider(d.ID)
		if !ok {
			continue
		}
		prober, ok := p.(provider.Prober)
		if !ok {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := prober.Probe(pctx)
		cancel()
		o := provider.Outcome{Success: err == nil, Latency: time.Since(start)}
		if err != nil {
			o.Kind = model.KindTransient
			if k, ok := model.KindOf(err); ok {
				o.Kind = k
			}
		}
		r.Report(d.ID, o)
	}
}
