// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/router"
)

// RouteInfo is the output of the route command.
type RouteInfo struct {
	Route           string   `json:"route"`
	Plan            string   `json:"plan"`
	MatchedPipeline string   `json:"matched_pipeline"`
	Version         string   `json:"version"`
	Stages          []string `json:"stages"`
	Providers       []string `json:"providers"`
	Budget          string   `json:"budget"`
	Downgraded      bool     `json:"downgraded"`
	DowngradeReason string   `json:"downgrade_reason,omitempty"`
	FreePipeline    string   `json:"free_pipeline,omitempty"`
}

// TableRow is one decision table row.
type TableRow struct {
	Client string `json:"client"`
	Intent string `json:"intent"`
	Free   string `json:"free"`
	Pro    string `json:"pro,omitempty"`
}

func newRouteCommand(g *globalFlags) *cobra.Command {
	var client, intent, plan string
	var table bool
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Show the pipeline a request would be routed to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return fail(cmd, g, "route", err)
			}
			catalog, err := router.NewCatalog(cfg)
			if err != nil {
				return fail(cmd, g, "route", err)
			}
			if table {
				return printTable(cmd, g, catalog)
			}

			snap, err := readSwitches(cfg)
			if err != nil {
				return fail(cmd, g, "route", err)
			}
			c, err := model.ParseClient(client)
			if err != nil {
				return fail(cmd, g, "route", err)
			}
			i, err := model.ParseIntent(intent)
			if err != nil {
				return fail(cmd, g, "route", err)
			}
			p, err := model.ParsePlan(plan)
			if err != nil {
				return fail(cmd, g, "route", err)
			}

			d, err := catalog.Route(c, i, p, snap)
			if err != nil {
				return fail(cmd, g, "route", err)
			}
			info := routeInfo(d)
			return output(cmd, g, "route", info, func(w *writer) {
				w.printf("%s\n", TitleStyle.Render(fmt.Sprintf("%s (%s) -> %s@%s", info.Route, info.Plan, info.MatchedPipeline, info.Version)))
				w.printf("%s\n", RenderField("stages", strings.Join(info.Stages, " -> ")))
				w.printf("%s\n", RenderField("providers", strings.Join(info.Providers, ", ")))
				w.printf("%s\n", RenderField("budget", info.Budget))
				if info.Downgraded {
					w.printf("%s%s\n", RenderLabel("downgraded"), WarningStyle.Render(info.DowngradeReason))
				}
				if info.FreePipeline != "" {
					w.printf("%s\n", RenderField("fallback", info.FreePipeline))
				}
			})
		},
	}
	cmd.Flags().StringVar(&client, "client", "browser-chat", "client surface")
	cmd.Flags().StringVar(&intent, "intent", "chat", "intent")
	cmd.Flags().StringVar(&plan, "plan", "free", "plan")
	cmd.Flags().BoolVar(&table, "table", false, "print the whole decision table")
	return cmd
}

func routeInfo(d router.RouteDecision) RouteInfo {
	info := RouteInfo{
		Route:           d.Key.String(),
		Plan:            d.Plan.String(),
		MatchedPipeline: d.MatchedPipeline,
		Version:         d.Pipeline.Version,
		Providers:       d.Pipeline.Providers,
		Budget:          d.Pipeline.Budget().String(),
		Downgraded:      d.Downgraded,
		DowngradeReason: d.DowngradeReason,
		FreePipeline:    d.FreePipeline,
	}
	for _, s := range d.Pipeline.Stages {
		info.Stages = append(info.Stages, fmt.Sprintf("%s[%s]", s.Name, s.Kind))
	}
	return info
}

func printTable(cmd *cobra.Command, g *globalFlags, catalog *router.Catalog) error {
	rows := catalog.Rows()
	var out []TableRow
	for _, k := range catalog.SortedKeys() {
		r := rows[k]
		out = append(out, TableRow{Client: k.Client.String(), Intent: k.Intent.String(), Free: r.Free, Pro: r.Pro})
	}
	if g.json {
		return NewJSONResponse("route", out).Write(cmd.OutOrStdout())
	}
	body := make([][]string, 0, len(out))
	for _, r := range out {
		pro := r.Pro
		if pro == "" {
			pro = "-"
		}
		body = append(body, []string{r.Client, r.Intent, r.Free, pro})
	}
	w := newWriter(cmd.OutOrStdout())
	w.printf("%s\n", TitleStyle.Render("Decision table"))
	w.printf("%s\n", RenderTable([]string{"CLIENT", "INTENT", "FREE", "PRO"}, body, func(row, col int) lipgloss.TerminalColor {
		if col == 3 && body[row][col] == "-" {
			return DimStyle.GetForeground()
		}
		return nil
	}))
	return w.err
}

// readSwitches reads the configured kill-switch file once.
func readSwitches(cfg *config.Config) (*killswitch.Snapshot, error) {
	if cfg.KillSwitch.Path == "" {
		return &killswitch.Snapshot{}, nil
	}
	return killswitch.ReadFile(cfg.KillSwitch.Path)
}
