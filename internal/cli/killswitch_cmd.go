// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/killswitch"
)

// KillSwitchState is the output of the killswitch commands.
type KillSwitchState struct {
	Path              string   `json:"path"`
	EndpointDisabled  bool     `json:"endpoint_disabled"`
	DisabledPipelines []string `json:"disabled_pipelines"`
}

func newKillSwitchCommand(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:     "killswitch",
		Aliases: []string{"ks"},
		Short:   "Show or flip kill-switches",
		Long: `Kill-switches are kept in a TOML file watched by the running server.
Changes written here take effect without a restart.`,
	}
	cmd.PersistentFlags().StringVar(&file, "file", "", "kill-switch file (default killswitch.path from config)")

	// resolve returns the kill-switch file path.
	resolve := func() (string, error) {
		if file != "" {
			return file, nil
		}
		cfg, err := g.loadConfig()
		if err != nil {
			return "", err
		}
		if cfg.KillSwitch.Path == "" {
			return "", fmt.Errorf("no kill-switch file configured; set killswitch.path or pass --file")
		}
		return cfg.KillSwitch.Path, nil
	}

	// update applies fn to the current snapshot and writes it back.
	update := func(cmd *cobra.Command, name string, fn func(s *killswitch.Snapshot)) error {
		path, err := resolve()
		if err != nil {
			return fail(cmd, g, name, err)
		}
		snap, err := killswitch.ReadFile(path)
		if err != nil {
			return fail(cmd, g, name, err)
		}
		if snap.Pipelines == nil {
			snap.Pipelines = make(map[string]bool)
		}
		fn(snap)
		if err := killswitch.WriteFile(path, snap); err != nil {
			return fail(cmd, g, name, err)
		}
		return printSwitches(cmd, g, name, path, snap)
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current kill-switch state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return fail(cmd, g, "killswitch show", err)
			}
			snap, err := killswitch.ReadFile(path)
			if err != nil {
				return fail(cmd, g, "killswitch show", err)
			}
			return printSwitches(cmd, g, "killswitch show", path, snap)
		},
	}

	endpoint := &cobra.Command{
		Use:       "endpoint on|off",
		Short:     "Disable (on) or re-enable (off) the whole endpoint",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseSwitch(args[0])
			if err != nil {
				return fail(cmd, g, "killswitch endpoint", err)
			}
			return update(cmd, "killswitch endpoint", func(s *killswitch.Snapshot) {
				s.Endpoint = on
			})
		},
	}

	pipeline := &cobra.Command{
		Use:   "pipeline <id> on|off",
		Short: "Disable (on) or re-enable (off) one pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseSwitch(args[1])
			if err != nil {
				return fail(cmd, g, "killswitch pipeline", err)
			}
			id := args[0]
			return update(cmd, "killswitch pipeline", func(s *killswitch.Snapshot) {
				if on {
					s.Pipelines[id] = true
				} else {
					delete(s.Pipelines, id)
				}
			})
		},
	}

	cmd.AddCommand(show, endpoint, pipeline)
	return cmd
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func printSwitches(cmd *cobra.Command, g *globalFlags, name, path string, snap *killswitch.Snapshot) error {
	state := KillSwitchState{
		Path:              path,
		EndpointDisabled:  snap.EndpointDisabled(),
		DisabledPipelines: snap.DisabledPipelines(),
	}
	if state.DisabledPipelines == nil {
		state.DisabledPipelines = []string{}
	}
	return output(cmd, g, name, state, func(w *writer) {
		w.printf("%s\n", TitleStyle.Render("Kill switches"))
		w.printf("%s\n", RenderField("file", state.Path))
		w.printf("%s%s\n", RenderLabel("endpoint"), RenderStatus(onOff(state.EndpointDisabled)))
		pipelines := DimStyle.Render("none")
		if len(state.DisabledPipelines) > 0 {
			pipelines = WarningStyle.Render(strings.Join(state.DisabledPipelines, ", "))
		}
		w.printf("%s%s\n", RenderLabel("disabled pipelines"), pipelines)
	})
}

func onOff(disabled bool) string {
	if disabled {
		return "disabled"
	}
	return "enabled"
}
