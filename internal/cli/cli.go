// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/offline"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	json       bool
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "promptforge",
		Short:         "Intent-aware prompt upgrade service",
		Long:          "promptforge routes prompts through configured pipelines and LLM providers\nwith failover, credit gating and kill-switches.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default ~/.promptforge/config.toml)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "print machine-readable JSON")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCommand(g),
		newUpgradeCommand(g),
		newRouteCommand(g),
		newProvidersCommand(g),
		newConfigCommand(g),
		newKillSwitchCommand(g),
		newTokenCommand(g),
		newCreditsCommand(g),
		newVersionCommand(g),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig loads the config selected by --config and applies global
// overrides.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFromPath(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := setupLogging(cfg.Log, g.json); err != nil {
		return nil, err
	}
	offline.SetOfflineMode(cfg.Server.Offline)
	return cfg, nil
}

// setupLogging configures the global logrus logger. JSON output mode keeps
// stdout clean by sending logs to stderr only.
func setupLogging(c config.LogConfig, jsonOutput bool) error {
	level, err := log.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if c.Format == "json" || jsonOutput {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// =============================================================================
// VERSION
// =============================================================================

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := VersionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return output(cmd, g, "version", info, func(w *writer) {
				w.printf("promptforge %s (%s, built %s)\n", info.Version, info.GitCommit, info.BuildDate)
				w.printf("%s %s\n", info.GoVersion, info.Platform)
			})
		},
	}
}
