// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for promptforge.
//
// Configuration is a single TOML file. It carries the server settings, the
// gate limits, the provider list, the pipeline catalog and the (client, intent)
// decision table. Missing sections fall back to built-in defaults and
// PROMPTFORGE_* environment variables override the file.
//
// Configuration file locations (in order of precedence):
//   - --config flag
//   - ~/.promptforge/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.LoadFromPath(path)
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    // ValidateErrors lists every offending field
//	}
package config
