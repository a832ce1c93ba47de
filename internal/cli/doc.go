// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the promptforge command line.
//
// Commands:
//
//	promptforge serve                       Run the HTTP service
//	promptforge upgrade "text"              Upgrade one prompt in-process
//	promptforge route                       Show the routing decision
//	promptforge providers                   List providers and health
//	promptforge config validate|show|path   Check or print the config
//	promptforge killswitch show|endpoint|pipeline
//	promptforge token issue                 Issue a bearer token
//	promptforge credits show|grant          Inspect the sqlite ledger
//	promptforge version
//
// Every command accepts --config and --json.
package cli
