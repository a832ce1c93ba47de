// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline restricts provider traffic to loopback endpoints.
//
// When offline mode is on, remote provider adapters refuse to start and any
// endpoint URL that does not resolve to localhost is rejected. URL scheme
// validation (http/https only) applies regardless of the mode.
//
// # Usage
//
//	offline.SetOfflineMode(cfg.Server.Offline)
//
//	if err := offline.ValidateEndpointURL(baseURL); err != nil {
//		return err // blocked in offline mode, or bad scheme
//	}
package offline
