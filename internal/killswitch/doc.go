// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package killswitch provides the operator kill-switches for the endpoint and
// for individual pipelines.
//
// Readers take a point-in-time Snapshot; a request never observes a switch
// flipping halfway through its own handling. Writers publish a new snapshot
// atomically.
//
// # File Format
//
//	endpoint = false
//
//	[pipelines]
//	chat-pro = true   # disabled
//
// A FileWatcher reloads the file on fsnotify events and on a poll interval,
// so a change is observed within one poll interval even where filesystem
// notifications are unreliable. A file that fails to parse leaves the last
// good snapshot in place.
package killswitch
