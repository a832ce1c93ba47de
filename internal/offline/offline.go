// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a remote endpoint in offline mode.
	ErrNonLocalhost = errors.New("offline mode: only localhost endpoints are allowed")

	// ErrRemoteProviderBlocked is returned when a remote-only provider is built in offline mode.
	ErrRemoteProviderBlocked = errors.New("offline mode: remote providers are disabled")

	// ErrInvalidURLScheme is returned when the URL scheme is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https endpoints are allowed")

	// ErrInvalidURL is returned when an endpoint URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid endpoint URL")
)

// =============================================================================
// MODE MANAGEMENT
// =============================================================================

var (
	offlineMode      bool
	offlineModeMutex sync.RWMutex
)

// SetOfflineMode enables or disables offline mode globally.
func SetOfflineMode(enabled bool) {
	offlineModeMutex.Lock()
	defer offlineModeMutex.Unlock()
	offlineMode = enabled
}

// IsOfflineMode returns true if offline mode is currently enabled.
func IsOfflineMode() bool {
	offlineModeMutex.RLock()
	defer offlineModeMutex.RUnlock()
	return offlineMode
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost checks if a host string refers to the loopback interface.
// Accepts "localhost", any 127.0.0.0/8 address and any IPv6 loopback form,
// with or without a port.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateEndpointURL checks a provider endpoint URL.
// The scheme must be http or https; in offline mode the host must be loopback.
func ValidateEndpointURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}
	if parsed.Host == "" {
		return ErrInvalidURL
	}

	if IsOfflineMode() && !IsLocalhost(parsed.Hostname()) {
		return ErrNonLocalhost
	}
	return nil
}

// CheckRemoteAllowed returns an error if remote providers are not allowed.
func CheckRemoteAllowed() error {
	if IsOfflineMode() {
		return ErrRemoteProviderBlocked
	}
	return nil
}

// StatusIndicator returns "OFFLINE MODE" when offline, empty string otherwise.
func StatusIndicator() string {
	if IsOfflineMode() {
		return "OFFLINE MODE"
	}
	return ""
}
