// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTable(t *testing.T) {
	rows := [][]string{
		{"echo-local", "healthy"},
		{"remote", "unavailable"},
	}
	out := RenderTable([]string{"ID", "HEALTH"}, rows, func(row, col int) lipgloss.TerminalColor {
		if col == 1 {
			return StatusColor(rows[row][col])
		}
		return nil
	})

	lines := strings.Split(out, "\n")
	require.Greater(t, len(lines), 4)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "HEALTH")
	assert.Contains(t, out, "echo-local")
	assert.Contains(t, out, "unavailable")

	// Every line renders to the same width.
	width := lipgloss.Width(lines[0])
	for _, l := range lines {
		if l == "" {
			continue
		}
		assert.Equal(t, width, lipgloss.Width(l), l)
	}
}

func TestRenderField_PadsLabel(t *testing.T) {
	out := RenderField("budget", "1s")
	assert.True(t, strings.HasPrefix(out, "budget"))
	assert.True(t, strings.HasSuffix(out, "1s"))
	assert.Equal(t, 22, lipgloss.Width(out))
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, lipgloss.Color("42"), StatusColor("healthy"))
	assert.Equal(t, lipgloss.Color("42"), StatusColor("OK"))
	assert.Equal(t, lipgloss.Color("214"), StatusColor("degraded"))
	assert.Equal(t, lipgloss.Color("196"), StatusColor("unavailable"))
	assert.Equal(t, lipgloss.Color("242"), StatusColor("unknown"))
}

func TestGetColorProfile_NoColor(t *testing.T) {
	if ColorsEnabled() {
		t.Skip("colours forced on for this run")
	}
	assert.Equal(t, termenv.Ascii, GetColorProfile())
	assert.Equal(t, "disabled", RenderStatus("disabled"))
}
