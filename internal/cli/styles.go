// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(20)

	// ValueStyle is used for regular values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for secondary information.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// HeaderStyle is used for table header cells.
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// CellStyle is used for table body cells.
	CellStyle = lipgloss.NewStyle().Padding(0, 1)

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// =============================================================================
// HELPERS
// =============================================================================

// StatusColor returns the colour for a status word.
func StatusColor(status string) lipgloss.TerminalColor {
	switch strings.ToLower(status) {
	case "ok", "healthy", "enabled":
		return lipgloss.Color("42")
	case "degraded", "warning":
		return lipgloss.Color("214")
	case "unavailable", "disabled", "error", "fail":
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("242")
	}
}

// RenderStatus renders a status word in its colour.
func RenderStatus(status string) string {
	return lipgloss.NewStyle().Foreground(StatusColor(status)).Bold(true).Render(status)
}

// RenderLabel renders a label padded to the shared label width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderField renders one "label value" line without a trailing newline.
func RenderField(label, value string) string {
	return RenderLabel(label) + ValueStyle.Render(value)
}

// RenderTable renders rows under headers. color, when set, picks the
// foreground of a body cell; nil keeps the default.
func RenderTable(headers []string, rows [][]string, color func(row, col int) lipgloss.TerminalColor) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle
			}
			if color != nil {
				if c := color(row, col); c != nil {
					return CellStyle.Foreground(c)
				}
			}
			return CellStyle
		})
	return t.String()
}
