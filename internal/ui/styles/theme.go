// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// Theme holds all the styled components for the application.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	Workspace   lipgloss.Style
	Muted       lipgloss.Style

	// Messages
	UserBubble lipgloss.Style
	Assistant  lipgloss.Style
	Note       lipgloss.Style
	Cursor     lipgloss.Style

	// Status
	StatusBar lipgloss.Style
	ErrorText lipgloss.Style
	Badge     lipgloss.Style

	// Input
	InputBorder lipgloss.Style

	// Workspace picker
	PickerItem     lipgloss.Style
	PickerSelected lipgloss.Style

	// Help line
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style
}

// NewTheme detects the terminal's color capability and builds the styles.
func NewTheme() *Theme {
	return newTheme(termenv.ColorProfile(), termenv.HasDarkBackground())
}

func newTheme(profile termenv.Profile, isDark bool) *Theme {
	t := &Theme{IsDark: isDark, ColorProfile: profile}

	t.Header = lipgloss.NewStyle().Background(SurfaceDim).Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.Workspace = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)

	t.UserBubble = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		Background(UserBubbleBg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(UserBubbleBorder).
		Padding(0, 2)
	t.Assistant = lipgloss.NewStyle().Foreground(TextPrimary).MarginLeft(2)
	t.Note = lipgloss.NewStyle().Foreground(NoteFg).Italic(true).MarginLeft(2)
	t.Cursor = lipgloss.NewStyle().Foreground(Purple).Blink(true)

	t.StatusBar = lipgloss.NewStyle().Foreground(TextMuted).Padding(0, 1)
	t.ErrorText = lipgloss.NewStyle().Foreground(Rose)
	t.Badge = lipgloss.NewStyle().Bold(true).Foreground(TextInverse).Padding(0, 1)

	t.InputBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.PickerItem = lipgloss.NewStyle().PaddingLeft(2)
	t.PickerSelected = lipgloss.NewStyle().PaddingLeft(1).Bold(true).Foreground(Purple)

	t.ShortcutKey = lipgloss.NewStyle().Foreground(Cyan)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)
	return t
}

// GlamourStyle resolves the configured markdown style. "auto" picks dark or
// light from the detected background so glamour never queries the terminal
// while the program owns it.
func (t *Theme) GlamourStyle(configured string) string {
	if configured != "" && configured != "auto" {
		return configured
	}
	if t.IsDark {
		return "dark"
	}
	return "light"
}

// StatusColor returns the badge color for a session status.
func StatusColor(s model.SessionStatus) lipgloss.AdaptiveColor {
	switch s {
	case model.StatusReady:
		return Emerald
	case model.StatusError:
		return Rose
	case model.StatusIdle:
		return lipgloss.AdaptiveColor{Light: TextMuted.Light, Dark: TextMuted.Dark}
	default:
		return Amber
	}
}

// StatusLabel returns the short header label for a session status.
func StatusLabel(s model.SessionStatus) string {
	switch s {
	case model.StatusIdle:
		return "idle"
	case model.StatusResolving:
		return "resolving pod"
	case model.StatusTunnelOpening:
		return "opening tunnel"
	case model.StatusDiscoveringModels:
		return "discovering models"
	case model.StatusReady:
		return "ready"
	case model.StatusError:
		return "error"
	default:
		return s.String()
	}
}

// StatusBadge renders the status as a colored badge.
func (t *Theme) StatusBadge(s model.SessionStatus) string {
	return t.Badge.Background(StatusColor(s)).Render(StatusLabel(s))
}
