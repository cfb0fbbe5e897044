// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/util"
)

// View renders the chat view.
func (m Model) View() string {
	if m.quitting && m.state.Status == model.StatusIdle {
		return ""
	}
	if m.picking {
		return m.renderPicker()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatus(),
		m.renderInput(),
		m.renderHelp(),
	)
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) renderHeader() string {
	st := m.state
	parts := []string{m.theme.HeaderTitle.Render("KAITO")}

	if !st.Workspace.IsZero() {
		parts = append(parts, m.theme.Workspace.Render(st.Workspace.WorkspaceName),
			m.theme.Muted.Render(st.Workspace.Namespace))
	}
	badge := m.theme.StatusBadge(st.Status)
	if st.Status.Active() {
		badge = m.spinner.View() + " " + badge
	}
	parts = append(parts, badge)

	if st.Selected != nil {
		parts = append(parts, m.theme.Muted.Render("model:")+" "+st.Selected.Title)
	}
	if st.Tunnel != nil {
		parts = append(parts, m.theme.Muted.Render("port "+st.Tunnel.LocalPort))
	}

	line := strings.Join(parts, "  ")
	if m.width > 0 {
		return m.theme.Header.Width(m.width).Render(util.TruncateWidth(line, m.width-2))
	}
	return m.theme.Header.Render(line)
}

// =============================================================================
// MESSAGES
// =============================================================================

func (m Model) renderMessages() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	for i, msg := range m.state.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg, width))
	}
	return b.String()
}

func (m Model) renderMessage(msg model.Message, width int) string {
	switch msg.Role {
	case model.RoleUser:
		bubble := m.theme.UserBubble.MaxWidth(width - 4).Render(msg.Content)
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, bubble)

	case model.RoleSystem:
		return m.theme.Note.Render(msg.Content)
	}

	content := msg.Content
	if msg.IsStreaming {
		if content == "" {
			return m.theme.Assistant.Render(m.spinner.View() + " thinking...")
		}
		return m.theme.Assistant.Width(width-4).Render(content) + m.theme.Cursor.Render("▌")
	}
	if m.markdown != nil {
		return m.markdown.render(msg.ID, content)
	}
	return m.theme.Assistant.Width(width - 4).Render(content)
}

// =============================================================================
// STATUS, INPUT, HELP
// =============================================================================

func (m Model) renderStatus() string {
	st := m.state
	var line string
	switch {
	case m.statusMsg != "":
		line = m.statusMsg
	case st.Status == model.StatusError:
		return m.theme.StatusBar.Render(m.theme.ErrorText.Render(
			util.SingleLine("Error: " + st.Reason)))
	case st.Busy:
		line = "Streaming reply..."
	case st.Status == model.StatusReady && len(st.Models) == 0:
		line = "No models reported by the workspace."
	case st.Status == model.StatusReady:
		line = fmt.Sprintf("%d model(s) available", len(st.Models))
	default:
		line = pendingLabel(st.Status)
	}
	return m.theme.StatusBar.Render(util.SingleLine(line))
}

func pendingLabel(s model.SessionStatus) string {
	if s == model.StatusIdle {
		return "Not connected. Press C-w to pick a workspace."
	}
	return s.String() + "..."
}

func (m Model) renderInput() string {
	style := m.theme.InputBorder
	if m.width > 0 {
		style = style.Width(m.width - 2)
	}
	return style.Render(m.input.View())
}

func (m Model) renderHelp() string {
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	return " " + strings.Join(parts, "  ")
}

// =============================================================================
// WORKSPACE PICKER
// =============================================================================

func (m Model) renderPicker() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Select a workspace"))
	b.WriteString("\n\n")

	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + " Loading workspaces...")
	case m.statusMsg != "":
		b.WriteString(m.theme.ErrorText.Render(m.statusMsg))
	case len(m.workspaces) == 0:
		b.WriteString(m.theme.Muted.Render("No KAITO workspaces found."))
	}

	for i, ws := range m.workspaces {
		state := "not ready"
		if ws.Ready() {
			state = "ready"
		}
		line := fmt.Sprintf("%s/%s  %s  %s", ws.Namespace, ws.Name, ws.Preset, state)
		if m.width > 0 {
			line = util.TruncateWidth(line, m.width-4)
		}
		if i == m.cursor {
			b.WriteString(m.theme.PickerSelected.Render("> " + line))
		} else {
			b.WriteString(m.theme.PickerItem.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.Muted.Render("↑/↓ move  Enter open  Esc back"))
	return b.String()
}
