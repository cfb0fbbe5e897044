// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines all keyboard bindings for the chat view.
type KeyMap struct {
	Submit    key.Binding
	NextModel key.Binding
	Clear     key.Binding
	Switch    key.Binding
	Quit      key.Binding
	PageUp    key.Binding
	PageDown  key.Binding
	PickUp    key.Binding
	PickDown  key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		NextModel: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("Tab", "next model"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "clear"),
		),
		Switch: key.NewBinding(
			key.WithKeys("ctrl+w"),
			key.WithHelp("C-w", "workspace"),
		),
		Quit: key.NewBinding(
			key.WithKeys("esc", "ctrl+c"),
			key.WithHelp("Esc", "close"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
		PickUp: key.NewBinding(
			key.WithKeys("up", "k"),
		),
		PickDown: key.NewBinding(
			key.WithKeys("down", "j"),
		),
	}
}

// ShortHelp returns the bindings shown in the help line.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.NextModel, k.Clear, k.Switch, k.Quit}
}
