// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the interactive chat view for kaito-chat.
//
// The view is a Bubble Tea model over a session. It never mutates the
// transcript itself: session state changes arrive as SessionChangedMsg
// (pumped by a Notifier from the session's change callback) and the view
// re-reads a snapshot. Blocking session calls (ensure, send, close) always
// run inside tea.Cmd goroutines.
//
// Keys:
//
//	Enter   send the message
//	Tab     cycle the selected model
//	Ctrl+L  clear the conversation
//	Ctrl+W  switch workspace
//	Esc     close the tunnel and quit
package chat
