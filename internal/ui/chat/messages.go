// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/kaito-project/headlamp-kaito/internal/cluster"
)

// SessionChangedMsg signals that the session state changed.
type SessionChangedMsg struct{}

// EnsureDoneMsg reports the outcome of starting a session.
type EnsureDoneMsg struct {
	Err error
}

// SendDoneMsg reports the end of a reply.
type SendDoneMsg struct {
	Err error
}

// ClosedMsg reports that the session was closed.
type ClosedMsg struct {
	Err error
}

// WorkspacesMsg delivers the workspace list for the picker.
type WorkspacesMsg struct {
	Workspaces []cluster.Workspace
	Err        error
}
