// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"strings"
)

// =============================================================================
// WORKSPACE
// =============================================================================

// WorkspaceRef identifies the logical backend a chat session talks to.
type WorkspaceRef struct {
	Namespace     string `json:"namespace" yaml:"namespace"`
	WorkspaceName string `json:"workspace_name" yaml:"workspace_name"`
}

// String returns "namespace/name".
func (r WorkspaceRef) String() string {
	return r.Namespace + "/" + r.WorkspaceName
}

// IsZero reports whether the ref names no workspace.
func (r WorkspaceRef) IsZero() bool {
	return r.WorkspaceName == ""
}

// ResolvedEndpoint is the concrete pod and container port serving a workspace.
// It is recomputed for every session; pods are not stable identifiers.
type ResolvedEndpoint struct {
	PodName    string `json:"pod_name"`
	TargetPort int    `json:"target_port"`
}

// =============================================================================
// TUNNEL
// =============================================================================

// TunnelHandle represents one open port-forward.
// PortForwardID is the only key used to close it.
type TunnelHandle struct {
	PortForwardID string `json:"port_forward_id"`
	LocalPort     string `json:"local_port"`
	Namespace     string `json:"namespace" yaml:"namespace"`
}

// BaseURL returns the OpenAI-compatible base URL reachable through the tunnel.
func (h TunnelHandle) BaseURL(host string) string {
	if host == "" {
		host = "localhost"
	}
	return "http://" + host + ":" + h.LocalPort + "/v1"
}

// =============================================================================
// MODEL OPTIONS
// =============================================================================

// ModelOption is a chat-capable model exposed by a tunnel's model listing.
type ModelOption struct {
	Title         string `json:"title"`
	Value         string `json:"value"`
	SupportsTools bool   `json:"supports_tools,omitempty"`
}

// toolModelPatterns lists model-name fragments known to support tool calls.
var toolModelPatterns = []string{"llama"}

// NewModelOption builds an option whose title and value are both the model id.
func NewModelOption(id string) ModelOption {
	return ModelOption{
		Title:         id,
		Value:         id,
		SupportsTools: SupportsTools(id),
	}
}

// SupportsTools reports whether a model name matches a tool-capable family.
func SupportsTools(modelName string) bool {
	if modelName == "" {
		return false
	}
	lower := strings.ToLower(modelName)
	for _, p := range toolModelPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// FindModel returns the option whose value matches, if any.
func FindModel(options []ModelOption, value string) (ModelOption, bool) {
	for _, opt := range options {
		if opt.Value == value {
			return opt, true
		}
	}
	return ModelOption{}, false
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus int

const (
	StatusIdle SessionStatus = iota
	StatusResolving
	StatusTunnelOpening
	StatusDiscoveringModels
	StatusReady
	StatusError
)

// String returns the status name.
func (s SessionStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusResolving:
		return "Resolving"
	case StatusTunnelOpening:
		return "TunnelOpening"
	case StatusDiscoveringModels:
		return "DiscoveringModels"
	case StatusReady:
		return "Ready"
	case StatusError:
		return "Error"
	default:
		return "Unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Active reports whether the session is starting or started.
// Ensuring a session that is already active for the same workspace is a no-op.
func (s SessionStatus) Active() bool {
	switch s {
	case StatusResolving, StatusTunnelOpening, StatusDiscoveringModels, StatusReady:
		return true
	}
	return false
}
