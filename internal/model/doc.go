// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the chat session
// lifecycle: workspace references, resolved endpoints, tunnel handles,
// model options, messages and conversations.
//
// # Key Types
//
//   - WorkspaceRef: namespace + workspace name identifying a backend
//   - ResolvedEndpoint: pod and container port backing a workspace
//   - TunnelHandle: one open port-forward, keyed by PortForwardID
//   - ModelOption: a chat-capable model served behind a tunnel
//   - Message: single chat message, mutated in place while streaming
//   - Conversation: append-only ordered list of messages
//   - SessionStatus: Idle, Resolving, TunnelOpening, DiscoveringModels, Ready, Error
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.AddUserMessage("Hello!")
//	reply := conv.AddAssistantMessage()
//	reply.ApplyChunk(1, "Hi")
//	reply.FinalizeStream()
package model
