// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// An assistant reply is created with IsStreaming set and grows in place as
// chunks arrive; it is never replaced by a second message.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Streaming state (not persisted)
	IsStreaming bool            `json:"-"`
	stream      strings.Builder `json:"-"`
	applied     int

	// Statistics for assistant replies
	ChunkCount    int           `json:"chunk_count,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty assistant message in streaming state.
func NewAssistantMessage() *Message {
	msg := NewMessage(RoleAssistant, "")
	msg.IsStreaming = true
	return msg
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

// =============================================================================
// STREAMING
// =============================================================================

// ApplyChunk appends the seq-th chunk (1-based) of a streamed reply.
// Chunks must arrive in order; a chunk that was already applied or that skips
// ahead is ignored and false is returned.
func (m *Message) ApplyChunk(seq int, text string) bool {
	if !m.IsStreaming || seq != m.applied+1 {
		return false
	}
	m.stream.WriteString(text)
	m.applied = seq
	return true
}

// Applied returns the sequence number of the last applied chunk.
func (m *Message) Applied() int {
	return m.applied
}

// FinalizeStream completes streaming and moves the streamed text into Content.
func (m *Message) FinalizeStream() {
	if !m.IsStreaming {
		return
	}
	m.Content = m.stream.String()
	m.stream.Reset()
	m.IsStreaming = false
	m.ChunkCount = m.applied
	m.TotalDuration = time.Since(m.Timestamp)
}

// Fail ends streaming with a failure note. Text streamed so far is kept and
// the note is appended after it.
func (m *Message) Fail(note string) {
	partial := m.GetDisplayContent()
	m.FinalizeStream()
	if partial == "" {
		m.Content = note
		return
	}
	m.Content = partial + "\n\n" + note
}

// GetDisplayContent returns the content to display (streaming or final).
// Snapshots of a streaming message carry their partial text in Content.
func (m *Message) GetDisplayContent() string {
	if m.IsStreaming && m.stream.Len() > 0 {
		return m.stream.String()
	}
	return m.Content
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0 && m.stream.Len() == 0
}

// Snapshot returns a detached copy safe to hand to another goroutine.
// A streaming message's partial text is carried in Content.
func (m *Message) Snapshot() Message {
	return Message{
		ID:            m.ID,
		Role:          m.Role,
		Content:       m.GetDisplayContent(),
		Timestamp:     m.Timestamp,
		IsStreaming:   m.IsStreaming,
		applied:       m.applied,
		ChunkCount:    m.ChunkCount,
		TotalDuration: m.TotalDuration,
	}
}

// Preview returns a truncated preview of the message content.
func (m *Message) Preview(maxLen int) string {
	runes := []rune(m.GetDisplayContent())
	if len(runes) <= maxLen {
		return string(runes)
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
