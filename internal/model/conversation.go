// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// WelcomeMessage seeds every new conversation.
const WelcomeMessage = "Hello! I'm your AI assistant. How can I help you today?"

// welcomeID is the fixed id of the seeded welcome message.
const welcomeID = "welcome"

// MaxMessages bounds conversation history; the oldest turns are pruned first.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered, append-only list of chat messages.
type Conversation struct {
	ID        string       `json:"id"`
	Workspace WorkspaceRef `json:"workspace"`
	Model     string       `json:"model"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	Messages []*Message `json:"messages"`

	// SystemPrompt is sent ahead of the history when set.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// NewConversation creates a conversation seeded with the welcome message.
func NewConversation() *Conversation {
	now := time.Now()
	c := &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.seed()
	return c
}

// NewConversationFor creates a conversation bound to a workspace.
func NewConversationFor(ref WorkspaceRef) *Conversation {
	c := NewConversation()
	c.Workspace = ref
	return c
}

func (c *Conversation) seed() {
	c.Messages = []*Message{{
		ID:        welcomeID,
		Role:      RoleAssistant,
		Content:   WelcomeMessage,
		Timestamp: time.Now(),
	}}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.pruneOldMessages()
}

// AddUserMessage creates and adds a user message.
func (c *Conversation) AddUserMessage(content string) *Message {
	msg := NewUserMessage(content)
	c.AddMessage(msg)
	return msg
}

// AddAssistantMessage creates and adds a streaming assistant message.
func (c *Conversation) AddAssistantMessage() *Message {
	msg := NewAssistantMessage()
	c.AddMessage(msg)
	return msg
}

// AddNote adds a finished assistant message, used for lifecycle notices.
func (c *Conversation) AddNote(content string) *Message {
	msg := NewMessage(RoleAssistant, content)
	c.AddMessage(msg)
	return msg
}

// GetMessageByID returns a message by its ID.
func (c *Conversation) GetMessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// GetLastMessage returns the most recent message, or nil if empty.
func (c *Conversation) GetLastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Clear resets the conversation to the welcome message.
func (c *Conversation) Clear() {
	c.seed()
	c.UpdatedAt = time.Now()
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// History returns the context to send with the next completion request:
// the system prompt (if any) followed by every finished, non-empty message
// in order. Streaming placeholders are excluded.
func (c *Conversation) History() []Message {
	out := make([]Message, 0, len(c.Messages)+1)
	if c.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: c.SystemPrompt})
	}
	for _, msg := range c.Messages {
		if msg.IsStreaming || msg.IsEmpty() {
			continue
		}
		out = append(out, msg.Snapshot())
	}
	return out
}

// Snapshot returns detached copies of every message.
func (c *Conversation) Snapshot() []Message {
	out := make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		out[i] = msg.Snapshot()
	}
	return out
}

// Clone returns a detached copy, used when persisting while streaming continues.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]*Message, len(c.Messages))
	for i, msg := range c.Messages {
		snap := msg.Snapshot()
		out.Messages[i] = &snap
	}
	return &out
}

// pruneOldMessages drops the oldest messages beyond MaxMessages,
// never dropping a message that is still streaming.
func (c *Conversation) pruneOldMessages() {
	excess := len(c.Messages) - MaxMessages
	if excess <= 0 {
		return
	}
	kept := make([]*Message, 0, MaxMessages)
	for _, msg := range c.Messages {
		if excess > 0 && !msg.IsStreaming {
			excess--
			continue
		}
		kept = append(kept, msg)
	}
	c.Messages = kept
}
