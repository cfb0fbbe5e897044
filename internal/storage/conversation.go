// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/util"
)

// =============================================================================
// STORED CONVERSATION TYPE
// =============================================================================

// StoredConversation represents a persisted transcript.
type StoredConversation struct {
	ID        string             `json:"id" yaml:"id"`
	Summary   string             `json:"summary" yaml:"summary"`
	Workspace model.WorkspaceRef `json:"workspace" yaml:"workspace"`
	Model     string             `json:"model" yaml:"model"`
	CreatedAt time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" yaml:"updated_at"`

	Messages []StoredMessage `json:"messages" yaml:"messages"`
}

// StoredMessage represents a persisted message.
type StoredMessage struct {
	ID        string    `json:"id" yaml:"id"`
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Statistics (for assistant messages)
	ChunkCount int   `json:"chunk_count,omitempty" yaml:"chunk_count,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// ConversationMeta is the listing view of a transcript.
type ConversationMeta struct {
	ID           string
	Summary      string
	Workspace    model.WorkspaceRef
	Model        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FromConversation converts a live conversation. Messages still streaming
// are stored with the text received so far.
func FromConversation(conv *model.Conversation) *StoredConversation {
	stored := &StoredConversation{
		ID:        conv.ID,
		Workspace: conv.Workspace,
		Model:     conv.Model,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]StoredMessage, 0, len(conv.Messages)),
	}
	for _, msg := range conv.Messages {
		stored.Messages = append(stored.Messages, StoredMessage{
			ID:         msg.ID,
			Role:       string(msg.Role),
			Content:    msg.GetDisplayContent(),
			Timestamp:  msg.Timestamp,
			ChunkCount: msg.ChunkCount,
			DurationMs: msg.TotalDuration.Milliseconds(),
		})
	}
	stored.Summary = generateSummary(stored)
	return stored
}

// GetPreview returns a preview string from the first user message.
func (c *StoredConversation) GetPreview() string {
	for _, msg := range c.Messages {
		if msg.Role == string(model.RoleUser) && msg.Content != "" {
			return util.TruncateWidth(util.SingleLine(msg.Content), 80)
		}
	}
	return ""
}

// MessageCount returns the number of messages in the conversation.
func (c *StoredConversation) MessageCount() int {
	return len(c.Messages)
}

// =============================================================================
// EXPORT
// =============================================================================

// Export formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// Export renders the transcript in the named format.
func (c *StoredConversation) Export(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatMarkdown, "md", "":
		return []byte(c.ExportMarkdown()), nil
	case FormatJSON:
		return c.ExportJSON()
	case FormatYAML, "yml":
		return c.ExportYAML()
	default:
		return nil, fmt.Errorf("unknown export format %q (want markdown, json or yaml)", format)
	}
}

// ExportMarkdown renders the transcript with a metadata header and one
// section per message.
func (c *StoredConversation) ExportMarkdown() string {
	var sb strings.Builder
	sb.WriteString("# " + c.Workspace.WorkspaceName + " (" + c.Workspace.Namespace + ")\n\n")
	sb.WriteString("- Conversation: " + c.ID + "\n")
	if c.Model != "" {
		sb.WriteString("- Model: " + c.Model + "\n")
	}
	sb.WriteString("- Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		role := "**User**"
		switch msg.Role {
		case string(model.RoleAssistant):
			role = "**Assistant**"
		case string(model.RoleSystem):
			role = "**System**"
		}
		sb.WriteString(role + " (" + msg.Timestamp.Format("15:04") + "):\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

// ExportJSON renders the transcript as indented JSON.
func (c *StoredConversation) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ExportYAML renders the transcript as YAML.
func (c *StoredConversation) ExportYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// =============================================================================
// LIST FORMATTING
// =============================================================================

// FormatSessionList renders metadata as a fixed-width table.
func FormatSessionList(sessions []ConversationMeta) string {
	if len(sessions) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(util.FitWidth("ID", 10) + " " +
		util.FitWidth("Updated", 16) + " " +
		util.FitWidth("Workspace", 28) + " " +
		util.FitWidth("Msgs", 5) + " Summary\n")
	sb.WriteString(strings.Repeat("-", 90) + "\n")

	for _, s := range sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		sb.WriteString(util.FitWidth(id, 10) + " " +
			util.FitWidth(s.UpdatedAt.Format("2006-01-02 15:04"), 16) + " " +
			util.FitWidth(s.Workspace.String(), 28) + " " +
			util.FitWidth(strconv.Itoa(s.MessageCount), 5) + " " +
			util.TruncateWidth(s.Summary, 40) + "\n")
	}
	return sb.String()
}
