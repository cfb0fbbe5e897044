// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat transcripts for kaito-chat.
//
// Transcripts live in a single SQLite database (pure Go driver), one row per
// conversation with the messages stored as JSON. The store is written after
// every completed reply and when a session closes.
//
// # Key Types
//
//   - Store: SQLite-backed transcript store
//   - StoredConversation: Serializable conversation with metadata
//   - ConversationMeta: Lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.Open("~/.kaito-chat/transcripts.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	metas, err := store.List(ctx, 20)
//	conv, err := store.Get(ctx, metas[0].ID)
//	md := conv.ExportMarkdown()
package storage
