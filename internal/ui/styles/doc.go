// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the kaito-chat TUI.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection. Theme builds the composed styles once; views read them rather
than constructing styles per frame.

# Colors

  - Purple - assistant messages and selections
  - Cyan - brand, workspace names, user highlights
  - Emerald - Ready status
  - Amber - in-progress statuses and notices
  - Rose - Error status and failure text

# Session status

StatusStyle maps a session status to its badge style, and StatusLabel to the
short label shown in the header.
*/
package styles
