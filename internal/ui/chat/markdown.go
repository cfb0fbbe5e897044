// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer renders finished assistant replies with glamour.
// Rendered output is cached per message; a streaming reply is never cached.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]string
}

func newMarkdownRenderer(style string) *markdownRenderer {
	return &markdownRenderer{style: style, width: 80, cache: make(map[string]string)}
}

func (r *markdownRenderer) setWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width == r.width {
		return
	}
	r.width = width
	r.renderer = nil
	clear(r.cache)
}

// render returns the markdown rendering of content, or content itself if
// glamour fails.
func (r *markdownRenderer) render(id, content string) string {
	key := id + "\x00" + content
	if out, ok := r.cache[key]; ok {
		return out
	}
	if r.renderer == nil {
		tr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(r.width),
		)
		if err != nil {
			return content
		}
		r.renderer = tr
	}
	out, err := r.renderer.Render(content)
	if err != nil {
		return content
	}
	out = strings.Trim(out, "\n")
	r.cache[key] = out
	return out
}
