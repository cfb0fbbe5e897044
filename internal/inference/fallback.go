// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// FailureKind categorizes a failed stream for the user-facing fallback.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureTimeout
	FailureConnectionRefused
)

// String returns the category name.
func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureConnectionRefused:
		return "connection-refused"
	default:
		return "other"
	}
}

// Categorize classifies a stream error.
func Categorize(err error) FailureKind {
	if err == nil {
		return FailureOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureConnectionRefused
	}

	// errors that crossed a process boundary arrive as text only
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return FailureTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "econnrefused"):
		return FailureConnectionRefused
	}
	return FailureOther
}

// Suggestions are appended to fallback messages.
var Suggestions = []string{
	"I can help you with a wide range of technical questions or general inquiries.",
	"Feel free to ask about software development, troubleshooting, or best practices.",
	"What specific topic or problem would you like assistance with?",
}

const fallbackNote = "(Using fallback response - please check AI service configuration)"

// FailureMessage returns the user-facing description of err.
func FailureMessage(err error) string {
	switch Categorize(err) {
	case FailureTimeout:
		return "Connection timed out. The AI service might be unavailable."
	case FailureConnectionRefused:
		return "Cannot connect to AI service. Please check the endpoint configuration."
	default:
		msg := "unknown error"
		if err != nil {
			msg = err.Error()
		}
		return "AI service error: " + msg
	}
}

// Fallback renders the synthetic assistant text for a failed stream.
// pick chooses a suggestion index in [0, n); nil picks the first.
func Fallback(err error, pick func(n int) int) string {
	i := 0
	if pick != nil {
		i = pick(len(Suggestions))
		if i < 0 || i >= len(Suggestions) {
			i = 0
		}
	}
	return FailureMessage(err) + "\n\n" + Suggestions[i] + "\n\n" + fallbackNote
}
