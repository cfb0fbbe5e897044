// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "errors"

// Precondition errors returned without changing session state.
var (
	ErrNoWorkspace  = errors.New("no workspace selected")
	ErrNotReady     = errors.New("session is not ready")
	ErrBusy         = errors.New("a reply is still streaming")
	ErrNoModel      = errors.New("no model selected")
	ErrUnknownModel = errors.New("model not offered by this workspace")
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSuperseded is returned by an attempt or stream whose session was
	// closed or switched while it ran. Its results were discarded.
	ErrSuperseded = errors.New("session was closed or switched")
)

// ErrorKind is the failure taxonomy of a session.
type ErrorKind int

const (
	ResolutionFailed ErrorKind = iota
	TunnelOpenFailed
	DiscoveryFailed
	StreamFailed
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case ResolutionFailed:
		return "ResolutionFailed"
	case TunnelOpenFailed:
		return "TunnelOpenFailed"
	case DiscoveryFailed:
		return "DiscoveryFailed"
	case StreamFailed:
		return "StreamFailed"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) description() string {
	switch k {
	case ResolutionFailed:
		return "no inference pod found"
	case TunnelOpenFailed:
		return "failed to open port forward"
	case DiscoveryFailed:
		return "failed to list models"
	case StreamFailed:
		return "reply failed"
	default:
		return "session error"
	}
}

// Error is a component failure caught at the session boundary.
// Its message is the human-readable reason shown to the user.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.description()
	}
	return e.Kind.description() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a session error, if err is one.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}
