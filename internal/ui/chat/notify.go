// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kaito-project/headlamp-kaito/internal/session"
)

// Notifier forwards session change events to a running program.
//
// Notify never blocks: bursts of events (one per streamed chunk) collapse
// into a single pending SessionChangedMsg.
type Notifier struct {
	mu      sync.Mutex
	program *tea.Program
	pending chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// NewNotifier creates a notifier. Attach a program before events matter.
func NewNotifier() *Notifier {
	return &Notifier{
		pending: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Attach starts delivering to p.
func (n *Notifier) Attach(p *tea.Program) {
	n.mu.Lock()
	n.program = p
	n.mu.Unlock()
	go n.pump()
}

// Notify is a session.Config.OnChange callback.
func (n *Notifier) Notify(session.Event) {
	select {
	case n.pending <- struct{}{}:
	default:
	}
}

// Stop ends delivery.
func (n *Notifier) Stop() {
	n.once.Do(func() { close(n.stop) })
}

func (n *Notifier) pump() {
	for {
		select {
		case <-n.stop:
			return
		case <-n.pending:
			n.mu.Lock()
			p := n.program
			n.mu.Unlock()
			if p != nil {
				p.Send(SessionChangedMsg{})
			}
		}
	}
}
