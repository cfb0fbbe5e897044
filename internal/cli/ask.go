// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/session"
)

func askCmd(a *app) *cobra.Command {
	var modelID string

	cmd := &cobra.Command{
		Use:   "ask [namespace/]workspace question...",
		Short: "Ask a single question",
		Long: `Opens a port-forward, sends one question and streams the reply to stdout.
The tunnel is closed before the command returns.

When stdin is not a terminal and no question is given, the question is read
from stdin.`,
		Example: `  kaito-chat ask phi-3 "What is KAITO?"
  kaito-chat ask kaito/falcon-7b --model falcon-7b-instruct "Summarize this"
  cat notes.md | kaito-chat ask phi-3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args[1:], " "))
			if question == "" && !IsStdinTTY() {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read question: %w", err)
				}
				question = strings.TrimSpace(string(data))
			}
			if question == "" {
				return errors.New("no question given")
			}
			if modelID != "" {
				a.cfg.Chat.Model = modelID
			}
			return a.runAsk(cmd.Context(), args[0], question)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model to use (default: first discovered)")
	return cmd
}

func (a *app) runAsk(ctx context.Context, workspace, question string) error {
	// Markdown needs the whole reply; otherwise chunks are printed as they land.
	stream := !(a.cfg.UI.Markdown && isTerminal(a.out))

	var printer *streamPrinter
	var onChange func(session.Event)
	if stream {
		printer = newStreamPrinter(a.out)
		onChange = printer.notify
	}

	stack, err := a.buildStack(onChange)
	if err != nil {
		return err
	}
	defer stack.shutdown()
	if printer != nil {
		printer.attach(stack.manager)
		defer printer.stop()
	}

	ref, err := parseWorkspace(workspace, a.namespace(stack.clients))
	if err != nil {
		return err
	}
	if err := stack.manager.Ensure(ctx, ref); err != nil {
		return err
	}
	if a.cfg.Chat.Model != "" {
		if err := stack.manager.SelectModel(a.cfg.Chat.Model); err != nil {
			return fmt.Errorf("model %q: %w", a.cfg.Chat.Model, err)
		}
	}

	sendErr := stack.manager.Send(ctx, question)
	reply := lastAssistant(stack.manager.Snapshot().Messages)

	if printer != nil {
		printer.flush()
		fmt.Fprintln(a.out)
	} else {
		a.display(a.out, reply.Content)
	}

	if sendErr != nil {
		if kind, ok := session.KindOf(sendErr); ok && kind == session.StreamFailed {
			// The fallback text is already in the reply.
			return fmt.Errorf("reply failed: %w", errors.Unwrap(sendErr))
		}
		return sendErr
	}
	return nil
}

// lastAssistant returns the newest assistant message.
func lastAssistant(msgs []model.Message) model.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return msgs[i]
		}
	}
	return model.Message{}
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes the growing reply to out as session events arrive.
// Events are coalesced; a pump goroutine reads the snapshot outside the
// manager's callback.
type streamPrinter struct {
	out     io.Writer
	pending chan struct{}
	done    chan struct{}
	exited  chan struct{}

	mu      sync.Mutex
	snap    func() session.State
	replyID string
	printed int
}

func newStreamPrinter(out io.Writer) *streamPrinter {
	return &streamPrinter{
		out:     out,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

type snapshotter interface {
	Snapshot() session.State
}

func (p *streamPrinter) attach(s snapshotter) {
	p.mu.Lock()
	p.snap = s.Snapshot
	p.mu.Unlock()
	go p.pump()
}

func (p *streamPrinter) notify(ev session.Event) {
	if ev.Kind != session.EventMessage && ev.Kind != session.EventStreamDone {
		return
	}
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

func (p *streamPrinter) pump() {
	defer close(p.exited)
	for {
		select {
		case <-p.done:
			return
		case <-p.pending:
			p.flush()
		}
	}
}

func (p *streamPrinter) stop() {
	close(p.done)
	<-p.exited
}

// flush prints whatever part of the current reply has not been printed.
func (p *streamPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap == nil {
		return
	}

	msgs := p.snap().Messages
	if len(msgs) == 0 {
		return
	}
	reply := msgs[len(msgs)-1]
	if reply.Role != model.RoleAssistant {
		return
	}
	if reply.ID != p.replyID {
		p.replyID = reply.ID
		p.printed = 0
	}
	if len(reply.Content) > p.printed {
		io.WriteString(p.out, reply.Content[p.printed:])
		p.printed = len(reply.Content)
	}
}
