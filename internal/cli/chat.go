// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kaito-project/headlamp-kaito/internal/cluster"
	"github.com/kaito-project/headlamp-kaito/internal/config"
	"github.com/kaito-project/headlamp-kaito/internal/inference"
	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/session"
	"github.com/kaito-project/headlamp-kaito/internal/ui/chat"
)

func chatCmd(a *app) *cobra.Command {
	var modelID string

	cmd := &cobra.Command{
		Use:   "chat [[namespace/]workspace]",
		Short: "Interactive chat with a workspace",
		Long: `Opens a port-forward to the workspace's inference pod and starts an
interactive chat. Without a workspace argument a picker is shown.

Keys: Enter send, Tab next model, Ctrl+L clear, Ctrl+W switch workspace,
Esc stop port forwarding and quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsStdinTTY() || !isTerminal(a.out) {
				return errors.New("chat needs an interactive terminal; use 'kaito-chat ask' instead")
			}
			// The program owns the terminal from here on.
			if err := a.useLogFile(); err != nil {
				return err
			}
			if modelID != "" {
				a.cfg.Chat.Model = modelID
			}
			return a.runChat(cmd.Context(), args)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model to select when discovered")
	return cmd
}

func (a *app) runChat(ctx context.Context, args []string) error {
	notifier := chat.NewNotifier()
	defer notifier.Stop()

	stack, err := a.buildStack(notifier.Notify)
	if err != nil {
		return err
	}
	defer stack.shutdown()

	var ref model.WorkspaceRef
	if len(args) == 1 {
		if ref, err = parseWorkspace(args[0], a.namespace(stack.clients)); err != nil {
			return err
		}
	}

	lister := cluster.NewWorkspaceLister(stack.clients.Dynamic)
	ns := a.namespace(stack.clients)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.watchConfig(ctx, stack.manager)

	m := chat.New(chat.Options{
		Session:   stack.manager,
		Workspace: ref,
		ListWorkspaces: func(ctx context.Context) ([]cluster.Workspace, error) {
			return lister.List(ctx, ns)
		},
		Markdown:     a.cfg.UI.Markdown,
		GlamourStyle: a.cfg.UI.GlamourStyle,
		Context:      ctx,
		Logger:       a.logger,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	notifier.Attach(p)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat failed: %w", err)
	}
	return nil
}

// watchConfig applies edited chat parameters and log level while the chat
// runs. Cluster and tunnel settings take effect on the next start.
func (a *app) watchConfig(ctx context.Context, m *session.Manager) {
	err := config.Watch(ctx, a.cfgPath, func(cfg *config.Config, err error) {
		if err != nil {
			a.logger.Warn("config reload failed", "err", err)
			return
		}
		m.SetParams(inference.Params{
			Temperature: float32(cfg.Chat.Temperature),
			MaxTokens:   cfg.Chat.MaxTokens,
		})
		if a.opts.verbose || a.opts.logLevel != "" {
			return
		}
		if level, perr := log.ParseLevel(cfg.Log.Level); perr == nil {
			a.logger.SetLevel(level)
		}
		a.logger.Info("configuration reloaded", "temperature", cfg.Chat.Temperature, "max_tokens", cfg.Chat.MaxTokens)
	})
	if err != nil {
		a.logger.Debug("config watch unavailable", "path", a.cfgPath, "err", err)
	}
}
