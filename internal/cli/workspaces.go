// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kaito-project/headlamp-kaito/internal/cluster"
	"github.com/kaito-project/headlamp-kaito/internal/ui/styles"
	"github.com/kaito-project/headlamp-kaito/internal/util"
)

func workspacesCmd(a *app) *cobra.Command {
	var allNamespaces bool

	cmd := &cobra.Command{
		Use:     "workspaces",
		Aliases: []string{"ws"},
		Short:   "List KAITO workspaces",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := a.connect()
			if err != nil {
				return err
			}
			ns := a.namespace(clients)
			if allNamespaces {
				ns = ""
			}
			list, err := cluster.NewWorkspaceLister(clients.Dynamic).List(cmd.Context(), ns)
			if err != nil {
				return err
			}
			writeWorkspaces(a.out, list)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "List workspaces in every namespace")
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(styles.Purple)
	readyStyle  = lipgloss.NewStyle().Foreground(styles.Emerald)
	mutedStyle  = lipgloss.NewStyle().Foreground(styles.TextMuted)
)

func writeWorkspaces(w io.Writer, list []cluster.Workspace) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No KAITO workspaces found.")
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-14s %-28s %-24s %-18s %-10s %s",
		"NAMESPACE", "NAME", "PRESET", "INSTANCE", "READY", "AGE")))
	for _, ws := range list {
		ready := mutedStyle.Render(util.FitWidth("no", 10))
		if ws.Ready() {
			ready = readyStyle.Render(util.FitWidth("yes", 10))
		}
		fmt.Fprintf(w, "%s %s %s %s %s %s\n",
			util.FitWidth(ws.Namespace, 14),
			util.FitWidth(ws.Name, 28),
			util.FitWidth(orDash(ws.Preset), 24),
			util.FitWidth(orDash(ws.InstanceType), 18),
			ready,
			age(ws.CreatedAt.Time))
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// age formats how long ago t was, kubectl style.
func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
