// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/session"
)

func modelsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "models [namespace/]workspace",
		Short: "List the models a workspace serves",
		Long: `Opens a port-forward to the workspace, lists the models reported by its
OpenAI-compatible /v1/models endpoint and closes the tunnel again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := a.buildStack(nil)
			if err != nil {
				return err
			}
			defer stack.shutdown()

			ref, err := parseWorkspace(args[0], a.namespace(stack.clients))
			if err != nil {
				return err
			}
			if err := stack.manager.Ensure(cmd.Context(), ref); err != nil {
				return err
			}
			return writeModels(a.out, stack.manager.Snapshot(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func writeModels(w io.Writer, st session.State, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		models := st.Models
		if models == nil {
			models = []model.ModelOption{}
		}
		return enc.Encode(models)
	}

	if len(st.Models) == 0 {
		fmt.Fprintf(w, "Workspace %s reported no models.\n", st.Workspace)
		return nil
	}
	for _, opt := range st.Models {
		marker := "  "
		if st.Selected != nil && st.Selected.Value == opt.Value {
			marker = "* "
		}
		line := marker + opt.Value
		if opt.SupportsTools {
			line += mutedStyle.Render("  (tools)")
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
