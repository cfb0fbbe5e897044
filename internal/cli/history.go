// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kaito-project/headlamp-kaito/internal/storage"
	"github.com/kaito-project/headlamp-kaito/internal/util"
)

func historyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"sessions"},
		Short:   "Manage saved chat transcripts",
		Long: `Transcripts are saved after every reply and when a session closes.
Conversation IDs may be abbreviated to any unique prefix.`,
	}
	cmd.AddCommand(
		historyListCmd(a),
		historyShowCmd(a),
		historyExportCmd(a),
		historyDeleteCmd(a),
	)
	return cmd
}

// withStore opens the transcript store for the duration of fn.
func (a *app) withStore(fn func(*storage.Store) error) error {
	if !a.cfg.Storage.Enabled {
		return errors.New("transcript storage is disabled (storage.enabled = false)")
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func historyListCmd(a *app) *cobra.Command {
	var (
		limit  int
		search string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved transcripts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.Store) error {
				metas, err := store.Search(cmd.Context(), search, limit)
				if err != nil {
					return err
				}
				fmt.Fprint(a.out, storage.FormatSessionList(metas))
				if len(metas) == 0 {
					fmt.Fprintln(a.out)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum transcripts to list (0 = all)")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Only transcripts containing this text")
	return cmd
}

func historyShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.Store) error {
				conv, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				a.display(a.out, conv.ExportMarkdown())
				return nil
			})
		},
	}
}

func historyExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a transcript as markdown, JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.Store) error {
				conv, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := conv.Export(format)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err := a.out.Write(data)
					return err
				}
				if err := util.AtomicWriteFile(output, data, 0600); err != nil {
					return fmt.Errorf("failed to write export: %w", err)
				}
				fmt.Fprintf(a.errOut, "Exported %s to %s\n", conv.ID, output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", storage.FormatMarkdown, "Export format: markdown, json, yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func historyDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a transcript",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.Store) error {
				conv, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := store.Delete(cmd.Context(), conv.ID); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted %s\n", conv.ID)
				return nil
			})
		},
	}
}
