// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kaito-project/headlamp-kaito/internal/cluster"
	"github.com/kaito-project/headlamp-kaito/internal/config"
	"github.com/kaito-project/headlamp-kaito/internal/logging"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// skipConfig marks commands that must run even when the config file is broken.
const skipConfig = "skip-config"

// rootOptions holds the global flags.
type rootOptions struct {
	configPath  string
	kubeconfig  string
	kubeContext string
	namespace   string
	logLevel    string
	verbose     bool
}

// app is the state shared by every command for one invocation.
type app struct {
	opts    rootOptions
	cfg     *config.Config
	cfgPath string

	logger   *log.Logger
	closeLog func() error

	out    io.Writer
	errOut io.Writer

	// newClients builds cluster clients; replaced in tests
	newClients func(cluster.ClientOptions) (*cluster.Clients, error)
}

func newApp() *app {
	return &app{
		out:        os.Stdout,
		errOut:     os.Stderr,
		logger:     logging.Discard(),
		closeLog:   func() error { return nil },
		newClients: cluster.NewClients,
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "kaito-chat",
		Short: "Chat with models served by KAITO workspaces",
		Long: `kaito-chat opens a port-forward to the pod serving a KAITO workspace,
discovers the models it exposes through the OpenAI-compatible API and
streams chat completions through the tunnel.

Quick Start:
  kaito-chat workspaces                 # List workspaces
  kaito-chat chat default/phi-3         # Interactive chat
  kaito-chat ask phi-3 "Hello there"    # One-shot question`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.configPath, "config", "", "Config file (default: ~/.kaito-chat/config.toml)")
	flags.StringVar(&a.opts.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file")
	flags.StringVar(&a.opts.kubeContext, "context", "", "Kubeconfig context to use")
	flags.StringVarP(&a.opts.namespace, "namespace", "n", "", "Namespace of the workspace")
	flags.StringVar(&a.opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.AddCommand(
		workspacesCmd(a),
		chatCmd(a),
		askCmd(a),
		modelsCmd(a),
		historyCmd(a),
		configCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	a := newApp()
	root := newRootCmd(a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	_ = a.closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// =============================================================================
// CONFIG AND LOGGING
// =============================================================================

// load reads the config file, applies flag overrides and builds the
// stderr logger.
func (a *app) load() error {
	path, err := a.configFile()
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	a.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.cfgPath = path

	logger, closer, err := logging.New(logging.Options{Level: cfg.Log.Level, Writer: a.errOut})
	if err != nil {
		return err
	}
	a.logger = logger
	a.closeLog = closer
	return nil
}

func (a *app) applyFlags(cfg *config.Config) {
	if a.opts.kubeconfig != "" {
		cfg.Cluster.Kubeconfig = a.opts.kubeconfig
	}
	if a.opts.kubeContext != "" {
		cfg.Cluster.Context = a.opts.kubeContext
	}
	if a.opts.namespace != "" {
		cfg.Cluster.Namespace = a.opts.namespace
	}
	if a.opts.logLevel != "" {
		cfg.Log.Level = a.opts.logLevel
	}
	if a.opts.verbose {
		cfg.Log.Level = "debug"
	}
}

// useLogFile redirects logging to the configured log file, for surfaces
// that own the terminal.
func (a *app) useLogFile() error {
	logger, closer, err := logging.New(logging.Options{Level: a.cfg.Log.Level, File: a.cfg.Log.File})
	if err != nil {
		return err
	}
	_ = a.closeLog()
	a.logger = logger
	a.closeLog = closer
	return nil
}
