// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaito-project/headlamp-kaito/internal/cluster"
	"github.com/kaito-project/headlamp-kaito/internal/discovery"
	"github.com/kaito-project/headlamp-kaito/internal/inference"
	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/portforward"
	"github.com/kaito-project/headlamp-kaito/internal/session"
	"github.com/kaito-project/headlamp-kaito/internal/storage"
)

// shutdownTimeout bounds the final tunnel teardown when a command exits.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// WORKSPACE ARGUMENTS
// =============================================================================

// parseWorkspace accepts "namespace/name" or "name".
func parseWorkspace(arg, namespace string) (model.WorkspaceRef, error) {
	arg = strings.TrimSpace(arg)
	ns, name, found := strings.Cut(arg, "/")
	if !found {
		ns, name = namespace, arg
	}
	if name == "" || strings.Contains(name, "/") {
		return model.WorkspaceRef{}, fmt.Errorf("invalid workspace %q: expected [namespace/]name", arg)
	}
	if ns == "" {
		ns = "default"
	}
	return model.WorkspaceRef{Namespace: ns, WorkspaceName: name}, nil
}

// namespace picks the namespace for unqualified workspace names: the flag or
// config value, then the kubeconfig context's namespace.
func (a *app) namespace(clients *cluster.Clients) string {
	if a.opts.namespace != "" {
		return a.opts.namespace
	}
	if ns := a.cfg.Cluster.Namespace; ns != "" && ns != "default" {
		return ns
	}
	if clients != nil && clients.Namespace != "" {
		return clients.Namespace
	}
	return "default"
}

// =============================================================================
// COMPONENTS
// =============================================================================

func (a *app) connect() (*cluster.Clients, error) {
	return a.newClients(cluster.ClientOptions{
		Kubeconfig: a.cfg.Cluster.Kubeconfig,
		Context:    a.cfg.Cluster.Context,
	})
}

// openStore opens the transcript store, or returns nil when storage is off.
func (a *app) openStore() (*storage.Store, error) {
	if !a.cfg.Storage.Enabled {
		return nil, nil
	}
	store, err := storage.Open(a.cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript store: %w", err)
	}
	return store, nil
}

// chatStack is everything a workspace session needs.
type chatStack struct {
	clients *cluster.Clients
	host    *portforward.SPDYHost
	store   *storage.Store
	manager *session.Manager
}

// buildStack connects to the cluster and wires a session manager.
// onChange may be nil.
func (a *app) buildStack(onChange func(session.Event)) (*chatStack, error) {
	clients, err := a.connect()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	cfg := a.cfg
	host := portforward.NewSPDYHost(clients.Config, clients.Clientset, a.logger)
	tunnels := portforward.NewController(host, &portforward.Config{
		PortMin:     cfg.Tunnel.PortMin,
		PortMax:     cfg.Tunnel.PortMax,
		Address:     cfg.Tunnel.Address,
		OpenTimeout: cfg.Tunnel.OpenTimeout(),
		Logger:      a.logger,
	})
	discoverer := discovery.NewDiscoverer(&discovery.Config{
		MaxAttempts: cfg.Discovery.MaxAttempts,
		RetryDelay:  cfg.Discovery.RetryDelay(),
		Host:        cfg.Tunnel.Address,
		Logger:      a.logger,
	})
	chat := inference.NewClient(&inference.ClientConfig{
		Host:   cfg.Tunnel.Address,
		Logger: a.logger,
	})

	scfg := session.Config{
		Resolver:   cluster.NewResolver(clients.Clientset),
		Tunnels:    tunnels,
		Discoverer: discoverer,
		Chat:       chat,
		Params: inference.Params{
			Temperature: float32(cfg.Chat.Temperature),
			MaxTokens:   cfg.Chat.MaxTokens,
		},
		SystemPrompt:  cfg.Chat.SystemPrompt,
		DefaultModel:  cfg.Chat.Model,
		StreamTimeout: cfg.Chat.StreamTimeout(),
		OnChange:      onChange,
		Logger:        a.logger,
	}
	if store != nil {
		scfg.Store = store
	}

	return &chatStack{
		clients: clients,
		host:    host,
		store:   store,
		manager: session.NewManager(scfg),
	}, nil
}

// shutdown closes the session and anything still forwarding, then the store.
func (s *chatStack) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = s.manager.Close(ctx)
	s.host.StopAll(ctx)
	if s.store != nil {
		_ = s.store.Close()
	}
}
