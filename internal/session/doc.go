// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates a chat session against a KAITO workspace.
//
// A Manager owns at most one tunnel. Ensure resolves the workspace pod,
// opens the tunnel and discovers models; Send streams replies; Close tears
// everything down. Component failures are caught here and turned into an
// Error status with a reason, or, for streams, a fallback assistant message.
//
// Collaborators are injected through Config so tests can substitute fakes:
//
//	mgr := session.NewManager(session.Config{
//	    Resolver:   cluster.NewResolver(clients.Clientset),
//	    Tunnels:    portforward.NewController(host, nil),
//	    Discoverer: discovery.NewDiscoverer(nil),
//	    Chat:       inference.NewClient(nil),
//	})
//	if err := mgr.Ensure(ctx, ref); err != nil {
//	    return err
//	}
//	defer mgr.Close(context.Background())
package session
