// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package portforward owns the tunnel lifecycle between a local port and a
// workspace pod.
//
// Controller is the single place tunnels are opened and closed. Tunnels are
// keyed by "workspaceName/namespace", so reopening a workspace that already
// has a live tunnel returns the existing one instead of failing. Closing a
// tunnel that is already gone is treated as success.
//
// The Host interface performs the actual forwarding. SPDYHost implements it
// with client-go's port-forward support against the pod's portforward
// subresource.
//
// Usage:
//
//	ctrl := portforward.NewController(host, portforward.DefaultConfig())
//	handle, err := ctrl.Open(ctx, endpoint, "default", "workspace-phi-4")
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close(context.Background(), handle)
package portforward
