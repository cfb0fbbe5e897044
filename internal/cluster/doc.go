// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cluster provides the Kubernetes reads kaito-chat depends on.
//
// # Key Types
//
//   - Clients: rest config, typed clientset and dynamic client for one kubeconfig context
//   - Resolver: finds the pod and container port serving a KAITO workspace
//   - WorkspaceLister: lists kaito.sh Workspace custom resources
//
// Resolution is a single point-in-time read: the first pod matching
// kaito.sh/workspace=<name>, and the first container port it declares.
// Multi-replica or multi-port workspaces are not disambiguated.
package cluster
