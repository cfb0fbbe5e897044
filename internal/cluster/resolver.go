// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cluster

import (
	"context"
	"errors"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// WorkspaceLabel is the pod label KAITO sets to the owning workspace name.
const WorkspaceLabel = "kaito.sh/workspace"

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrNotFound reports that no pod or port backs a workspace.
var ErrNotFound = errors.New("workspace endpoint not found")

// ResolveError describes a failed resolution.
type ResolveError struct {
	Ref    model.WorkspaceRef
	Reason string
	Cause  error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("could not resolve pod or target port for %s: %s", e.Ref.WorkspaceName, e.Reason)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrNotFound
}

// IsNotFound reports whether err means no backing pod or port exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver looks up the pod and container port serving a workspace.
type Resolver struct {
	client kubernetes.Interface
}

// NewResolver creates a resolver backed by the given clientset.
func NewResolver(client kubernetes.Interface) *Resolver {
	return &Resolver{client: client}
}

// WorkspaceSelector returns the label selector matching a workspace's pods.
func WorkspaceSelector(workspaceName string) string {
	return labels.Set{WorkspaceLabel: workspaceName}.String()
}

// Resolve returns the first pod labelled for the workspace and the first
// container port it declares. It performs one read and never retries.
func (r *Resolver) Resolve(ctx context.Context, ref model.WorkspaceRef) (model.ResolvedEndpoint, error) {
	if ref.WorkspaceName == "" {
		return model.ResolvedEndpoint{}, &ResolveError{Ref: ref, Reason: "missing workspace name"}
	}

	pods, err := r.client.CoreV1().Pods(ref.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: WorkspaceSelector(ref.WorkspaceName),
	})
	if err != nil {
		return model.ResolvedEndpoint{}, &ResolveError{Ref: ref, Reason: "listing pods failed", Cause: err}
	}
	if len(pods.Items) == 0 {
		return model.ResolvedEndpoint{}, &ResolveError{Ref: ref, Reason: "no pod matches " + WorkspaceSelector(ref.WorkspaceName)}
	}

	pod := pods.Items[0]
	for _, container := range pod.Spec.Containers {
		if len(container.Ports) == 0 || container.Ports[0].ContainerPort == 0 {
			continue
		}
		return model.ResolvedEndpoint{
			PodName:    pod.Name,
			TargetPort: int(container.Ports[0].ContainerPort),
		}, nil
	}

	return model.ResolvedEndpoint{}, &ResolveError{Ref: ref, Reason: "pod " + pod.Name + " declares no container port"}
}
