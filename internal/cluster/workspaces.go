// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cluster

import (
	"context"
	"fmt"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"

	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// WorkspaceGVR identifies the KAITO Workspace custom resource.
var WorkspaceGVR = schema.GroupVersionResource{
	Group:    "kaito.sh",
	Version:  "v1beta1",
	Resource: "workspaces",
}

// Workspace is the subset of a KAITO Workspace shown when picking a backend.
type Workspace struct {
	Name         string
	Namespace    string
	Preset       string
	InstanceType string
	// Conditions maps condition type to status ("True", "False", "Unknown")
	Conditions map[string]string
	CreatedAt  metav1.Time
}

// Ref returns the workspace reference used to start a chat session.
func (w Workspace) Ref() model.WorkspaceRef {
	return model.WorkspaceRef{Namespace: w.Namespace, WorkspaceName: w.Name}
}

// Ready reports whether the workspace's inference deployment is ready.
func (w Workspace) Ready() bool {
	if s, ok := w.Conditions["InferenceReady"]; ok {
		return s == "True"
	}
	return w.Conditions["WorkspaceSucceeded"] == "True"
}

// WorkspaceLister lists KAITO workspaces through the dynamic client.
type WorkspaceLister struct {
	client dynamic.Interface
}

// NewWorkspaceLister creates a lister.
func NewWorkspaceLister(client dynamic.Interface) *WorkspaceLister {
	return &WorkspaceLister{client: client}
}

// List returns workspaces in namespace, or across all namespaces when
// namespace is empty, sorted by namespace then name.
func (l *WorkspaceLister) List(ctx context.Context, namespace string) ([]Workspace, error) {
	list, err := l.client.Resource(WorkspaceGVR).Namespace(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}

	out := make([]Workspace, 0, len(list.Items))
	for i := range list.Items {
		out = append(out, workspaceFromUnstructured(&list.Items[i]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func workspaceFromUnstructured(u *unstructured.Unstructured) Workspace {
	ws := Workspace{
		Name:       u.GetName(),
		Namespace:  u.GetNamespace(),
		CreatedAt:  u.GetCreationTimestamp(),
		Conditions: map[string]string{},
	}
	ws.Preset, _, _ = unstructured.NestedString(u.Object, "inference", "preset", "name")
	ws.InstanceType, _, _ = unstructured.NestedString(u.Object, "resource", "instanceType")

	conditions, _, _ := unstructured.NestedSlice(u.Object, "status", "conditions")
	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		typ, _ := cond["type"].(string)
		status, _ := cond["status"].(string)
		if typ != "" {
			ws.Conditions[typ] = status
		}
	}
	return ws
}
