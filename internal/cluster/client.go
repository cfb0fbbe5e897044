// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cluster

import (
	"fmt"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientOptions selects the kubeconfig and context.
type ClientOptions struct {
	// Kubeconfig path (empty = KUBECONFIG env / ~/.kube/config / in-cluster)
	Kubeconfig string
	// Context overrides the kubeconfig's current context
	Context string
}

// Clients bundles the clients built from one kubeconfig context.
type Clients struct {
	Config    *rest.Config
	Clientset kubernetes.Interface
	Dynamic   dynamic.Interface
	// Namespace is the context's default namespace, if it names one
	Namespace string
}

// NewClients loads the kubeconfig and constructs the clients.
func NewClients(opts ClientOptions) (*Clients, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if opts.Kubeconfig != "" {
		rules.ExplicitPath = opts.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if opts.Context != "" {
		overrides.CurrentContext = opts.Context
	}

	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides)
	restConfig, err := loader.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	namespace, _, err := loader.Namespace()
	if err != nil {
		namespace = ""
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	return &Clients{
		Config:    restConfig,
		Clientset: clientset,
		Dynamic:   dyn,
		Namespace: namespace,
	}, nil
}
