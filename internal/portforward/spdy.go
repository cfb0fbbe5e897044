// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portforward

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"github.com/kaito-project/headlamp-kaito/internal/logging"
)

// forward is one live port-forward registered with the host.
type forward struct {
	localPort int
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

func (f *forward) stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
}

// forwarder is the part of a client-go PortForwarder the host drives.
type forwarder interface {
	ForwardPorts() error
	GetPorts() ([]portforward.ForwardedPort, error)
}

// dialFunc builds a forwarder that closes readyCh once listening and
// returns from ForwardPorts after stopCh closes.
type dialFunc func(req Request, stopCh, readyCh chan struct{}) (forwarder, error)

// SPDYHost forwards ports to pods over the API server's portforward
// subresource.
type SPDYHost struct {
	config    *rest.Config
	clientset kubernetes.Interface
	logger    *log.Logger

	dial dialFunc

	mu       sync.Mutex
	forwards map[string]*forward
}

// NewSPDYHost creates a host from a REST config and clientset.
func NewSPDYHost(config *rest.Config, clientset kubernetes.Interface, logger *log.Logger) *SPDYHost {
	h := &SPDYHost{
		config:    config,
		clientset: clientset,
		logger:    logging.OrDiscard(logger).WithPrefix("spdy"),
		forwards:  make(map[string]*forward),
	}
	h.dial = h.newForwarder
	return h
}

// Start begins forwarding and waits until the listener is ready.
func (h *SPDYHost) Start(ctx context.Context, req Request) error {
	h.mu.Lock()
	if _, ok := h.forwards[req.ID]; ok {
		h.mu.Unlock()
		return ErrTunnelExists
	}
	fwd := &forward{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	h.forwards[req.ID] = fwd
	h.mu.Unlock()

	readyCh := make(chan struct{})
	pf, err := h.dial(req, fwd.stopCh, readyCh)
	if err != nil {
		h.remove(req.ID, fwd)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(fwd.done)
		defer h.remove(req.ID, fwd)
		if err := pf.ForwardPorts(); err != nil {
			h.logger.Debug("forward exited", "id", req.ID, "err", err)
			errCh <- err
		}
	}()

	select {
	case <-readyCh:
		ports, err := pf.GetPorts()
		h.mu.Lock()
		if err == nil && len(ports) > 0 {
			fwd.localPort = int(ports[0].Local)
		} else {
			fwd.localPort = req.LocalPort
		}
		h.mu.Unlock()
		return nil
	case err := <-errCh:
		h.remove(req.ID, fwd)
		return fmt.Errorf("port forward to %s/%s:%d: %w", req.Namespace, req.PodName, req.TargetPort, err)
	case <-fwd.done:
		return fmt.Errorf("port forward to %s/%s:%d exited before ready", req.Namespace, req.PodName, req.TargetPort)
	case <-ctx.Done():
		// The id is free for a new Start even while the old forwarder drains.
		fwd.stop()
		h.remove(req.ID, fwd)
		return ctx.Err()
	}
}

// Stop closes a forward and waits for it to exit.
func (h *SPDYHost) Stop(ctx context.Context, id string) error {
	h.mu.Lock()
	fwd, ok := h.forwards[id]
	h.mu.Unlock()
	if !ok {
		return ErrTunnelNotFound
	}

	fwd.stop()
	select {
	case <-fwd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns the local port of a ready forward.
func (h *SPDYHost) Lookup(id string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fwd, ok := h.forwards[id]
	if !ok || fwd.localPort == 0 {
		return 0, false
	}
	return fwd.localPort, true
}

// StopAll closes every live forward. Used on shutdown.
func (h *SPDYHost) StopAll(ctx context.Context) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.forwards))
	for id := range h.forwards {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		if err := h.Stop(ctx, id); err != nil {
			h.logger.Warn("failed to stop forward", "id", id, "err", err)
		}
	}
}

func (h *SPDYHost) remove(id string, fwd *forward) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.forwards[id] == fwd {
		delete(h.forwards, id)
	}
}

func (h *SPDYHost) newForwarder(req Request, stopCh, readyCh chan struct{}) (forwarder, error) {
	url := h.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(req.Namespace).
		Name(req.PodName).
		SubResource("portforward").
		URL()

	transport, upgrader, err := spdy.RoundTripperFor(h.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create round tripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, url)

	out := h.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer()
	ports := []string{fmt.Sprintf("%d:%d", req.LocalPort, req.TargetPort)}

	fw, err := portforward.NewOnAddresses(dialer, []string{req.Address}, ports, stopCh, readyCh, out, out)
	if err != nil {
		return nil, fmt.Errorf("failed to create port forwarder: %w", err)
	}
	return fw, nil
}
