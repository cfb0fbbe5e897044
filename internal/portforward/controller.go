// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portforward

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kaito-project/headlamp-kaito/internal/logging"
	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Sentinel errors returned by hosts.
var (
	ErrTunnelNotFound = errors.New("port forward not found")
	ErrTunnelExists   = errors.New("port forward already running")
)

// TunnelError reports a failed open or close.
type TunnelError struct {
	Op    string // "open" or "close"
	ID    string
	Cause error
}

func (e *TunnelError) Error() string {
	msg := "failed to " + e.Op + " port forward " + e.ID
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *TunnelError) Unwrap() error {
	return e.Cause
}

// IsOpenFailure reports whether err is a tunnel open failure.
func IsOpenFailure(err error) bool {
	var te *TunnelError
	return errors.As(err, &te) && te.Op == "open"
}

// =============================================================================
// HOST
// =============================================================================

// Request describes one forward: LocalPort on Address to PodName:TargetPort.
type Request struct {
	ID               string
	Namespace        string
	PodName          string
	TargetPort       int
	ServiceName      string
	ServiceNamespace string
	LocalPort        int
	Address          string
}

// Host performs port forwarding on behalf of the controller.
type Host interface {
	// Start returns once the forward is accepting connections.
	// It returns ErrTunnelExists if id is already forwarding.
	Start(ctx context.Context, req Request) error

	// Stop tears the forward down. It returns ErrTunnelNotFound if id is unknown.
	Stop(ctx context.Context, id string) error

	// Lookup returns the local port of a live forward.
	Lookup(id string) (localPort int, ok bool)
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Config holds controller settings.
type Config struct {
	// PortMin and PortMax bound the random local port (default: 10000-19999)
	PortMin int
	PortMax int

	// Address the local listener binds to (default: localhost)
	Address string

	// OpenTimeout bounds a single open (default: 30s)
	OpenTimeout time.Duration

	// PickPort overrides random local port selection
	PickPort func(min, max int) int

	Logger *log.Logger
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		PortMin:     10000,
		PortMax:     19999,
		Address:     "localhost",
		OpenTimeout: 30 * time.Second,
	}
}

// Controller opens and closes tunnels through a Host.
// It is safe for concurrent use.
type Controller struct {
	host   Host
	config *Config
	logger *log.Logger
}

// NewController creates a controller with the given host and configuration.
func NewController(host Host, config *Config) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PortMin <= 0 {
		config.PortMin = 10000
	}
	if config.PortMax < config.PortMin {
		config.PortMax = config.PortMin + 9999
	}
	if config.Address == "" {
		config.Address = "localhost"
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.PickPort == nil {
		config.PickPort = randomPort
	}
	return &Controller{
		host:   host,
		config: config,
		logger: logging.OrDiscard(config.Logger).WithPrefix("portforward"),
	}
}

// TunnelID returns the key identifying a workspace's tunnel.
func TunnelID(workspaceName, namespace string) string {
	return workspaceName + "/" + namespace
}

// Open starts forwarding a random local port to the endpoint.
// If a tunnel with the same id is already live, its handle is returned.
func (c *Controller) Open(ctx context.Context, ep model.ResolvedEndpoint, namespace, workspaceName string) (model.TunnelHandle, error) {
	id := TunnelID(workspaceName, namespace)
	req := Request{
		ID:               id,
		Namespace:        namespace,
		PodName:          ep.PodName,
		TargetPort:       ep.TargetPort,
		ServiceName:      workspaceName,
		ServiceNamespace: namespace,
		LocalPort:        c.config.PickPort(c.config.PortMin, c.config.PortMax),
		Address:          c.config.Address,
	}

	openCtx, cancel := context.WithTimeout(ctx, c.config.OpenTimeout)
	defer cancel()

	c.logger.Debug("opening tunnel", "id", id, "pod", ep.PodName, "target", ep.TargetPort, "local", req.LocalPort)
	if err := c.host.Start(openCtx, req); err != nil {
		if port, ok := c.host.Lookup(id); ok {
			c.logger.Info("tunnel already open", "id", id, "local", port)
			return c.handle(id, port, namespace), nil
		}
		return model.TunnelHandle{}, &TunnelError{Op: "open", ID: id, Cause: err}
	}

	port := req.LocalPort
	if p, ok := c.host.Lookup(id); ok {
		port = p
	}
	c.logger.Info("tunnel open", "id", id, "local", port)
	return c.handle(id, port, namespace), nil
}

// Close stops the tunnel identified by the handle.
// A tunnel that no longer exists is not an error.
func (c *Controller) Close(ctx context.Context, h model.TunnelHandle) error {
	if h.PortForwardID == "" {
		return nil
	}
	err := c.host.Stop(ctx, h.PortForwardID)
	switch {
	case err == nil:
		c.logger.Info("tunnel closed", "id", h.PortForwardID)
		return nil
	case errors.Is(err, ErrTunnelNotFound):
		c.logger.Debug("tunnel already gone", "id", h.PortForwardID)
		return nil
	default:
		c.logger.Warn("failed to close tunnel", "id", h.PortForwardID, "err", err)
		return &TunnelError{Op: "close", ID: h.PortForwardID, Cause: err}
	}
}

func (c *Controller) handle(id string, port int, namespace string) model.TunnelHandle {
	return model.TunnelHandle{
		PortForwardID: id,
		LocalPort:     strconv.Itoa(port),
		Namespace:     namespace,
	}
}

func randomPort(min, max int) int {
	return min + rand.IntN(max-min+1)
}
