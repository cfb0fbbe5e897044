// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portforward

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// fakeHost records forwards in memory.
type fakeHost struct {
	mu       sync.Mutex
	live     map[string]int
	starts   []Request
	stops    []string
	startErr error
	stopErr  error
}

func newFakeHost() *fakeHost {
	return &fakeHost{live: make(map[string]int)}
}

func (h *fakeHost) Start(_ context.Context, req Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, req)
	if h.startErr != nil {
		return h.startErr
	}
	if _, ok := h.live[req.ID]; ok {
		return ErrTunnelExists
	}
	h.live[req.ID] = req.LocalPort
	return nil
}

func (h *fakeHost) Stop(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops = append(h.stops, id)
	if h.stopErr != nil {
		return h.stopErr
	}
	if _, ok := h.live[id]; !ok {
		return ErrTunnelNotFound
	}
	delete(h.live, id)
	return nil
}

func (h *fakeHost) Lookup(id string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.live[id]
	return p, ok
}

func fixedPort(port int) func(int, int) int {
	return func(int, int) int { return port }
}

var phi4 = model.ResolvedEndpoint{PodName: "workspace-phi-4-abc", TargetPort: 5000}

func TestController_Open(t *testing.T) {
	host := newFakeHost()
	ctrl := NewController(host, &Config{PickPort: fixedPort(12345)})

	h, err := ctrl.Open(context.Background(), phi4, "default", "workspace-phi-4")
	require.NoError(t, err)
	assert.Equal(t, model.TunnelHandle{
		PortForwardID: "workspace-phi-4/default",
		LocalPort:     "12345",
		Namespace:     "default",
	}, h)

	require.Len(t, host.starts, 1)
	req := host.starts[0]
	assert.Equal(t, "workspace-phi-4-abc", req.PodName)
	assert.Equal(t, 5000, req.TargetPort)
	assert.Equal(t, "default", req.Namespace)
	assert.Equal(t, "workspace-phi-4", req.ServiceName)
	assert.Equal(t, "default", req.ServiceNamespace)
	assert.Equal(t, "localhost", req.Address)
}

func TestController_OpenAlreadyRunning(t *testing.T) {
	host := newFakeHost()
	host.live["workspace-phi-4/default"] = 15000
	ctrl := NewController(host, &Config{PickPort: fixedPort(12345)})

	h, err := ctrl.Open(context.Background(), phi4, "default", "workspace-phi-4")
	require.NoError(t, err)
	assert.Equal(t, "15000", h.LocalPort)
}

func TestController_OpenFailure(t *testing.T) {
	host := newFakeHost()
	host.startErr = errors.New("address already in use")
	ctrl := NewController(host, nil)

	_, err := ctrl.Open(context.Background(), phi4, "default", "workspace-phi-4")
	require.Error(t, err)
	assert.True(t, IsOpenFailure(err))
	assert.Contains(t, err.Error(), "address already in use")
	assert.Contains(t, err.Error(), "workspace-phi-4/default")
}

func TestController_Close(t *testing.T) {
	host := newFakeHost()
	ctrl := NewController(host, &Config{PickPort: fixedPort(12000)})

	h, err := ctrl.Open(context.Background(), phi4, "default", "workspace-phi-4")
	require.NoError(t, err)

	require.NoError(t, ctrl.Close(context.Background(), h))
	_, ok := host.Lookup(h.PortForwardID)
	assert.False(t, ok)

	// second close races with a host that already dropped it
	require.NoError(t, ctrl.Close(context.Background(), h))
	assert.Equal(t, []string{h.PortForwardID, h.PortForwardID}, host.stops)
}

func TestController_CloseZeroHandle(t *testing.T) {
	host := newFakeHost()
	ctrl := NewController(host, nil)

	require.NoError(t, ctrl.Close(context.Background(), model.TunnelHandle{}))
	assert.Empty(t, host.stops)
}

func TestController_CloseFailure(t *testing.T) {
	host := newFakeHost()
	host.stopErr = errors.New("connection reset")
	ctrl := NewController(host, nil)

	err := ctrl.Close(context.Background(), model.TunnelHandle{PortForwardID: "ws/ns"})
	require.Error(t, err)
	assert.False(t, IsOpenFailure(err))
	var te *TunnelError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "close", te.Op)
}

func TestRandomPortInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		p := randomPort(10000, 19999)
		require.GreaterOrEqual(t, p, 10000)
		require.LessOrEqual(t, p, 19999)
	}
}

func TestNewControllerDefaults(t *testing.T) {
	ctrl := NewController(newFakeHost(), &Config{})
	assert.Equal(t, 10000, ctrl.config.PortMin)
	assert.Equal(t, 19999, ctrl.config.PortMax)
	assert.Equal(t, "localhost", ctrl.config.Address)
	assert.NotNil(t, ctrl.config.PickPort)
}

func TestTunnelID(t *testing.T) {
	assert.Equal(t, "workspace-phi-4/default", TunnelID("workspace-phi-4", "default"))
}
