// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package portforward

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k8spf "k8s.io/client-go/tools/portforward"
)

// stubForwarder plays a client-go PortForwarder without a cluster.
type stubForwarder struct {
	stopCh  chan struct{}
	readyCh chan struct{}

	ready bool          // close readyCh once started
	port  uint16        // reported local port
	err   error         // returned from ForwardPorts before ready
	drain chan struct{} // held open after stop, if set
}

func (f *stubForwarder) ForwardPorts() error {
	if f.err != nil {
		return f.err
	}
	if f.ready {
		close(f.readyCh)
	}
	<-f.stopCh
	if f.drain != nil {
		<-f.drain
	}
	return nil
}

func (f *stubForwarder) GetPorts() ([]k8spf.ForwardedPort, error) {
	return []k8spf.ForwardedPort{{Local: f.port, Remote: 5000}}, nil
}

// stubHost returns a host whose forwarders come from next, in order.
func stubHost(next ...*stubForwarder) *SPDYHost {
	h := NewSPDYHost(nil, nil, nil)
	h.dial = func(_ Request, stopCh, readyCh chan struct{}) (forwarder, error) {
		f := next[0]
		next = next[1:]
		f.stopCh, f.readyCh = stopCh, readyCh
		return f, nil
	}
	return h
}

var phi4Request = Request{
	ID:         "workspace-phi-4/default",
	Namespace:  "default",
	PodName:    "workspace-phi-4-abc",
	TargetPort: 5000,
	LocalPort:  12345,
	Address:    "localhost",
}

func TestSPDYHost_StopUnknown(t *testing.T) {
	h := NewSPDYHost(nil, nil, nil)
	assert.ErrorIs(t, h.Stop(context.Background(), "missing"), ErrTunnelNotFound)
	_, ok := h.Lookup("missing")
	assert.False(t, ok)
}

func TestSPDYHost_StartReady(t *testing.T) {
	h := stubHost(&stubForwarder{ready: true, port: 12345})

	require.NoError(t, h.Start(context.Background(), phi4Request))
	port, ok := h.Lookup(phi4Request.ID)
	require.True(t, ok)
	assert.Equal(t, 12345, port)

	assert.ErrorIs(t, h.Start(context.Background(), phi4Request), ErrTunnelExists)

	require.NoError(t, h.Stop(context.Background(), phi4Request.ID))
	_, ok = h.Lookup(phi4Request.ID)
	assert.False(t, ok)
}

func TestSPDYHost_ExitBeforeReady(t *testing.T) {
	h := stubHost(
		&stubForwarder{err: errors.New("unable to listen on any of the requested ports")},
		&stubForwarder{ready: true, port: 12345},
	)

	err := h.Start(context.Background(), phi4Request)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace-phi-4-abc")
	_, ok := h.Lookup(phi4Request.ID)
	assert.False(t, ok)

	require.NoError(t, h.Start(context.Background(), phi4Request))
	h.StopAll(context.Background())
}

func TestSPDYHost_ReadyTimeoutFreesID(t *testing.T) {
	drain := make(chan struct{})
	defer close(drain)
	h := stubHost(
		&stubForwarder{drain: drain},
		&stubForwarder{ready: true, port: 12346},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Start(ctx, phi4Request)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the first forwarder is still draining; the id must be reusable anyway
	require.NoError(t, h.Start(context.Background(), phi4Request))
	port, ok := h.Lookup(phi4Request.ID)
	require.True(t, ok)
	assert.Equal(t, 12346, port)
	require.NoError(t, h.Stop(context.Background(), phi4Request.ID))
}

func TestSPDYHost_CancelledStart(t *testing.T) {
	h := stubHost(&stubForwarder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Start(ctx, phi4Request), context.Canceled)
	_, ok := h.Lookup(phi4Request.ID)
	assert.False(t, ok)
}
