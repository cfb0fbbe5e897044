// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// modelServer fails the first failures requests with 500, then serves body.
func modelServer(t *testing.T, failures int32, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		if n <= failures {
			http.Error(w, `{"error":{"message":"backend starting"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func portOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return port
}

func testDiscoverer(attempts int) *Discoverer {
	return NewDiscoverer(&Config{
		MaxAttempts: attempts,
		RetryDelay:  time.Millisecond,
		Host:        "127.0.0.1",
	})
}

const phiListing = `{"object":"list","data":[{"id":"phi-4-mini-instruct","object":"model"}]}`

func TestDiscover_Success(t *testing.T) {
	srv, calls := modelServer(t, 0, phiListing)

	models, err := testDiscoverer(3).Discover(context.Background(), portOf(t, srv))
	require.NoError(t, err)
	assert.Equal(t, []model.ModelOption{{Title: "phi-4-mini-instruct", Value: "phi-4-mini-instruct"}}, models)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDiscover_PreservesOrder(t *testing.T) {
	body := `{"data":[{"id":"b-model"},{"id":"a-model"},{"id":"llama-3.1-8b-instruct"}]}`
	srv, _ := modelServer(t, 0, body)

	models, err := testDiscoverer(3).Discover(context.Background(), portOf(t, srv))
	require.NoError(t, err)
	require.Len(t, models, 3)
	assert.Equal(t, "b-model", models[0].Value)
	assert.Equal(t, "a-model", models[1].Value)
	assert.True(t, models[2].SupportsTools)
}

func TestDiscover_RetriesThenSucceeds(t *testing.T) {
	for k := int32(1); k < 3; k++ {
		t.Run(strconv.Itoa(int(k)), func(t *testing.T) {
			srv, calls := modelServer(t, k, phiListing)

			models, err := testDiscoverer(3).Discover(context.Background(), portOf(t, srv))
			require.NoError(t, err)
			assert.Len(t, models, 1)
			assert.Equal(t, k+1, calls.Load())
		})
	}
}

func TestDiscover_ExhaustsAttempts(t *testing.T) {
	srv, calls := modelServer(t, 100, phiListing)

	_, err := testDiscoverer(3).Discover(context.Background(), portOf(t, srv))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
	assert.Equal(t, int32(3), calls.Load())

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Attempts)
}

func TestDiscover_EmptyCatalog(t *testing.T) {
	srv, _ := modelServer(t, 0, `{"object":"list","data":[]}`)

	models, err := testDiscoverer(3).Discover(context.Background(), portOf(t, srv))
	require.NoError(t, err)
	assert.NotNil(t, models)
	assert.Empty(t, models)
}

func TestDiscover_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	port := portOf(t, srv)
	srv.Close()

	_, err := testDiscoverer(2).Discover(context.Background(), port)
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
}

// TestDiscover_WaitsAfterFailure checks the retry delay runs from the end of
// a failed attempt, however long that attempt took.
func TestDiscover_WaitsAfterFailure(t *testing.T) {
	for _, slow := range []time.Duration{0, 300 * time.Millisecond} {
		t.Run(slow.String(), func(t *testing.T) {
			const delay = 200 * time.Millisecond
			var (
				mu       sync.Mutex
				failedAt time.Time
				retryAt  time.Time
				calls    int
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				calls++
				n := calls
				if n == 2 {
					retryAt = time.Now()
				}
				mu.Unlock()

				if n == 1 {
					time.Sleep(slow)
					mu.Lock()
					failedAt = time.Now()
					mu.Unlock()
					http.Error(w, `{"error":{"message":"backend starting"}}`, http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(phiListing))
			}))
			t.Cleanup(srv.Close)

			d := NewDiscoverer(&Config{MaxAttempts: 3, RetryDelay: delay, Host: "127.0.0.1"})
			models, err := d.Discover(context.Background(), portOf(t, srv))
			require.NoError(t, err)
			assert.Len(t, models, 1)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 2, calls)
			assert.GreaterOrEqual(t, retryAt.Sub(failedAt), delay)
		})
	}
}

func TestDiscover_NoWaitAfterLastAttempt(t *testing.T) {
	srv, calls := modelServer(t, 100, phiListing)
	d := NewDiscoverer(&Config{MaxAttempts: 1, RetryDelay: time.Hour, Host: "127.0.0.1"})

	start := time.Now()
	_, err := d.Discover(context.Background(), portOf(t, srv))
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), time.Minute)
}

func TestDiscover_ContextCancelledDuringDelay(t *testing.T) {
	srv, calls := modelServer(t, 100, phiListing)
	d := NewDiscoverer(&Config{MaxAttempts: 3, RetryDelay: time.Hour, Host: "127.0.0.1"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := d.Discover(ctx, portOf(t, srv))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewDiscovererDefaults(t *testing.T) {
	d := NewDiscoverer(nil)
	assert.Equal(t, 3, d.config.MaxAttempts)
	assert.Equal(t, 800*time.Millisecond, d.config.RetryDelay)
	assert.Equal(t, "localhost", d.config.Host)
}
