// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/kaito-project/headlamp-kaito/internal/logging"
	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrDiscoveryFailed matches any Error with errors.Is.
var ErrDiscoveryFailed = errors.New("model discovery failed")

// Error is returned when every attempt failed. Err is the last failure.
type Error struct {
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("model discovery failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDiscoveryFailed.
func (e *Error) Is(target error) bool {
	return target == ErrDiscoveryFailed
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds discovery settings.
type Config struct {
	// MaxAttempts is the total number of listing requests (default: 3)
	MaxAttempts int

	// RetryDelay is the wait after a failed attempt (default: 800ms)
	RetryDelay time.Duration

	// AttemptTimeout bounds a single listing request (default: 5s)
	AttemptTimeout time.Duration

	// Host the tunnel listens on (default: localhost)
	Host string

	// APIKey is sent as a bearer token, if the server requires one
	APIKey string

	HTTPClient *http.Client
	Logger     *log.Logger
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    3,
		RetryDelay:     800 * time.Millisecond,
		AttemptTimeout: 5 * time.Second,
		Host:           "localhost",
	}
}

// =============================================================================
// DISCOVERER
// =============================================================================

// Discoverer lists models through the OpenAI-compatible /v1/models endpoint.
type Discoverer struct {
	config *Config
	logger *log.Logger
}

// NewDiscoverer creates a discoverer, filling defaults for zero values.
func NewDiscoverer(config *Config) *Discoverer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.AttemptTimeout == 0 {
		config.AttemptTimeout = 5 * time.Second
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Discoverer{
		config: config,
		logger: logging.OrDiscard(config.Logger).WithPrefix("discovery"),
	}
}

// Discover lists the models reachable on localPort, preserving server order.
// It returns *Error once MaxAttempts requests have failed.
func (d *Discoverer) Discover(ctx context.Context, localPort string) ([]model.ModelOption, error) {
	tunnel := model.TunnelHandle{LocalPort: localPort}
	clientConfig := openai.DefaultConfig(d.config.APIKey)
	clientConfig.BaseURL = tunnel.BaseURL(d.config.Host)
	clientConfig.HTTPClient = d.config.HTTPClient
	client := openai.NewClientWithConfig(clientConfig)

	var lastErr error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		options, err := d.list(ctx, client)
		if err == nil {
			d.logger.Debug("models discovered", "port", localPort, "count", len(options), "attempt", attempt)
			return options, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		d.logger.Debug("model listing failed", "port", localPort, "attempt", attempt, "err", err)

		if attempt < d.config.MaxAttempts {
			if err := pause(ctx, d.config.RetryDelay); err != nil {
				return nil, err
			}
		}
	}
	return nil, &Error{Attempts: d.config.MaxAttempts, Err: lastErr}
}

func (d *Discoverer) list(ctx context.Context, client *openai.Client) ([]model.ModelOption, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
	defer cancel()

	list, err := client.ListModels(reqCtx)
	if err != nil {
		return nil, err
	}
	options := make([]model.ModelOption, 0, len(list.Models))
	for _, m := range list.Models {
		if m.ID == "" {
			continue
		}
		options = append(options, model.NewModelOption(m.ID))
	}
	return options, nil
}

// pause waits delay from now before the next attempt. The limiter refuses
// up front when the wait would end past the context deadline.
func pause(ctx context.Context, delay time.Duration) error {
	l := rate.NewLimiter(rate.Every(delay), 1)
	l.Allow() // spend the initial token so the next one is delay away
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return context.DeadlineExceeded
	}
	return nil
}
