// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inference

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kaito-project/headlamp-kaito/internal/logging"
	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Params are the sampling parameters sent with every completion request.
type Params struct {
	Temperature float32
	MaxTokens   int
}

// DefaultParams returns temperature 0.7 and 1000 max tokens.
func DefaultParams() Params {
	return Params{Temperature: 0.7, MaxTokens: 1000}
}

// ClientConfig holds configuration for the streaming client.
type ClientConfig struct {
	// Host the tunnel listens on (default: localhost)
	Host string

	// APIKey is sent as a bearer token, if the server requires one
	APIKey string

	// HTTPClient carries requests; streaming timeouts come from the context
	HTTPClient *http.Client

	Logger *log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{Host: "localhost"}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client sends chat completion requests through a tunnel.
// It holds no per-session state and is safe for concurrent use.
type Client struct {
	config *ClientConfig
	logger *log.Logger
}

// NewClient creates a client, filling defaults for zero values.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	return &Client{
		config: config,
		logger: logging.OrDiscard(config.Logger).WithPrefix("inference"),
	}
}

// Chunk is one text delta. Seq starts at 1 and increases by one per chunk.
type Chunk struct {
	Seq  int
	Text string
}

// Stream is a finite sequence of chunks.
type Stream interface {
	// Next returns the next chunk, or io.EOF when the response is complete.
	Next() (Chunk, error)
	Close() error
}

// Send opens a streaming completion for history against modelID.
func (c *Client) Send(ctx context.Context, history []model.Message, modelID string, params Params, tunnel model.TunnelHandle) (Stream, error) {
	if modelID == "" {
		return nil, errors.New("no model selected")
	}

	clientConfig := openai.DefaultConfig(c.config.APIKey)
	clientConfig.BaseURL = tunnel.BaseURL(c.config.Host)
	clientConfig.HTTPClient = c.config.HTTPClient
	client := openai.NewClientWithConfig(clientConfig)

	req := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    toOpenAI(history),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      true,
	}

	c.logger.Debug("sending completion", "model", modelID, "messages", len(req.Messages), "port", tunnel.LocalPort)
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &completionStream{stream: stream}, nil
}

func toOpenAI(history []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		var role string
		switch m.Role {
		case model.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case model.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// =============================================================================
// STREAM
// =============================================================================

type completionStream struct {
	stream *openai.ChatCompletionStream
	seq    int
	done   bool
}

func (s *completionStream) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return Chunk{}, io.EOF
			}
			return Chunk{}, err
		}
		text := deltaText(resp)
		if text == "" {
			continue
		}
		s.seq++
		return Chunk{Seq: s.seq, Text: text}, nil
	}
}

func (s *completionStream) Close() error {
	s.done = true
	return s.stream.Close()
}

func deltaText(resp openai.ChatCompletionStreamResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Delta.Content
}
