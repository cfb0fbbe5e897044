// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kaito-project/headlamp-kaito/internal/inference"
	"github.com/kaito-project/headlamp-kaito/internal/logging"
	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Resolver maps a workspace to the pod and port serving it.
type Resolver interface {
	Resolve(ctx context.Context, ref model.WorkspaceRef) (model.ResolvedEndpoint, error)
}

// Tunnels opens and closes port-forwards.
type Tunnels interface {
	Open(ctx context.Context, ep model.ResolvedEndpoint, namespace, workspaceName string) (model.TunnelHandle, error)
	Close(ctx context.Context, h model.TunnelHandle) error
}

// Discoverer lists the models served behind a tunnel.
type Discoverer interface {
	Discover(ctx context.Context, localPort string) ([]model.ModelOption, error)
}

// ChatClient streams a completion through a tunnel.
type ChatClient interface {
	Send(ctx context.Context, history []model.Message, modelID string, params inference.Params, tunnel model.TunnelHandle) (inference.Stream, error)
}

// TranscriptStore persists conversations.
type TranscriptStore interface {
	Save(ctx context.Context, conv *model.Conversation) error
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config wires a Manager to its collaborators.
type Config struct {
	Resolver   Resolver
	Tunnels    Tunnels
	Discoverer Discoverer
	Chat       ChatClient

	// Store, when set, receives the transcript after every turn and on close
	Store TranscriptStore

	// Params are sent with every completion (default: 0.7 / 1000)
	Params inference.Params

	// SystemPrompt is prepended to the history of new conversations
	SystemPrompt string

	// DefaultModel is selected when discovered; otherwise the first model is
	DefaultModel string

	// StreamTimeout bounds a single reply (default: none)
	StreamTimeout time.Duration

	// CloseTimeout bounds tunnel teardown (default: 10s)
	CloseTimeout time.Duration

	// CloseTunnelOnDiscoveryFailure tears the tunnel down when discovery
	// fails instead of leaving it open until Close
	CloseTunnelOnDiscoveryFailure bool

	// PickSuggestion chooses the fallback suggestion (default: random)
	PickSuggestion func(n int) int

	// OnChange is called after every state change, outside the lock.
	// It must not block or call back into the Manager synchronously.
	OnChange func(Event)

	Logger *log.Logger
}

// =============================================================================
// EVENTS AND STATE
// =============================================================================

// EventKind says what changed.
type EventKind int

const (
	EventStatus EventKind = iota
	EventModel
	EventMessage
	EventStreamDone
)

// Event notifies the surface that state changed; read details via Snapshot.
type Event struct {
	Kind      EventKind
	Status    model.SessionStatus
	MessageID string
}

// State is a detached copy of the session.
type State struct {
	Workspace      model.WorkspaceRef
	Status         model.SessionStatus
	Reason         string
	Tunnel         *model.TunnelHandle
	Models         []model.ModelOption
	Selected       *model.ModelOption
	Messages       []model.Message
	Busy           bool
	ConversationID string
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager drives one chat surface through
// Idle → Resolving → TunnelOpening → DiscoveringModels → Ready, or Error.
//
// Every start attempt and every stream captures the generation counter; a
// result arriving after the generation moved on is discarded, and a tunnel
// it opened is closed by the attempt itself. The previous attempt's tunnel is
// always closed before a new one is opened.
type Manager struct {
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	gen      uint64
	ref      model.WorkspaceRef
	status   model.SessionStatus
	lastErr  error
	tunnel   *model.TunnelHandle
	models   []model.ModelOption
	selected *model.ModelOption
	conv     *model.Conversation

	// in-flight start attempt
	cancel context.CancelFunc
	done   chan struct{}

	// in-flight reply
	busy         bool
	inflight     *model.Message
	streamCancel context.CancelFunc
}

// NewManager creates an idle manager.
func NewManager(cfg Config) *Manager {
	if cfg.Params == (inference.Params{}) {
		cfg.Params = inference.DefaultParams()
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	if cfg.PickSuggestion == nil {
		cfg.PickSuggestion = rand.IntN
	}
	return &Manager{
		cfg:    cfg,
		logger: logging.OrDiscard(cfg.Logger).WithPrefix("session"),
		status: model.StatusIdle,
	}
}

// detached is what a superseded attempt leaves behind for release.
type detached struct {
	done   chan struct{}
	tunnel *model.TunnelHandle
}

// detachLocked invalidates the current attempt and stream and takes the
// tunnel. The caller must release the result outside the lock.
func (m *Manager) detachLocked() detached {
	m.gen++
	d := detached{done: m.done, tunnel: m.tunnel}
	if m.cancel != nil {
		m.cancel()
	}
	if m.streamCancel != nil {
		m.streamCancel()
	}
	if m.inflight != nil {
		m.inflight.FinalizeStream()
	}
	m.cancel = nil
	m.done = nil
	m.tunnel = nil
	m.busy = false
	m.inflight = nil
	m.streamCancel = nil
	return d
}

// release waits for a detached attempt to finish, then closes its tunnel.
func (m *Manager) release(d detached) error {
	if d.done != nil {
		<-d.done
	}
	if d.tunnel == nil {
		return nil
	}
	return m.closeTunnel(*d.tunnel)
}

func (m *Manager) closeTunnel(h model.TunnelHandle) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CloseTimeout)
	defer cancel()
	if err := m.cfg.Tunnels.Close(ctx, h); err != nil {
		m.logger.Warn("tunnel close failed", "id", h.PortForwardID, "err", err)
		return err
	}
	return nil
}

func (m *Manager) emit(ev Event) {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(ev)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Ensure starts a session for ref and blocks until it is Ready or fails.
//
// If a session for ref is already starting or started, no new attempt is
// made; Ensure waits for the in-flight attempt and reports its outcome.
// A different ref tears the current session down first.
func (m *Manager) Ensure(ctx context.Context, ref model.WorkspaceRef) error {
	if ref.IsZero() {
		return ErrNoWorkspace
	}

	m.mu.Lock()
	if m.ref == ref && m.status.Active() {
		done := m.done
		m.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return m.Err()
	}

	prev := m.detachLocked()
	if m.ref != ref || m.conv == nil {
		m.conv = model.NewConversationFor(ref)
		m.conv.SystemPrompt = m.cfg.SystemPrompt
	}
	m.ref = ref
	m.status = model.StatusResolving
	m.lastErr = nil
	m.models = nil
	m.selected = nil

	gen := m.gen
	attemptCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	defer close(done)
	defer cancel()

	m.emit(Event{Kind: EventStatus, Status: model.StatusResolving})
	if err := m.release(prev); err != nil {
		m.logger.Debug("previous tunnel close failed", "err", err)
	}

	m.logger.Info("starting session", "workspace", ref)
	return m.start(attemptCtx, gen, ref)
}

func (m *Manager) start(ctx context.Context, gen uint64, ref model.WorkspaceRef) error {
	ep, err := m.cfg.Resolver.Resolve(ctx, ref)
	if err != nil {
		return m.fail(gen, &Error{Kind: ResolutionFailed, Err: err})
	}
	if !m.advance(gen, model.StatusTunnelOpening) {
		return ErrSuperseded
	}

	handle, err := m.cfg.Tunnels.Open(ctx, ep, ref.Namespace, ref.WorkspaceName)
	if err != nil {
		return m.fail(gen, &Error{Kind: TunnelOpenFailed, Err: err})
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug("closing tunnel opened by superseded attempt", "id", handle.PortForwardID)
		_ = m.closeTunnel(handle)
		return ErrSuperseded
	}
	m.tunnel = &handle
	m.status = model.StatusDiscoveringModels
	m.mu.Unlock()
	m.emit(Event{Kind: EventStatus, Status: model.StatusDiscoveringModels})

	models, err := m.cfg.Discoverer.Discover(ctx, handle.LocalPort)
	if err != nil {
		return m.fail(gen, &Error{Kind: DiscoveryFailed, Err: err})
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.models = models
	m.selected = m.defaultModel(models)
	if m.selected != nil {
		m.conv.Model = m.selected.Value
	}
	m.status = model.StatusReady
	m.mu.Unlock()

	m.logger.Info("session ready", "workspace", ref, "port", handle.LocalPort, "models", len(models))
	m.emit(Event{Kind: EventStatus, Status: model.StatusReady})
	return nil
}

func (m *Manager) defaultModel(models []model.ModelOption) *model.ModelOption {
	if len(models) == 0 {
		return nil
	}
	if opt, ok := model.FindModel(models, m.cfg.DefaultModel); ok {
		return &opt
	}
	opt := models[0]
	return &opt
}

// advance moves to status if gen is still current.
func (m *Manager) advance(gen uint64, status model.SessionStatus) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.status = status
	m.mu.Unlock()
	m.emit(Event{Kind: EventStatus, Status: status})
	return true
}

// fail moves the attempt to Error. A tunnel that must not outlive the
// failure is closed before the status changes.
func (m *Manager) fail(gen uint64, serr *Error) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	var toClose *model.TunnelHandle
	if serr.Kind != DiscoveryFailed || m.cfg.CloseTunnelOnDiscoveryFailure {
		toClose = m.tunnel
		m.tunnel = nil
	}
	m.mu.Unlock()

	if toClose != nil {
		_ = m.closeTunnel(*toClose)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.status = model.StatusError
	m.lastErr = serr
	m.mu.Unlock()

	m.logger.Error("session failed", "kind", serr.Kind, "err", serr.Err)
	m.emit(Event{Kind: EventStatus, Status: model.StatusError})
	return serr
}

// Close tears the session down: the in-flight attempt is invalidated, the
// tunnel is closed and the status returns to Idle. The conversation is kept
// and a note records the outcome of stopping the tunnel.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.status == model.StatusIdle && m.tunnel == nil && m.done == nil {
		m.mu.Unlock()
		return nil
	}
	prev := m.detachLocked()
	m.status = model.StatusIdle
	m.lastErr = nil
	m.models = nil
	m.selected = nil
	gen := m.gen
	m.mu.Unlock()

	err := m.release(prev)

	m.mu.Lock()
	if m.gen == gen && m.conv != nil && prev.tunnel != nil {
		if err != nil {
			m.conv.AddNote("Failed to stop port forwarding: " + err.Error())
		} else {
			m.conv.AddNote("Port forwarding stopped successfully.")
		}
	}
	m.mu.Unlock()

	m.logger.Info("session closed", "workspace", m.Workspace())
	m.emit(Event{Kind: EventStatus, Status: model.StatusIdle})
	m.persist(ctx)
	return nil
}

// =============================================================================
// CHAT
// =============================================================================

// SelectModel switches the model used for subsequent replies.
// The tunnel is workspace-scoped and stays open.
func (m *Manager) SelectModel(value string) error {
	m.mu.Lock()
	if m.status != model.StatusReady {
		m.mu.Unlock()
		return ErrNotReady
	}
	opt, ok := model.FindModel(m.models, value)
	if !ok {
		m.mu.Unlock()
		return ErrUnknownModel
	}
	m.selected = &opt
	m.conv.Model = opt.Value
	m.mu.Unlock()

	m.logger.Debug("model selected", "model", value)
	m.emit(Event{Kind: EventModel, Status: model.StatusReady})
	return nil
}

// Send appends a user message, streams the reply into a new assistant
// message and blocks until the stream ends.
//
// A stream failure does not fail the session: the assistant message keeps
// any streamed text, gains a fallback note, and *Error with StreamFailed is
// returned. The busy flag is always cleared when Send returns.
func (m *Manager) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	switch {
	case m.status != model.StatusReady || m.tunnel == nil:
		m.mu.Unlock()
		return ErrNotReady
	case m.busy:
		m.mu.Unlock()
		return ErrBusy
	case m.selected == nil:
		m.mu.Unlock()
		return ErrNoModel
	}

	gen := m.gen
	tunnel := *m.tunnel
	modelID := m.selected.Value
	params := m.cfg.Params
	user := m.conv.AddUserMessage(text)
	history := m.conv.History()
	asst := m.conv.AddAssistantMessage()

	var streamCtx context.Context
	var cancel context.CancelFunc
	if m.cfg.StreamTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, m.cfg.StreamTimeout)
	} else {
		streamCtx, cancel = context.WithCancel(ctx)
	}
	m.busy = true
	m.inflight = asst
	m.streamCancel = cancel
	m.mu.Unlock()

	m.emit(Event{Kind: EventMessage, Status: model.StatusReady, MessageID: user.ID})
	m.emit(Event{Kind: EventMessage, Status: model.StatusReady, MessageID: asst.ID})

	defer func() {
		cancel()
		m.mu.Lock()
		current := m.gen == gen && m.inflight == asst
		if current {
			asst.FinalizeStream()
			m.busy = false
			m.inflight = nil
			m.streamCancel = nil
		}
		m.mu.Unlock()
		if current {
			m.emit(Event{Kind: EventStreamDone, Status: model.StatusReady, MessageID: asst.ID})
			m.persist(context.WithoutCancel(ctx))
		}
	}()

	stream, err := m.cfg.Chat.Send(streamCtx, history, modelID, params, tunnel)
	if err != nil {
		return m.failStream(gen, asst, err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return m.failStream(gen, asst, err)
		}
		if !m.applyChunk(gen, asst, chunk) {
			return ErrSuperseded
		}
	}
}

func (m *Manager) applyChunk(gen uint64, asst *model.Message, chunk inference.Chunk) bool {
	m.mu.Lock()
	if m.gen != gen || m.status != model.StatusReady {
		m.mu.Unlock()
		return false
	}
	applied := asst.ApplyChunk(chunk.Seq, chunk.Text)
	m.mu.Unlock()

	if applied {
		m.emit(Event{Kind: EventMessage, Status: model.StatusReady, MessageID: asst.ID})
	}
	return true
}

func (m *Manager) failStream(gen uint64, asst *model.Message, err error) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	asst.Fail(inference.Fallback(err, m.cfg.PickSuggestion))
	m.mu.Unlock()

	m.logger.Warn("stream failed", "category", inference.Categorize(err), "err", err)
	m.emit(Event{Kind: EventMessage, Status: model.StatusReady, MessageID: asst.ID})
	return &Error{Kind: StreamFailed, Err: err}
}

// SetParams replaces the sampling parameters used by subsequent replies.
func (m *Manager) SetParams(p inference.Params) {
	m.mu.Lock()
	m.cfg.Params = p
	m.mu.Unlock()
}

// ClearChat resets the transcript to the welcome message.
func (m *Manager) ClearChat() error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.conv == nil {
		m.conv = model.NewConversationFor(m.ref)
		m.conv.SystemPrompt = m.cfg.SystemPrompt
	}
	m.conv.Clear()
	status := m.status
	m.mu.Unlock()

	m.emit(Event{Kind: EventMessage, Status: status})
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Snapshot returns a detached copy of the session state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		Workspace: m.ref,
		Status:    m.status,
		Busy:      m.busy,
		Models:    append([]model.ModelOption(nil), m.models...),
	}
	if m.lastErr != nil {
		st.Reason = m.lastErr.Error()
	}
	if m.tunnel != nil {
		h := *m.tunnel
		st.Tunnel = &h
	}
	if m.selected != nil {
		sel := *m.selected
		st.Selected = &sel
	}
	if m.conv != nil {
		st.Messages = m.conv.Snapshot()
		st.ConversationID = m.conv.ID
	}
	return st
}

// Status returns the current lifecycle state.
func (m *Manager) Status() model.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Workspace returns the current workspace reference.
func (m *Manager) Workspace() model.WorkspaceRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ref
}

// Err returns the failure that put the session in Error, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != model.StatusError {
		return nil
	}
	return m.lastErr
}

// Transcript returns a detached copy of the conversation, or nil.
func (m *Manager) Transcript() *model.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conv == nil {
		return nil
	}
	return m.conv.Clone()
}

func (m *Manager) persist(ctx context.Context) {
	if m.cfg.Store == nil {
		return
	}
	conv := m.Transcript()
	if conv == nil || conv.MessageCount() <= 1 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.cfg.Store.Save(ctx, conv); err != nil {
		m.logger.Warn("failed to save transcript", "id", conv.ID, "err", err)
	}
}
