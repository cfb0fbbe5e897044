// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaito-project/headlamp-kaito/internal/inference"
	"github.com/kaito-project/headlamp-kaito/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeResolver struct {
	mu      sync.Mutex
	eps     map[model.WorkspaceRef]model.ResolvedEndpoint
	err     error
	entered chan struct{}
	gate    chan struct{}
}

func (r *fakeResolver) Resolve(ctx context.Context, ref model.WorkspaceRef) (model.ResolvedEndpoint, error) {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return model.ResolvedEndpoint{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return model.ResolvedEndpoint{}, r.err
	}
	ep, ok := r.eps[ref]
	if !ok {
		return model.ResolvedEndpoint{}, errors.New("no pod")
	}
	return ep, nil
}

// fakeTunnels records open/close calls in order and tracks live tunnels.
type fakeTunnels struct {
	mu       sync.Mutex
	log      []string
	live     map[string]bool
	maxLive  int
	opens    int
	closes   int
	openErr  error
	closeErr error
	port     int
	// gate, when set, blocks Open until closed; Open ignores ctx so the
	// tunnel still opens after cancellation
	gate    chan struct{}
	entered chan struct{}
}

func newFakeTunnels() *fakeTunnels {
	return &fakeTunnels{live: map[string]bool{}, port: 15000}
}

func (f *fakeTunnels) Open(_ context.Context, ep model.ResolvedEndpoint, namespace, workspaceName string) (model.TunnelHandle, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return model.TunnelHandle{}, f.openErr
	}
	id := workspaceName + "/" + namespace
	f.opens++
	f.port++
	f.log = append(f.log, "open "+id)
	f.live[id] = true
	if len(f.live) > f.maxLive {
		f.maxLive = len(f.live)
	}
	return model.TunnelHandle{PortForwardID: id, LocalPort: strconv.Itoa(f.port), Namespace: namespace}, nil
}

func (f *fakeTunnels) Close(_ context.Context, h model.TunnelHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.log = append(f.log, "close "+h.PortForwardID)
	delete(f.live, h.PortForwardID)
	return f.closeErr
}

func (f *fakeTunnels) snapshot() (log []string, opens, closes, live, maxLive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...), f.opens, f.closes, len(f.live), f.maxLive
}

type fakeDiscoverer struct {
	mu     sync.Mutex
	models []model.ModelOption
	err    error
	calls  int
}

func (d *fakeDiscoverer) Discover(_ context.Context, _ string) ([]model.ModelOption, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return append([]model.ModelOption{}, d.models...), nil
}

// scriptStream replays chunks, optionally blocking before the gated index,
// and ends with err (io.EOF when nil).
type scriptStream struct {
	chunks  []inference.Chunk
	err     error
	pos     int
	gateAt  int
	gate    chan struct{}
	reached chan struct{}
	closed  bool
}

func (s *scriptStream) Next() (inference.Chunk, error) {
	if s.gate != nil && s.pos == s.gateAt {
		close(s.reached)
		<-s.gate
		s.gate = nil
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return inference.Chunk{}, s.err
	}
	return inference.Chunk{}, io.EOF
}

func (s *scriptStream) Close() error {
	s.closed = true
	return nil
}

type fakeChat struct {
	mu      sync.Mutex
	stream  *scriptStream
	sendErr error
	history []model.Message
	modelID string
	params  inference.Params
	calls   int
}

func (c *fakeChat) Send(_ context.Context, history []model.Message, modelID string, params inference.Params, _ model.TunnelHandle) (inference.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.history = history
	c.modelID = modelID
	c.params = params
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	return c.stream, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*model.Conversation
}

func (s *fakeStore) Save(_ context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, conv)
	return nil
}

// =============================================================================
// FIXTURES
// =============================================================================

var (
	refA = model.WorkspaceRef{Namespace: "default", WorkspaceName: "workspace-phi-4"}
	refB = model.WorkspaceRef{Namespace: "default", WorkspaceName: "workspace-llama"}

	phi4 = model.ModelOption{Title: "phi-4-mini-instruct", Value: "phi-4-mini-instruct"}
)

type fixture struct {
	resolver   *fakeResolver
	tunnels    *fakeTunnels
	discoverer *fakeDiscoverer
	chat       *fakeChat
	store      *fakeStore
	cfg        Config
}

func newFixture() *fixture {
	f := &fixture{
		resolver: &fakeResolver{eps: map[model.WorkspaceRef]model.ResolvedEndpoint{
			refA: {PodName: "workspace-phi-4-abc", TargetPort: 5000},
			refB: {PodName: "workspace-llama-xyz", TargetPort: 5000},
		}},
		tunnels:    newFakeTunnels(),
		discoverer: &fakeDiscoverer{models: []model.ModelOption{phi4}},
		chat:       &fakeChat{},
		store:      &fakeStore{},
	}
	f.cfg = Config{
		Resolver:       f.resolver,
		Tunnels:        f.tunnels,
		Discoverer:     f.discoverer,
		Chat:           f.chat,
		Store:          f.store,
		PickSuggestion: func(int) int { return 0 },
	}
	return f
}

func (f *fixture) manager() *Manager {
	return NewManager(f.cfg)
}

func lastMessage(st State) model.Message {
	return st.Messages[len(st.Messages)-1]
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestEnsure_HappyPath(t *testing.T) {
	f := newFixture()
	var mu sync.Mutex
	var statuses []model.SessionStatus
	f.cfg.OnChange = func(ev Event) {
		if ev.Kind == EventStatus {
			mu.Lock()
			statuses = append(statuses, ev.Status)
			mu.Unlock()
		}
	}
	m := f.manager()

	require.NoError(t, m.Ensure(context.Background(), refA))

	st := m.Snapshot()
	assert.Equal(t, model.StatusReady, st.Status)
	require.NotNil(t, st.Tunnel)
	assert.Equal(t, "workspace-phi-4/default", st.Tunnel.PortForwardID)
	assert.Equal(t, []model.ModelOption{phi4}, st.Models)
	require.NotNil(t, st.Selected)
	assert.Equal(t, phi4, *st.Selected)
	assert.Equal(t, model.WelcomeMessage, st.Messages[0].Content)

	mu.Lock()
	assert.Equal(t, []model.SessionStatus{
		model.StatusResolving,
		model.StatusTunnelOpening,
		model.StatusDiscoveringModels,
		model.StatusReady,
	}, statuses)
	mu.Unlock()
}

func TestEnsure_PrefersConfiguredModel(t *testing.T) {
	f := newFixture()
	llama := model.NewModelOption("llama-3.1-8b-instruct")
	f.discoverer.models = []model.ModelOption{phi4, llama}
	f.cfg.DefaultModel = llama.Value
	m := f.manager()

	require.NoError(t, m.Ensure(context.Background(), refA))
	assert.Equal(t, llama.Value, m.Snapshot().Selected.Value)
}

func TestEnsure_IdempotentWhileInFlight(t *testing.T) {
	f := newFixture()
	f.resolver.entered = make(chan struct{}, 1)
	f.resolver.gate = make(chan struct{})
	m := f.manager()

	errs := make(chan error, 5)
	go func() { errs <- m.Ensure(context.Background(), refA) }()
	<-f.resolver.entered

	for i := 0; i < 4; i++ {
		go func() { errs <- m.Ensure(context.Background(), refA) }()
	}
	close(f.resolver.gate)

	for i := 0; i < 5; i++ {
		require.NoError(t, <-errs)
	}
	_, opens, _, _, _ := f.tunnels.snapshot()
	assert.Equal(t, 1, opens)
	assert.Equal(t, model.StatusReady, m.Status())
}

func TestEnsure_IdempotentWhenReady(t *testing.T) {
	f := newFixture()
	m := f.manager()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Ensure(context.Background(), refA))
	}
	_, opens, closes, _, _ := f.tunnels.snapshot()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 0, closes)
	assert.Equal(t, 1, f.discoverer.calls)
}

func TestEnsure_SwitchWorkspaceClosesFirst(t *testing.T) {
	f := newFixture()
	m := f.manager()

	require.NoError(t, m.Ensure(context.Background(), refA))
	firstConv := m.Snapshot().ConversationID
	require.NoError(t, m.Ensure(context.Background(), refB))

	log, _, _, live, maxLive := f.tunnels.snapshot()
	assert.Equal(t, []string{
		"open workspace-phi-4/default",
		"close workspace-phi-4/default",
		"open workspace-llama/default",
	}, log)
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, maxLive)

	st := m.Snapshot()
	assert.Equal(t, refB, st.Workspace)
	assert.NotEqual(t, firstConv, st.ConversationID)
}

func TestEnsure_SwitchWhileTunnelOpening(t *testing.T) {
	f := newFixture()
	f.tunnels.entered = make(chan struct{}, 2)
	f.tunnels.gate = make(chan struct{})
	m := f.manager()

	errA := make(chan error, 1)
	go func() { errA <- m.Ensure(context.Background(), refA) }()
	<-f.tunnels.entered

	errB := make(chan error, 1)
	go func() { errB <- m.Ensure(context.Background(), refB) }()
	require.Eventually(t, func() bool { return m.Workspace() == refB }, time.Second, time.Millisecond)

	// A's open completes after it was superseded; B waits for A to clean up
	close(f.tunnels.gate)

	assert.ErrorIs(t, <-errA, ErrSuperseded)
	require.NoError(t, <-errB)

	log, opens, closes, live, maxLive := f.tunnels.snapshot()
	assert.Equal(t, []string{
		"open workspace-phi-4/default",
		"close workspace-phi-4/default",
		"open workspace-llama/default",
	}, log)
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, maxLive)
	assert.Equal(t, model.StatusReady, m.Status())
	assert.Equal(t, "workspace-llama/default", m.Snapshot().Tunnel.PortForwardID)
}

func TestClose_DuringTunnelOpeningDoesNotLeak(t *testing.T) {
	f := newFixture()
	f.tunnels.entered = make(chan struct{}, 1)
	f.tunnels.gate = make(chan struct{})
	m := f.manager()

	errA := make(chan error, 1)
	go func() { errA <- m.Ensure(context.Background(), refA) }()
	<-f.tunnels.entered

	closed := make(chan error, 1)
	go func() { closed <- m.Close(context.Background()) }()
	require.Eventually(t, func() bool { return m.Status() == model.StatusIdle }, time.Second, time.Millisecond)
	close(f.tunnels.gate)

	require.NoError(t, <-closed)
	assert.ErrorIs(t, <-errA, ErrSuperseded)

	_, opens, closes, live, _ := f.tunnels.snapshot()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, live)
	assert.Equal(t, model.StatusIdle, m.Status())
	assert.Equal(t, 0, f.discoverer.calls)
}

func TestClose_WhenReady(t *testing.T) {
	f := newFixture()
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	_, opens, closes, live, _ := f.tunnels.snapshot()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, live)

	st := m.Snapshot()
	assert.Equal(t, model.StatusIdle, st.Status)
	assert.Nil(t, st.Tunnel)
	assert.Empty(t, st.Models)
	assert.Equal(t, "Port forwarding stopped successfully.", lastMessage(st).Content)
}

func TestClose_FailureIsNoted(t *testing.T) {
	f := newFixture()
	f.tunnels.closeErr = errors.New("host unreachable")
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	require.NoError(t, m.Close(context.Background()))

	st := m.Snapshot()
	assert.Equal(t, model.StatusIdle, st.Status)
	assert.Equal(t, "Failed to stop port forwarding: host unreachable", lastMessage(st).Content)
}

func TestClose_ThenReopenSameWorkspaceKeepsConversation(t *testing.T) {
	f := newFixture()
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))
	id := m.Snapshot().ConversationID

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Ensure(context.Background(), refA))

	assert.Equal(t, id, m.Snapshot().ConversationID)
	_, opens, closes, _, maxLive := f.tunnels.snapshot()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, maxLive)
}

func TestAtMostOneTunnel(t *testing.T) {
	f := newFixture()
	m := f.manager()
	ctx := context.Background()

	steps := []func() error{
		func() error { return m.Ensure(ctx, refA) },
		func() error { return m.Ensure(ctx, refA) },
		func() error { return m.Close(ctx) },
		func() error { return m.Ensure(ctx, refA) },
		func() error { return m.Ensure(ctx, refB) },
		func() error { return m.Ensure(ctx, refA) },
		func() error { return m.Close(ctx) },
		func() error { return m.Close(ctx) },
	}
	for _, step := range steps {
		require.NoError(t, step())
		_, opens, closes, _, _ := f.tunnels.snapshot()
		require.LessOrEqual(t, opens-closes, 1)
	}

	_, opens, closes, live, maxLive := f.tunnels.snapshot()
	assert.Equal(t, opens, closes)
	assert.Equal(t, 0, live)
	assert.Equal(t, 1, maxLive)
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestEnsure_ResolutionFailed(t *testing.T) {
	f := newFixture()
	m := f.manager()

	err := m.Ensure(context.Background(), model.WorkspaceRef{Namespace: "default", WorkspaceName: "missing"})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ResolutionFailed, kind)

	st := m.Snapshot()
	assert.Equal(t, model.StatusError, st.Status)
	assert.Contains(t, st.Reason, "no inference pod found")
	_, opens, _, _, _ := f.tunnels.snapshot()
	assert.Equal(t, 0, opens)
}

func TestEnsure_TunnelOpenFailed(t *testing.T) {
	f := newFixture()
	f.tunnels.openErr = errors.New("address already in use")
	m := f.manager()

	err := m.Ensure(context.Background(), refA)
	kind, _ := KindOf(err)
	assert.Equal(t, TunnelOpenFailed, kind)
	assert.Equal(t, model.StatusError, m.Status())
	assert.Contains(t, m.Snapshot().Reason, "address already in use")

	// not retried automatically; the user re-triggers
	f.tunnels.mu.Lock()
	f.tunnels.openErr = nil
	f.tunnels.mu.Unlock()
	require.NoError(t, m.Ensure(context.Background(), refA))
	assert.Equal(t, model.StatusReady, m.Status())
}

func TestEnsure_DiscoveryFailedKeepsTunnel(t *testing.T) {
	f := newFixture()
	f.discoverer.err = errors.New("500 Internal Server Error")
	m := f.manager()

	err := m.Ensure(context.Background(), refA)
	kind, _ := KindOf(err)
	assert.Equal(t, DiscoveryFailed, kind)

	st := m.Snapshot()
	assert.Equal(t, model.StatusError, st.Status)
	assert.NotNil(t, st.Tunnel)
	_, _, _, live, _ := f.tunnels.snapshot()
	assert.Equal(t, 1, live)

	require.NoError(t, m.Close(context.Background()))
	_, opens, closes, live, _ := f.tunnels.snapshot()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 0, live)
}

func TestEnsure_DiscoveryFailedClosesTunnelWhenConfigured(t *testing.T) {
	f := newFixture()
	f.discoverer.err = errors.New("connection refused")
	f.cfg.CloseTunnelOnDiscoveryFailure = true
	m := f.manager()

	require.Error(t, m.Ensure(context.Background(), refA))
	st := m.Snapshot()
	assert.Equal(t, model.StatusError, st.Status)
	assert.Nil(t, st.Tunnel)

	log, _, _, live, _ := f.tunnels.snapshot()
	assert.Equal(t, 0, live)
	assert.Equal(t, []string{"open workspace-phi-4/default", "close workspace-phi-4/default"}, log)
}

func TestEnsure_EmptyCatalogIsReady(t *testing.T) {
	f := newFixture()
	f.discoverer.models = nil
	m := f.manager()

	require.NoError(t, m.Ensure(context.Background(), refA))
	st := m.Snapshot()
	assert.Equal(t, model.StatusReady, st.Status)
	assert.Empty(t, st.Models)
	assert.Nil(t, st.Selected)
	assert.ErrorIs(t, m.Send(context.Background(), "hi"), ErrNoModel)
}

func TestEnsure_EmptyRef(t *testing.T) {
	m := newFixture().manager()
	assert.ErrorIs(t, m.Ensure(context.Background(), model.WorkspaceRef{}), ErrNoWorkspace)
	assert.Equal(t, model.StatusIdle, m.Status())
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestSend_StreamsInOrderIgnoringReplays(t *testing.T) {
	f := newFixture()
	f.chat.stream = &scriptStream{chunks: []inference.Chunk{
		{Seq: 1, Text: "Hel"},
		{Seq: 2, Text: "lo"},
		{Seq: 2, Text: "lo"},
		{Seq: 1, Text: "Hel"},
		{Seq: 3, Text: " world"},
	}}
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	require.NoError(t, m.Send(context.Background(), "  say hello  "))

	st := m.Snapshot()
	reply := lastMessage(st)
	assert.Equal(t, model.RoleAssistant, reply.Role)
	assert.Equal(t, "Hello world", reply.Content)
	assert.False(t, reply.IsStreaming)
	assert.False(t, st.Busy)
	assert.Equal(t, model.StatusReady, st.Status)
	assert.True(t, f.chat.stream.closed)

	user := st.Messages[len(st.Messages)-2]
	assert.Equal(t, "say hello", user.Content)

	assert.Equal(t, phi4.Value, f.chat.modelID)
	assert.Equal(t, inference.DefaultParams(), f.chat.params)
	require.NotEmpty(t, f.chat.history)
	assert.Equal(t, "say hello", f.chat.history[len(f.chat.history)-1].Content)

	f.store.mu.Lock()
	require.Len(t, f.store.saved, 1)
	assert.Equal(t, "Hello world", f.store.saved[0].GetLastMessage().Content)
	f.store.mu.Unlock()
}

func TestSend_SystemPromptLeadsHistory(t *testing.T) {
	f := newFixture()
	f.cfg.SystemPrompt = "You are terse."
	f.chat.stream = &scriptStream{}
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	require.NoError(t, m.Send(context.Background(), "hi"))
	require.NotEmpty(t, f.chat.history)
	assert.Equal(t, model.RoleSystem, f.chat.history[0].Role)
	assert.Equal(t, "You are terse.", f.chat.history[0].Content)
}

func TestSetParams_AppliesToNextReply(t *testing.T) {
	f := newFixture()
	f.chat.stream = &scriptStream{}
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	m.SetParams(inference.Params{Temperature: 0.2, MaxTokens: 64})
	require.NoError(t, m.Send(context.Background(), "hi"))
	assert.Equal(t, inference.Params{Temperature: 0.2, MaxTokens: 64}, f.chat.params)
}

func TestSend_FailureKeepsPartialContent(t *testing.T) {
	f := newFixture()
	f.chat.stream = &scriptStream{
		chunks: []inference.Chunk{{Seq: 1, Text: "Partial"}},
		err:    syscall.ECONNREFUSED,
	}
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	err := m.Send(context.Background(), "hi")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, StreamFailed, kind)

	st := m.Snapshot()
	reply := lastMessage(st)
	assert.Equal(t, "Partial\n\n"+inference.Fallback(syscall.ECONNREFUSED, func(int) int { return 0 }), reply.Content)
	assert.False(t, reply.IsStreaming)
	assert.False(t, st.Busy)
	assert.Equal(t, model.StatusReady, st.Status, "stream failures do not fail the session")
}

func TestSend_OpenFailureIsFallback(t *testing.T) {
	f := newFixture()
	f.chat.sendErr = context.DeadlineExceeded
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	require.Error(t, m.Send(context.Background(), "hi"))
	reply := lastMessage(m.Snapshot())
	assert.Contains(t, reply.Content, "Connection timed out.")
	assert.Contains(t, reply.Content, "(Using fallback response - please check AI service configuration)")
	assert.False(t, m.Snapshot().Busy)
}

func TestSend_Preconditions(t *testing.T) {
	f := newFixture()
	m := f.manager()

	assert.ErrorIs(t, m.Send(context.Background(), "hi"), ErrNotReady)

	require.NoError(t, m.Ensure(context.Background(), refA))
	assert.ErrorIs(t, m.Send(context.Background(), "   "), ErrEmptyMessage)
}

func TestSend_BusyRejectsConcurrentSend(t *testing.T) {
	f := newFixture()
	stream := &scriptStream{
		chunks:  []inference.Chunk{{Seq: 1, Text: "a"}, {Seq: 2, Text: "b"}},
		gateAt:  1,
		gate:    make(chan struct{}),
		reached: make(chan struct{}),
	}
	f.chat.stream = stream
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "first") }()
	<-stream.reached

	assert.True(t, m.Snapshot().Busy)
	assert.ErrorIs(t, m.Send(context.Background(), "second"), ErrBusy)
	assert.ErrorIs(t, m.ClearChat(), ErrBusy)

	close(stream.gate)
	require.NoError(t, <-done)
	assert.False(t, m.Snapshot().Busy)
	assert.Equal(t, "ab", lastMessage(m.Snapshot()).Content)
}

func TestSend_SwitchMidStreamStopsApplying(t *testing.T) {
	f := newFixture()
	stream := &scriptStream{
		chunks:  []inference.Chunk{{Seq: 1, Text: "from A"}, {Seq: 2, Text: " late"}},
		gateAt:  1,
		gate:    make(chan struct{}),
		reached: make(chan struct{}),
	}
	f.chat.stream = stream
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))
	convA := m.Transcript()

	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "hi") }()
	<-stream.reached

	require.NoError(t, m.Close(context.Background()))
	close(stream.gate)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	st := m.Snapshot()
	assert.False(t, st.Busy)
	assert.Equal(t, convA.ID, st.ConversationID)

	var reply model.Message
	for _, msg := range st.Messages {
		if msg.Role == model.RoleAssistant && msg.Content == "from A" {
			reply = msg
		}
	}
	assert.Equal(t, "from A", reply.Content, "chunks after close are not applied")
	assert.False(t, reply.IsStreaming)
}

func TestSelectModel_KeepsTunnel(t *testing.T) {
	f := newFixture()
	llama := model.NewModelOption("llama-3.1-8b-instruct")
	f.discoverer.models = []model.ModelOption{phi4, llama}
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))

	require.NoError(t, m.SelectModel(llama.Value))
	assert.ErrorIs(t, m.SelectModel("gpt-4"), ErrUnknownModel)

	st := m.Snapshot()
	assert.Equal(t, llama.Value, st.Selected.Value)
	assert.True(t, st.Selected.SupportsTools)
	_, opens, closes, _, _ := f.tunnels.snapshot()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 0, closes)
	assert.Equal(t, llama.Value, m.Transcript().Model)
}

func TestSelectModel_NotReady(t *testing.T) {
	m := newFixture().manager()
	assert.ErrorIs(t, m.SelectModel(phi4.Value), ErrNotReady)
}

func TestClearChat(t *testing.T) {
	f := newFixture()
	f.chat.stream = &scriptStream{chunks: []inference.Chunk{{Seq: 1, Text: "ok"}}}
	m := f.manager()
	require.NoError(t, m.Ensure(context.Background(), refA))
	require.NoError(t, m.Send(context.Background(), "hi"))

	require.NoError(t, m.ClearChat())
	st := m.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, model.WelcomeMessage, st.Messages[0].Content)
	assert.Equal(t, model.StatusReady, st.Status)
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "ResolutionFailed", ResolutionFailed.String())
	assert.Equal(t, "TunnelOpenFailed", TunnelOpenFailed.String())
	assert.Equal(t, "DiscoveryFailed", DiscoveryFailed.String())
	assert.Equal(t, "StreamFailed", StreamFailed.String())
}
