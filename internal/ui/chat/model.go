// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/kaito-project/headlamp-kaito/internal/cluster"
	"github.com/kaito-project/headlamp-kaito/internal/logging"
	"github.com/kaito-project/headlamp-kaito/internal/model"
	"github.com/kaito-project/headlamp-kaito/internal/session"
	"github.com/kaito-project/headlamp-kaito/internal/ui/styles"
)

// Session is the part of session.Manager the view drives.
type Session interface {
	Ensure(ctx context.Context, ref model.WorkspaceRef) error
	Close(ctx context.Context) error
	Send(ctx context.Context, text string) error
	SelectModel(value string) error
	ClearChat() error
	Snapshot() session.State
}

// Options configures the chat view.
type Options struct {
	Session Session

	// Workspace to open on start; when empty the picker is shown
	Workspace model.WorkspaceRef

	// ListWorkspaces feeds the picker (Ctrl+W)
	ListWorkspaces func(ctx context.Context) ([]cluster.Workspace, error)

	// Markdown renders finished assistant replies with glamour
	Markdown     bool
	GlamourStyle string

	Context context.Context
	Theme   *styles.Theme
	Logger  *log.Logger
}

// Model is the Bubble Tea model for the chat view.
type Model struct {
	opts   Options
	ctx    context.Context
	theme  *styles.Theme
	keys   KeyMap
	logger *log.Logger

	// Dimensions
	width  int
	height int

	// Last session snapshot
	state session.State

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	markdown *markdownRenderer

	// Workspace picker
	picking    bool
	workspaces []cluster.Workspace
	cursor     int
	loading    bool

	statusMsg string
	quitting  bool
}

// New creates the chat view.
func New(opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme()
	}

	input := textinput.New()
	input.Placeholder = "Ask the model something..."
	input.Prompt = "> "
	input.CharLimit = 4000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		opts:     opts,
		ctx:      opts.Context,
		theme:    opts.Theme,
		keys:     DefaultKeyMap(),
		logger:   logging.OrDiscard(opts.Logger).WithPrefix("ui"),
		viewport: viewport.New(80, 20),
		input:    input,
		spinner:  sp,
		picking:  opts.Workspace.IsZero(),
		loading:  opts.Workspace.IsZero(),
	}
	if opts.Markdown {
		m.markdown = newMarkdownRenderer(opts.Theme.GlamourStyle(opts.GlamourStyle))
	}
	if opts.Session != nil {
		m.state = opts.Session.Snapshot()
	}
	return m
}

// Init starts the session, or loads workspaces for the picker.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.picking {
		cmds = append(cmds, m.loadWorkspacesCmd())
	} else {
		cmds = append(cmds, m.ensureCmd(m.opts.Workspace))
	}
	return tea.Batch(cmds...)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) ensureCmd(ref model.WorkspaceRef) tea.Cmd {
	s, ctx := m.opts.Session, m.ctx
	return func() tea.Msg {
		return EnsureDoneMsg{Err: s.Ensure(ctx, ref)}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	s, ctx := m.opts.Session, m.ctx
	return func() tea.Msg {
		return SendDoneMsg{Err: s.Send(ctx, text)}
	}
}

func (m Model) closeCmd() tea.Cmd {
	s := m.opts.Session
	return func() tea.Msg {
		return ClosedMsg{Err: s.Close(context.Background())}
	}
}

func (m Model) loadWorkspacesCmd() tea.Cmd {
	list, ctx := m.opts.ListWorkspaces, m.ctx
	return func() tea.Msg {
		if list == nil {
			return WorkspacesMsg{Err: errors.New("workspace listing is not available")}
		}
		ws, err := list(ctx)
		return WorkspacesMsg{Workspaces: ws, Err: err}
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case SessionChangedMsg:
		m.refresh()
		return m, nil

	case EnsureDoneMsg:
		m.refresh()
		if msg.Err != nil && !errors.Is(msg.Err, session.ErrSuperseded) {
			m.logger.Debug("session start failed", "err", msg.Err)
		}
		return m, nil

	case SendDoneMsg:
		m.refresh()
		if msg.Err != nil && !errors.Is(msg.Err, session.ErrSuperseded) {
			if _, ok := session.KindOf(msg.Err); !ok {
				m.statusMsg = msg.Err.Error()
			}
		}
		return m, nil

	case ClosedMsg:
		m.refresh()
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil

	case WorkspacesMsg:
		m.loading = false
		if msg.Err != nil {
			m.statusMsg = "Failed to list workspaces: " + msg.Err.Error()
			return m, nil
		}
		m.workspaces = msg.Workspaces
		m.cursor = 0
		for i, ws := range m.workspaces {
			if ws.Ref() == m.state.Workspace {
				m.cursor = i
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.picking {
			return m.handlePickerKey(msg)
		}
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.quitting {
			return m, tea.Quit
		}
		m.quitting = true
		m.statusMsg = "Stopping port forward..."
		return m, m.closeCmd()

	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		if text == "" {
			return m, nil
		}
		if m.state.Busy {
			m.statusMsg = "Wait for the current reply to finish."
			return m, nil
		}
		if m.state.Status != model.StatusReady {
			m.statusMsg = "Session is not ready."
			return m, nil
		}
		m.input.Reset()
		m.statusMsg = ""
		return m, m.sendCmd(text)

	case key.Matches(msg, m.keys.NextModel):
		next, ok := nextModel(m.state)
		if !ok {
			return m, nil
		}
		if err := m.opts.Session.SelectModel(next.Value); err != nil {
			m.statusMsg = err.Error()
		}
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		if err := m.opts.Session.ClearChat(); err != nil {
			m.statusMsg = err.Error()
		}
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Switch):
		m.picking = true
		m.loading = true
		return m, m.loadWorkspacesCmd()

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.PickUp):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.PickDown):
		if m.cursor < len(m.workspaces)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Submit):
		if len(m.workspaces) == 0 {
			return m, nil
		}
		ref := m.workspaces[m.cursor].Ref()
		m.picking = false
		m.statusMsg = ""
		return m, m.ensureCmd(ref)
	case key.Matches(msg, m.keys.Quit):
		if m.state.Workspace.IsZero() {
			m.quitting = true
			return m, tea.Quit
		}
		m.picking = false
	}
	return m, nil
}

// nextModel returns the model after the selected one, wrapping around.
func nextModel(st session.State) (model.ModelOption, bool) {
	if st.Status != model.StatusReady || len(st.Models) < 2 {
		return model.ModelOption{}, false
	}
	idx := 0
	if st.Selected != nil {
		for i, opt := range st.Models {
			if opt.Value == st.Selected.Value {
				idx = (i + 1) % len(st.Models)
				break
			}
		}
	}
	return st.Models[idx], true
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(width-8, 10)

	// header + status + input box + help
	chrome := 1 + 1 + 3 + 1
	m.viewport.Width = width
	m.viewport.Height = max(height-chrome, 3)
	if m.markdown != nil {
		m.markdown.setWidth(width - 6)
	}
	m.viewport.SetContent(m.renderMessages())
}

// refresh re-reads the session and re-renders the transcript.
func (m *Model) refresh() {
	if m.opts.Session == nil {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.state = m.opts.Session.Snapshot()
	m.viewport.SetContent(m.renderMessages())
	if atBottom || m.state.Busy {
		m.viewport.GotoBottom()
	}
}
