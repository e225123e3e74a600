package ui

import (
	"context"
	"errors"
	"strings"
	"time"

	"replayctl/internal/archive"
	"replayctl/internal/replay"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	urlPlaceholder = "Enter an archived URL (Enter to go, Ctrl+C to exit)"
	helpLine       = "enter go · ctrl+r reload · ctrl+f fullscreen · ctrl+c quit"
	actionTimeout  = 5 * time.Second
)

// Controller is the part of the replay controller the bar drives.
type Controller interface {
	SubmitURL(ctx context.Context, raw string) error
	Refresh(ctx context.Context, force bool) error
	ToggleFullscreen(ctx context.Context) error
	SubmitCredentials(ctx context.Context, headers map[string]string) error
	DismissAuth(ctx context.Context) error
}

// EventMsg carries a controller event into the program.
type EventMsg struct {
	Event replay.Event
}

type errMsg struct{ err error }

// Model is the replay bar.
type Model struct {
	ctx     context.Context
	ctrl    Controller
	styles  Styles
	input   textinput.Model
	spinner spinner.Model

	url        string
	timestamp  string
	title      string
	loading    bool
	fullscreen bool
	authOpen   bool
	authColl   string
	err        error
	width      int
}

// New creates the bar for ctrl.
func New(ctx context.Context, ctrl Controller) Model {
	styles := DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = urlPlaceholder
	ti.Focus()
	ti.Prompt = "| "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.Input

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	return Model{
		ctx:     ctx,
		ctrl:    ctrl,
		styles:  styles,
		input:   ti,
		spinner: sp,
	}
}

// WithSnapshot seeds the bar from a controller snapshot.
func (m Model) WithSnapshot(s replay.Snapshot) Model {
	m.url = s.Target.URL
	m.timestamp = s.Target.Timestamp
	if s.Replay.ReplayURL != "" {
		m.url = s.Replay.ReplayURL
		m.timestamp = s.Replay.ReplayTimestamp
	}
	m.title = s.Replay.Title
	m.loading = s.Replay.IsLoading
	m.fullscreen = s.Fullscreen
	if s.PromptOpen && s.Collection != nil {
		m = m.openAuth(s.Collection.ID)
	} else {
		m.input.SetValue(m.url)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 8; w > 10 {
			m.input.Width = w
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		return m.apply(msg.Event)

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyCtrlR:
		m.err = nil
		return m, m.call(func(ctx context.Context) error { return m.ctrl.Refresh(ctx, false) })

	case tea.KeyCtrlF:
		m.err = nil
		return m, m.call(m.ctrl.ToggleFullscreen)

	case tea.KeyEsc:
		if m.authOpen {
			return m, m.call(m.ctrl.DismissAuth)
		}
		m.input.SetValue(m.url)
		m.input.CursorEnd()
		return m, nil

	case tea.KeyEnter:
		m.err = nil
		value := strings.TrimSpace(m.input.Value())
		if m.authOpen {
			if value == "" {
				return m, nil
			}
			m.input.Reset()
			headers := map[string]string{"Authorization": "Bearer " + value}
			return m, m.call(func(ctx context.Context) error { return m.ctrl.SubmitCredentials(ctx, headers) })
		}
		return m, m.call(func(ctx context.Context) error { return m.ctrl.SubmitURL(ctx, value) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) call(fn func(ctx context.Context) error) tea.Cmd {
	parent := m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, actionTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m Model) apply(ev replay.Event) (tea.Model, tea.Cmd) {
	switch e := ev.(type) {
	case replay.NavigationChanged:
		m.url, m.timestamp = e.URL, e.Timestamp
		if !m.authOpen {
			m.input.SetValue(e.URL)
			m.input.CursorEnd()
		}
	case replay.TitleChanged:
		m.title = e.Title
	case replay.LoadingChanged:
		m.loading = e.Loading
		if e.Loading {
			return m, m.spinner.Tick
		}
	case replay.FullscreenChanged:
		m.fullscreen = e.Active
	case replay.AuthPromptChanged:
		if e.Open {
			m = m.openAuth(e.CollectionID)
		} else {
			m = m.closeAuth()
		}
	}
	return m, nil
}

func (m Model) openAuth(collection string) Model {
	m.authOpen = true
	m.authColl = collection
	m.input.Reset()
	m.input.EchoMode = textinput.EchoPassword
	m.input.Placeholder = "Paste an access token for " + collection
	return m
}

func (m Model) closeAuth() Model {
	m.authOpen = false
	m.authColl = ""
	m.input.EchoMode = textinput.EchoNormal
	m.input.Placeholder = urlPlaceholder
	m.input.SetValue(m.url)
	m.input.CursorEnd()
	return m
}

func (m Model) View() string {
	indicator := m.styles.Ready.Render("●")
	if m.loading {
		indicator = m.spinner.View()
	}
	lines := []string{indicator + " " + m.input.View()}

	if m.url != "" {
		info := m.styles.Title.Render(displayTitle(m.title, m.url)) + "  " + m.styles.Date.Render(CaptureDate(m.timestamp))
		if m.fullscreen {
			info += "  " + m.styles.Fullscreen.Render("[fullscreen]")
		}
		lines = append(lines, info)
	}
	if m.authOpen {
		lines = append(lines, m.styles.Auth.Render(
			"Authorization required for "+m.authColl+". Paste a token and press enter, or esc to dismiss."))
	}
	if m.err != nil && !errors.Is(m.err, context.Canceled) {
		lines = append(lines, m.styles.Error.Render("error: "+m.err.Error()))
	}
	lines = append(lines, m.styles.Help.Render(helpLine))

	bar := m.styles.Bar
	if m.width > 0 {
		bar = bar.Width(m.width)
	}
	return bar.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func displayTitle(title, url string) string {
	if title != "" {
		return title
	}
	return url
}

// CaptureDate renders a capture timestamp for display.
func CaptureDate(ts string) string {
	if ts == "" {
		return "latest capture"
	}
	t, err := archive.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	return t.Format("Jan 2, 2006 15:04:05 UTC")
}
