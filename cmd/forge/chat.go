package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nstogner/forge/pkg/action"
	"github.com/nstogner/forge/pkg/client"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/server"
)

var serverURL string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent about a project in the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&serverURL, "server", "", "Forge server URL (default: http://localhost plus the configured addr)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs always go to a file.
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "chat.log")
	}
	closeLog, err := cfg.SetupLogging(io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	base := serverURL
	if base == "" {
		base = "http://localhost" + cfg.Addr
	}
	slog.Info("Chat starting", "server", base)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(newChatModel(ctx, client.New(base)), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#F05340")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			PaddingLeft(2)

	actionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	actionTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
	okStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	cursorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

type state int

const (
	stateMenu state = iota
	stateNaming
	stateChatting
)

type (
	errMsg      struct{ err error }
	projectsMsg []domain.Project
	historyMsg  struct {
		project  domain.Project
		messages []client.Message
	}
	chatOpenedMsg struct {
		chat   *client.Chat
		frames <-chan server.Frame
	}
	frameMsg      server.Frame
	chatClosedMsg struct{}
	outcomesMsg   []sandbox.Outcome
)

// entry is one rendered turn of the transcript.
type entry struct {
	role     domain.Role
	id       string
	text     string
	thinking string
	segments []action.Segment
	outcomes []sandbox.Outcome
}

type chatModel struct {
	ctx    context.Context
	client *client.Client

	state    state
	projects []domain.Project
	cursor   int
	width    int
	height   int
	err      error

	project domain.Project
	chat    *client.Chat
	frames  <-chan server.Frame
	entries []entry
	// pending is the answer being streamed, if any.
	pending *entry

	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, c *client.Client) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Describe the app you want..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	// The standard style avoids terminal queries that leak into input.
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	return chatModel{
		ctx:      ctx,
		client:   c,
		state:    stateMenu,
		viewport: vp,
		textarea: ta,
		renderer: r,
		width:    80,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadProjects())
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keys only reach the textarea when it is visible.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state != stateMenu {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-m.textarea.Height()-4, 0)
		m.textarea.SetWidth(msg.Width)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.chat != nil {
				m.chat.Close()
			}
			return m, tea.Quit
		case tea.KeyUp:
			if m.state == stateMenu && m.cursor > 0 {
				m.cursor--
			}
		case tea.KeyDown:
			if m.state == stateMenu && m.cursor < len(m.projects) {
				m.cursor++
			}
		case tea.KeyEnter:
			m.err = nil
			switch m.state {
			case stateMenu:
				if m.cursor == 0 {
					m.state = stateNaming
					m.textarea.Reset()
					m.textarea.Placeholder = "Project name..."
					return m, nil
				}
				return m, m.openProject(m.projects[m.cursor-1])
			case stateNaming:
				name := strings.TrimSpace(m.textarea.Value())
				if name == "" {
					return m, nil
				}
				m.textarea.Reset()
				return m, m.createProject(name)
			case stateChatting:
				return m.submit()
			}
		}

	case projectsMsg:
		m.projects = msg

	case historyMsg:
		m.project = msg.project
		m.entries = nil
		for _, hm := range msg.messages {
			m.entries = append(m.entries, entry{
				role:     hm.Role,
				id:       hm.ID,
				text:     hm.Content,
				segments: hm.Segments,
			})
		}
		m.refresh()
		cmds = append(cmds, m.openChat(msg.project.ID))

	case chatOpenedMsg:
		m.chat = msg.chat
		m.frames = msg.frames
		m.state = stateChatting
		m.textarea.Placeholder = "Type a message, /apply to run the last answer, /exit to quit..."
		m.textarea.Focus()
		cmds = append(cmds, waitForFrame(m.frames))

	case frameMsg:
		m.handleFrame(server.Frame(msg))
		m.refresh()
		cmds = append(cmds, waitForFrame(m.frames))

	case chatClosedMsg:
		m.err = fmt.Errorf("connection to server closed")
		m.chat = nil

	case outcomesMsg:
		for i := len(m.entries) - 1; i >= 0; i-- {
			if m.entries[i].role == domain.RoleAssistant {
				m.entries[i].outcomes = msg
				break
			}
		}
		m.refresh()

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

// handleFrame folds one server frame into the transcript.
func (m *chatModel) handleFrame(f server.Frame) {
	if m.pending == nil && f.Type != server.FrameError {
		m.pending = &entry{role: domain.RoleAssistant}
	}

	switch f.Type {
	case server.FrameThinking:
		m.pending.thinking += f.Content
	case server.FrameText:
		m.pending.text += f.Content
	case server.FrameSegments:
		m.pending.segments = f.Segments
	case server.FrameDone:
		m.pending.text = f.Content
		m.pending.segments = f.Segments
		if f.Message != nil {
			m.pending.id = f.Message.ID
		}
		m.entries = append(m.entries, *m.pending)
		m.pending = nil
	case server.FrameError:
		m.pending = nil
		m.err = fmt.Errorf("%s", f.Error)
	}
}

func (m chatModel) submit() (tea.Model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	m.textarea.Reset()

	switch v {
	case "/exit":
		if m.chat != nil {
			m.chat.Close()
		}
		return m, tea.Quit
	case "/apply":
		return m, m.applyLast()
	}

	if m.pending != nil {
		m.err = fmt.Errorf("wait for the current answer to finish")
		return m, nil
	}
	if m.chat == nil {
		m.err = fmt.Errorf("not connected")
		return m, nil
	}

	m.entries = append(m.entries, entry{role: domain.RoleUser, text: v})
	m.refresh()
	chat := m.chat
	return m, func() tea.Msg {
		if err := chat.Send(v); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m *chatModel) refresh() {
	m.viewport.SetContent(renderTranscript(m.entries, m.pending, m.renderer))
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	switch m.state {
	case stateMenu:
		options := []string{"New Project"}
		for _, p := range m.projects {
			options = append(options, fmt.Sprintf("%s (%s)", p.Name, p.CreatedAt.Format("2006-01-02")))
		}
		var lines []string
		for i, o := range options {
			cursor := " "
			if m.cursor == i {
				cursor = ">"
				o = selectedStyle.Render(o)
			}
			lines = append(lines, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), o))
		}
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Forge"), "",
			lipgloss.JoinVertical(lipgloss.Left, lines...), "",
			"Press Enter to select, Esc to quit.",
			errorView,
		)
	case stateNaming:
		return lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("New Project"), "",
			m.textarea.View(),
			errorView,
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Forge: "+m.project.Name),
		"",
		m.viewport.View(),
		errorView,
		m.textarea.View(),
	)
}

// Commands

func (m chatModel) loadProjects() tea.Cmd {
	return func() tea.Msg {
		projects, err := m.client.ListProjects(m.ctx)
		if err != nil {
			return errMsg{fmt.Errorf("listing projects: %w", err)}
		}
		return projectsMsg(projects)
	}
}

func (m chatModel) createProject(name string) tea.Cmd {
	return func() tea.Msg {
		p, err := m.client.CreateProject(m.ctx, name, "")
		if err != nil {
			return errMsg{fmt.Errorf("creating project: %w", err)}
		}
		return historyMsg{project: *p}
	}
}

func (m chatModel) openProject(p domain.Project) tea.Cmd {
	return func() tea.Msg {
		msgs, err := m.client.Messages(m.ctx, p.ID)
		if err != nil {
			return errMsg{fmt.Errorf("loading messages: %w", err)}
		}
		return historyMsg{project: p, messages: msgs}
	}
}

func (m chatModel) openChat(projectID string) tea.Cmd {
	return func() tea.Msg {
		chat, err := m.client.Chat(m.ctx, projectID)
		if err != nil {
			return errMsg{fmt.Errorf("opening chat: %w", err)}
		}
		return chatOpenedMsg{chat: chat, frames: readFrames(chat)}
	}
}

func (m chatModel) applyLast() tea.Cmd {
	var id string
	for i := len(m.entries) - 1; i >= 0; i-- {
		if e := m.entries[i]; e.role == domain.RoleAssistant && e.id != "" {
			id = e.id
			break
		}
	}
	if id == "" {
		return func() tea.Msg { return errMsg{fmt.Errorf("no answer to apply")} }
	}
	projectID := m.project.ID
	return func() tea.Msg {
		outcomes, err := m.client.Apply(m.ctx, projectID, id)
		if err != nil {
			return errMsg{fmt.Errorf("applying actions: %w", err)}
		}
		return outcomesMsg(outcomes)
	}
}

// readFrames pumps frames from the websocket until it closes.
func readFrames(chat *client.Chat) <-chan server.Frame {
	ch := make(chan server.Frame, 16)
	go func() {
		defer close(ch)
		for {
			f, err := chat.Next()
			if err != nil {
				slog.Debug("Chat connection closed", "error", err)
				return
			}
			ch <- f
		}
	}()
	return ch
}

func waitForFrame(ch <-chan server.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return chatClosedMsg{}
		}
		return frameMsg(f)
	}
}

// Rendering

func renderTranscript(entries []entry, pending *entry, r *glamour.TermRenderer) string {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(renderEntry(e, r))
		sb.WriteString("\n")
	}
	if pending != nil {
		sb.WriteString(renderEntry(*pending, r))
	}
	return sb.String()
}

func renderEntry(e entry, r *glamour.TermRenderer) string {
	var sb strings.Builder
	if e.role == domain.RoleUser {
		sb.WriteString(userStyle.Render("You:"))
		sb.WriteString("\n")
		sb.WriteString(e.text)
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString(senderStyle.Render("Forge:"))
	sb.WriteString("\n")
	if e.thinking != "" {
		sb.WriteString(thinkingStyle.Render(e.thinking))
		sb.WriteString("\n")
	}
	if len(e.segments) == 0 {
		sb.WriteString(renderMarkdown(e.text, r))
	}
	for _, seg := range e.segments {
		sb.WriteString(renderSegment(seg, r))
		sb.WriteString("\n")
	}
	for _, o := range e.outcomes {
		sb.WriteString(renderOutcome(o))
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderSegment(seg action.Segment, r *glamour.TermRenderer) string {
	switch seg.Kind {
	case action.KindMarkdown:
		return renderMarkdown(seg.Content, r)
	case action.KindThinking:
		return thinkingStyle.Render(seg.Content)
	case action.KindShell:
		return actionStyle.Render(actionTitleStyle.Render("shell") + "\n$ " + seg.Content)
	case action.KindFile:
		return actionStyle.Render(actionTitleStyle.Render("file "+seg.Path) + "\n" + seg.Content)
	case action.KindDiff:
		return actionStyle.Render(actionTitleStyle.Render("diff "+seg.Path) + "\n" + seg.Content)
	}
	return seg.Content
}

func renderMarkdown(s string, r *glamour.TermRenderer) string {
	if r == nil {
		return s
	}
	out, err := r.Render(s)
	if err != nil {
		return s
	}
	return out
}

func renderOutcome(o sandbox.Outcome) string {
	label := string(o.Segment.Kind)
	if o.Segment.Path != "" {
		label += " " + o.Segment.Path
	}
	if o.Failed() {
		return errorStyle.Render("✗ "+label+": "+o.Error) + "\n" + o.Output
	}
	line := okStyle.Render("✓ " + label)
	if o.Output != "" {
		line += "\n" + o.Output
	}
	return line
}
