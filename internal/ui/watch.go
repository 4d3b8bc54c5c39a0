package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/Lockstep/internal/observer"
	"github.com/BioHazard786/Lockstep/internal/playback"
)

const (
	maxLogLines  = 200
	refreshEvery = 250 * time.Millisecond
)

var errWatchClosed = errors.New("watch ui closed")

// Controller is the session side the watch UI drives.
type Controller interface {
	Initiate(peerID string) error
	SendChat(text string) error
	StartVideoSync() error
}

// MediaPlayer is the local player shown and controlled by the watch UI.
type MediaPlayer interface {
	CurrentTime() (float64, bool)
	Playing() bool
	Seek(position float64) error
	Pause() error
}

type tickMsg time.Time

type eventMsg observer.Event

// resultMsg reports the outcome of a command run off the update loop.
type resultMsg struct {
	action string
	detail string
	err    error
}

// WatchModel is the terminal UI of a watch client. It is also an observer:
// session events are fed into the update loop through Notify.
type WatchModel struct {
	controller Controller
	player     MediaPlayer

	clientID   string
	status     string
	isMaster   bool
	latency    *float64
	connecting string

	lines   []string
	input   textinput.Model
	spinner spinner.Model
	width   int
	height  int

	events   chan observer.Event
	done     chan struct{}
	quitting bool
}

// NewWatchModel creates the watch UI.
func NewWatchModel(controller Controller, player MediaPlayer) *WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Globe
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "message, /connect <id>, /sync, /pause, /seek <sec>, /quit"
	in.Prompt = "> "
	in.CharLimit = 1024
	in.Focus()

	return &WatchModel{
		controller: controller,
		player:     player,
		input:      in,
		spinner:    s,
		width:      80,
		height:     24,
		events:     make(chan observer.Event, 64),
		done:       make(chan struct{}),
	}
}

// Notify implements observer.Observer.
func (m *WatchModel) Notify(e observer.Event) error {
	select {
	case m.events <- e:
		return nil
	case <-m.done:
		return errWatchClosed
	}
}

// Connect asks the UI to initiate a session as soon as it runs.
func (m *WatchModel) Connect(peerID string) {
	m.connecting = peerID
}

// Run shows the UI until the user quits or ctx is cancelled.
func (m *WatchModel) Run(ctx context.Context) error {
	defer close(m.done)

	p := tea.NewProgram(m, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("watch ui: %w", err)
	}
	return nil
}

func (m *WatchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		textinput.Blink,
		m.spinner.Tick,
		m.waitForEvents(),
		tick(),
	}
	if m.connecting != "" {
		cmds = append(cmds, m.initiate(m.connecting))
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *WatchModel) waitForEvents() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.events:
			return eventMsg(e)
		case <-m.done:
			return nil
		}
	}
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			return m, m.submit(line)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, msg.Width-4)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if !m.quitting {
			return m, tick()
		}
		return m, nil

	case eventMsg:
		m.handleEvent(observer.Event(msg))
		return m, m.waitForEvents()

	case resultMsg:
		m.handleResult(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// submit turns an input line into a command run off the update loop.
func (m *WatchModel) submit(line string) tea.Cmd {
	if !strings.HasPrefix(line, "/") {
		return func() tea.Msg {
			return resultMsg{action: "send", detail: line, err: m.controller.SendChat(line)}
		}
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		m.quitting = true
		return tea.Quit

	case "/connect":
		if len(fields) != 2 {
			return result("connect", "", errors.New("usage: /connect <peer-id>"))
		}
		return m.initiate(fields[1])

	case "/sync":
		return func() tea.Msg {
			return resultMsg{action: "sync", err: m.controller.StartVideoSync()}
		}

	case "/pause":
		return func() tea.Msg {
			return resultMsg{action: "pause", err: m.player.Pause()}
		}

	case "/seek":
		if len(fields) != 2 {
			return result("seek", "", errors.New("usage: /seek <seconds>"))
		}
		pos, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || pos < 0 {
			return result("seek", "", fmt.Errorf("invalid position %q", fields[1]))
		}
		return func() tea.Msg {
			return resultMsg{action: "seek", detail: fields[1], err: m.player.Seek(pos)}
		}

	case "/help":
		m.appendLine(MutedStyle.Render("commands: /connect <id>, /sync, /pause, /seek <sec>, /quit; anything else is chat"))
		return nil
	}

	return result("command", "", fmt.Errorf("unknown command %s", fields[0]))
}

func (m *WatchModel) initiate(peerID string) tea.Cmd {
	m.connecting = peerID
	return func() tea.Msg {
		return resultMsg{action: "connect", detail: peerID, err: m.controller.Initiate(peerID)}
	}
}

func result(action, detail string, err error) tea.Cmd {
	return func() tea.Msg { return resultMsg{action: action, detail: detail, err: err} }
}

func (m *WatchModel) handleEvent(e observer.Event) {
	switch e.Type {
	case observer.EventClientID:
		m.clientID = e.ID
		m.appendLine(fmt.Sprintf("%s Your id: %s", IconID, SelfStyle.Render(e.ID)))

	case observer.EventConnectionStatus:
		m.status = e.Status
		if e.IsMaster != nil {
			m.isMaster = *e.IsMaster
		}
		if e.Status == observer.StatusConnected {
			m.connecting = ""
			m.appendLine(SuccessStyle.Render(fmt.Sprintf("%s Connected as %s", IconConnect, m.role())))
		} else {
			m.latency = nil
			m.appendLine(WarningStyle.Render(fmt.Sprintf("%s Peer disconnected", IconWarning)))
		}

	case observer.EventMessage:
		m.appendLine(fmt.Sprintf("%s %s", PeerStyle.Render("peer:"), e.Text()))

	case observer.EventLatencyUpdate:
		m.latency = e.Latency

	case observer.EventPlayback:
		if e.Time == nil {
			return
		}
		icon := IconSeek
		if e.Action == playback.ActionPlay {
			icon = IconPlay
		}
		m.appendLine(MutedStyle.Render(fmt.Sprintf("%s %s at %.1fs", icon, e.Action, *e.Time)))
	}
}

func (m *WatchModel) handleResult(r resultMsg) {
	if r.err != nil {
		if r.action == "connect" {
			m.connecting = ""
		}
		m.appendLine(ErrorStyle.Render(fmt.Sprintf("%s %s: %v", IconError, r.action, r.err)))
		return
	}

	switch r.action {
	case "send":
		m.appendLine(fmt.Sprintf("%s %s", SelfStyle.Render("you:"), r.detail))
	case "connect":
		m.appendLine(MutedStyle.Render(fmt.Sprintf("%s Offer sent to %s", IconWaiting, r.detail)))
	case "sync":
		m.appendLine(MutedStyle.Render(fmt.Sprintf("%s Synchronized start scheduled", IconPlay)))
	case "pause":
		m.appendLine(MutedStyle.Render(fmt.Sprintf("%s Paused", IconPause)))
	case "seek":
		m.appendLine(MutedStyle.Render(fmt.Sprintf("%s Seeked to %ss", IconSeek, r.detail)))
	}
}

func (m *WatchModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m *WatchModel) role() string {
	if m.isMaster {
		return "master"
	}
	return "slave"
}

func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(HeaderStyle.Render("Lockstep"))
	b.WriteString("\n\n")
	b.WriteString(StatusBarStyle.Render(m.statusLine()))
	b.WriteString("\n\n")

	visible := max(3, m.height-10)
	lines := m.lines
	if len(lines) > visible {
		lines = lines[len(lines)-visible:]
	}
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("enter to send • /help for commands • esc to quit"))

	return b.String()
}

func (m *WatchModel) statusLine() string {
	id := m.clientID
	if id == "" {
		id = m.spinner.View() + " waiting for id"
	}

	var status string
	switch {
	case m.status == observer.StatusConnected:
		icon := IconSlave
		if m.isMaster {
			icon = IconMaster
		}
		status = fmt.Sprintf("%s %s %s", IconConnected, icon, m.role())
	case m.connecting != "":
		status = fmt.Sprintf("%s connecting to %s", m.spinner.View(), m.connecting)
	default:
		status = IconIdle + " not connected"
	}

	latency := "-"
	if m.latency != nil {
		latency = fmt.Sprintf("%.1f ms", *m.latency)
	}

	position := "no media"
	if m.player != nil {
		if pos, ok := m.player.CurrentTime(); ok {
			state := IconPause
			if m.player.Playing() {
				state = IconPlay
			}
			position = fmt.Sprintf("%s %s", state, formatPosition(pos))
		}
	}

	return fmt.Sprintf("%s %s   %s   %s %s   %s",
		IconID, BoldStyle.Render(id), status, IconLatency, latency, position)
}

func formatPosition(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	mi := int(d.Minutes()) % 60
	s := d.Seconds() - float64(int(d.Minutes())*60)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%04.1f", h, mi, s)
	}
	return fmt.Sprintf("%02d:%04.1f", mi, s)
}
