package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/ringchan"
)

// TickInterval is how often the model picks up queued updates and log lines.
const TickInterval = 100 * time.Millisecond

const (
	DefaultFormat        = "Heart rate: {bpm}"
	DefaultLockedColor   = "#FF6600"
	DefaultUnlockedColor = "#00FF00"
	DefaultLogLines      = 8
)

// Overlay is the floating panel's persisted state.
type Overlay struct {
	X             int
	Y             int
	Show          bool
	Locked        bool
	Format        string
	LockedColor   string
	UnlockedColor string
}

// Color is the panel color for the current lock state.
func (o Overlay) Color() string {
	if o.Locked {
		return o.LockedColor
	}
	return o.UnlockedColor
}

// Text renders the panel text; "--" stands in while there is no reading.
func (o Overlay) Text(bpm int) string {
	value := "--"
	if bpm > 0 {
		value = strconv.Itoa(bpm)
	}
	return strings.ReplaceAll(o.Format, "{bpm}", value)
}

func (o Overlay) withDefaults() Overlay {
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	if o.LockedColor == "" {
		o.LockedColor = DefaultLockedColor
	}
	if o.UnlockedColor == "" {
		o.UnlockedColor = DefaultUnlockedColor
	}
	return o
}

type tickMsg time.Time

// actionMsg carries the outcome of a session or feature action for the log pane.
type actionMsg string

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the bubbletea model. Other goroutines talk to it only through the ring channels.
type Model struct {
	snap    hr.Snapshot
	overlay Overlay
	lines   []string
	maxLogs int
	width   int

	updates *ringchan.RingChannel[hr.Update]
	logs    *ringchan.RingChannel[string]
	notices func() []string
	changed func(Overlay)

	disconnect func() error
	reconnect  func() error
	toggle     func(string) (bool, error)
	features   []string

	keys   KeyMap
	help   help.Model
	styles Styles
}

// NewModel creates a model fed by the given channels.
func NewModel(opts Options, updates *ringchan.RingChannel[hr.Update], logs *ringchan.RingChannel[string]) Model {
	maxLogs := opts.LogLines
	if maxLogs <= 0 {
		maxLogs = DefaultLogLines
	}
	keys := DefaultKeyMap()
	keys.Toggles = ToggleBindings(opts.Features)
	return Model{
		overlay:    opts.Overlay.withDefaults(),
		maxLogs:    maxLogs,
		updates:    updates,
		logs:       logs,
		notices:    opts.Notices,
		changed:    opts.OnOverlayChange,
		disconnect: opts.OnDisconnect,
		reconnect:  opts.OnReconnect,
		toggle:     opts.OnToggle,
		features:   opts.Features[:len(keys.Toggles)],
		keys:       keys,
		help:       help.New(),
		styles:     DefaultStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.drain()
		return m, tick()

	case actionMsg:
		m.appendLog(string(msg))
		return m, nil
	}
	return m, nil
}

func (m *Model) drain() {
	for _, u := range m.updates.Drain() {
		m.snap = u.Snapshot
		switch u.Event {
		case hr.EventConnected:
			m.appendLog(fmt.Sprintf("Connected to %s", u.Snapshot.Address))
		case hr.EventDisconnected:
			m.appendLog("Disconnected")
		}
	}
	for _, line := range m.logs.Drain() {
		m.appendLog(line)
	}
	if m.notices != nil {
		for _, line := range m.notices() {
			m.appendLog(line)
		}
	}
}

func (m *Model) appendLog(line string) {
	m.lines = append(m.lines, line)
	if extra := len(m.lines) - m.maxLogs; extra > 0 {
		m.lines = append(m.lines[:0:0], m.lines[extra:]...)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Lock):
		m.overlay.Locked = !m.overlay.Locked
		m.notifyOverlay()

	case key.Matches(msg, m.keys.Overlay):
		m.overlay.Show = !m.overlay.Show
		m.notifyOverlay()

	case key.Matches(msg, m.keys.Clear):
		m.lines = nil

	case key.Matches(msg, m.keys.Disconnect):
		return m, sessionAction(m.disconnect, "Disconnect")

	case key.Matches(msg, m.keys.Reconnect):
		return m, sessionAction(m.reconnect, "Reconnect")

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Up):
		m.move(0, -1)
	case key.Matches(msg, m.keys.Down):
		m.move(0, 1)
	case key.Matches(msg, m.keys.Left):
		m.move(-1, 0)
	case key.Matches(msg, m.keys.Right):
		m.move(1, 0)

	default:
		for i, b := range m.keys.Toggles {
			if key.Matches(msg, b) {
				return m, m.toggleAction(m.features[i])
			}
		}
	}
	return m, nil
}

// sessionAction runs fn as a command so a slow connect never stalls the UI.
func sessionAction(fn func() error, what string) tea.Cmd {
	if fn == nil {
		return nil
	}
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionMsg(fmt.Sprintf("%s failed: %v", what, err))
		}
		return actionMsg(what + " requested")
	}
}

func (m Model) toggleAction(feature string) tea.Cmd {
	if m.toggle == nil {
		return nil
	}
	toggle := m.toggle
	return func() tea.Msg {
		enabled, err := toggle(feature)
		if err != nil {
			return actionMsg(fmt.Sprintf("Toggle %s failed: %v", feature, err))
		}
		if enabled {
			return actionMsg(feature + " enabled")
		}
		return actionMsg(feature + " disabled")
	}
}

// move repositions the overlay; a locked or hidden overlay stays put.
func (m *Model) move(dx, dy int) {
	if m.overlay.Locked || !m.overlay.Show {
		return
	}
	m.overlay.X = max(0, m.overlay.X+dx)
	m.overlay.Y = max(0, m.overlay.Y+dy)
	m.notifyOverlay()
}

func (m Model) notifyOverlay() {
	if m.changed != nil {
		m.changed(m.overlay)
	}
}

// Snapshot returns the value currently shown.
func (m Model) Snapshot() hr.Snapshot { return m.snap }

// Overlay returns the overlay state.
func (m Model) Overlay() Overlay { return m.overlay }

// Lines returns the log pane contents.
func (m Model) Lines() []string { return m.lines }

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.TitleBar.Render(m.styles.Title.Render("hrmon") + "  Heart rate monitor"))
	b.WriteString("\n")

	bpm := m.styles.BPMIdle.Render(strconv.Itoa(m.snap.BPM))
	if m.snap.BPM > 0 {
		bpm = m.styles.BPMLive.Render(strconv.Itoa(m.snap.BPM))
	}
	b.WriteString(m.styles.Label.Render("Heart rate:") + bpm + "\n")

	status := m.styles.StatusOffline.Render(m.snap.Status())
	if m.snap.Connected {
		status = m.styles.StatusOnline.Render(m.snap.Status())
	}
	b.WriteString(m.styles.Label.Render("Status:") + status + "\n")

	if m.snap.Address != "" {
		b.WriteString(m.styles.Label.Render("Device:") + m.styles.Value.Render(m.snap.Address) + "\n")
	}

	if m.overlay.Show {
		panel := m.styles.OverlayStyle(m.overlay.Color()).Render(m.overlay.Text(m.snap.BPM))
		lock := "unlocked"
		if m.overlay.Locked {
			lock = "locked"
		}
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().MarginLeft(m.overlay.X).MarginTop(m.overlay.Y).Render(panel))
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("overlay %s at %d,%d", lock, m.overlay.X, m.overlay.Y)))
		b.WriteString("\n")
	}

	if len(m.lines) > 0 {
		b.WriteString(m.styles.Log.Render(strings.Join(m.lines, "\n")))
		b.WriteString("\n")
	}

	b.WriteString(m.styles.Help.Render(m.help.View(m.keys)))
	return m.styles.App.Render(b.String())
}
