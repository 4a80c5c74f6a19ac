package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ductile-ci/internal/events"
)

const (
	maxEventLog  = 50
	pollInterval = 2 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	health   HealthState
	runners  table.Model
	commits  table.Model
	eventLog []events.Event

	ticker Ticker
	pulse  Pulse
	theme  Theme
	now    func() time.Time

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model reading from the status API at apiURL. token may
// be empty when the API runs without one.
func New(apiURL, token string) *Model {
	return &Model{
		apiURL:    apiURL,
		token:     token,
		runners:   newRunnerTable(),
		commits:   newCommitTable(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.token) },
		func() tea.Msg { return fetchQueue(m.apiURL, m.token) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, func() tea.Msg { return fetchQueue(m.apiURL, m.token) }
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		m.pulse.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.pulse.OnEvent(m.now())
		m.health.Connected = true
		m.lastError = ""

		// Queue-changing events trigger an immediate refresh.
		return m, tea.Batch(
			receiveNextEvent(m.hubEvents),
			func() tea.Msg { return fetchQueue(m.apiURL, m.token) },
		)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Runners = msg.Runners
		m.health.Pending = msg.Pending
		m.health.Dispatched = msg.Dispatched
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL, m.token) })

	case queueMsg:
		m.setQueueRows(msg)
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return fetchQueue(m.apiURL, m.token) })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return msg.retry() })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to dispatcher..."
	}

	parts := []string{
		renderHeader(m.health, m.ticker, m.pulse, m.theme, m.width, m.now()),
		renderTable("RUNNERS", m.runners, "No runners registered", m.theme, m.width),
		renderTable("COMMITS", m.commits, "Queue is empty", m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Bad.Render(" ! "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
