package stream

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"fractalstream/internal/telemetry"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// resultMsg carries one dispatch result.
type resultMsg struct{ telemetry.DispatchResult }

// stateMsg reports the scheduler state.
type stateMsg struct{ state string }

const maxLogLines = 1000

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// TUIWriter renders dispatch results using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Quitting the UI
// interrupts the process so the scheduler drains like on Ctrl-C.
func NewTUIWriter(runID string, replicas []string, total int) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(runID, replicas, total), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(row telemetry.DispatchResult) error {
	w.program.Send(resultMsg{row})
	return nil
}

// SetState shows the scheduler state in the status bar.
func (w *TUIWriter) SetState(state string) {
	w.program.Send(stateMsg{state: state})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type workerStats struct {
	requests  int
	succeeded int
	latencyMs float64
}

type tuiModel struct {
	runID      string
	total      int
	table      table.Model
	vp         viewport.Model
	logs       []string
	workers    map[string]*workerStats
	state      string
	received   int
	failed     int
	wrap       bool
	autoscroll bool
	width      int
	height     int
}

func newTUIModel(runID string, replicas []string, total int) tuiModel {
	cols := []table.Column{
		{Title: "Worker", Width: 24},
		{Title: "Requests", Width: 9},
		{Title: "OK", Width: 6},
		{Title: "Mean ms", Width: 9},
	}
	m := tuiModel{
		runID:      runID,
		total:      total,
		table:      table.New(table.WithColumns(cols), table.WithHeight(len(replicas)+2)),
		vp:         viewport.New(0, 0),
		workers:    make(map[string]*workerStats),
		autoscroll: true,
		state:      "idle",
	}
	for _, r := range replicas {
		m.workers[r] = &workerStats{}
	}
	m.table.SetRows(m.workerRows())
	return m
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.updateViewportHeight()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case resultMsg:
		m.record(msg.DispatchResult)
		m.refreshViewport()
	case stateMsg:
		m.state = msg.state
	}
	return m, nil
}

func (m *tuiModel) record(r telemetry.DispatchResult) {
	m.received++
	ws, ok := m.workers[r.ServedBy]
	if !ok {
		ws = &workerStats{}
		m.workers[r.ServedBy] = ws
	}
	ws.requests++
	ws.latencyMs += r.LatencyMs
	status := okStyle.Render("OK")
	if r.Success {
		ws.succeeded++
	} else {
		m.failed++
		status = failStyle.Render("FAIL")
	}
	line := fmt.Sprintf("%s frame %d -> %s: %.1fms (calc %.1fms) %s",
		dimStyle.Render(r.SentTime.Format(time.TimeOnly)), r.FrameID, r.ServedBy, r.LatencyMs, r.CalcTimeMs, status)
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.table.SetRows(m.workerRows())
}

func (m tuiModel) workerRows() []table.Row {
	names := make([]string, 0, len(m.workers))
	for n := range m.workers {
		names = append(names, n)
	}
	sort.Strings(names)
	rows := make([]table.Row, 0, len(names))
	for _, n := range names {
		ws := m.workers[n]
		mean := 0.0
		if ws.requests > 0 {
			mean = ws.latencyMs / float64(ws.requests)
		}
		rows = append(rows, table.Row{n, fmt.Sprint(ws.requests), fmt.Sprint(ws.succeeded), fmt.Sprintf("%.1f", mean)})
	}
	return rows
}

func (m *tuiModel) updateViewportHeight() {
	h := m.height - lipgloss.Height(m.renderHeader()) - lipgloss.Height(m.renderBottom()) - 2
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		switch {
		case m.wrap && m.vp.Width > 0:
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		case m.vp.Width > 0:
			lines = append(lines, truncate.StringWithTail(l, uint(m.vp.Width), "…"))
		default:
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{m.renderHeader(), divider, m.vp.View(), divider, m.renderBottom()}, "\n")
}

func (m tuiModel) renderHeader() string {
	title := titleStyle.Render("fractalstream run " + m.runID)
	return lipgloss.JoinVertical(lipgloss.Left, title, m.table.View())
}

func (m tuiModel) renderBottom() string {
	progress := fmt.Sprintf("%d/%d results", m.received, m.total)
	failed := okStyle.Render("0 failed")
	if m.failed > 0 {
		failed = failStyle.Render(fmt.Sprintf("%d failed", m.failed))
	}
	keys := dimStyle.Render("q quit · s autoscroll · w wrap")
	return fmt.Sprintf("[%s] %s · %s   %s", m.state, progress, failed, keys)
}
