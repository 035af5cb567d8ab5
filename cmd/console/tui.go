package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/krisshattanicole/kn3aux-code/internal/confirm"
	"github.com/krisshattanicole/kn3aux-code/internal/console"
	"github.com/krisshattanicole/kn3aux-code/internal/dispatch"
	"github.com/krisshattanicole/kn3aux-code/internal/metrics"
	"github.com/krisshattanicole/kn3aux-code/internal/runner"
)

type mountedMsg struct{}

type logChangedMsg struct{}

type busyMsg struct {
	busy bool
}

type opDoneMsg struct {
	id  string
	err error
}

type metricsMsg struct {
	snap metrics.Snapshot
	err  error
}

// busMsg wraps anything that arrived on the bus so Update can re-arm the
// reader exactly once per message.
type busMsg struct {
	inner tea.Msg
}

func waitBus(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return busMsg{inner: msg}
	}
}

// post never blocks the producer; a dropped notification is recovered on the
// next one since the model always re-reads console state.
func post(bus chan<- tea.Msg, msg tea.Msg) {
	select {
	case bus <- msg:
	default:
	}
}

type model struct {
	ctx  context.Context
	con  *console.Console
	bus  chan tea.Msg
	ops  []dispatch.Operation
	tab  console.Tab
	busy bool

	cursor  int
	editing bool
	params  textinput.Model
	logs    viewport.Model
	spinner spinner.Model
	theme   uiTheme

	pending  *confirmRequest
	status   string
	mounted  bool
	snap     metrics.Snapshot
	snapErr  error
	hasSnap  bool
	width    int
	height   int
	quitting bool
}

func newModel(ctx context.Context, con *console.Console, bus chan tea.Msg) model {
	input := textinput.New()
	input.Prompt = "params ❯ "
	input.CharLimit = 1024
	input.Placeholder = `{"partition":"boot_a"}`

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	logs := viewport.New(0, 0)
	logs.MouseWheelEnabled = true

	return model{
		ctx:     ctx,
		con:     con,
		bus:     bus,
		ops:     con.Operations(),
		tab:     console.TabOverview,
		params:  input,
		logs:    logs,
		spinner: sp,
		theme:   newTheme(),
		status:  "connecting...",
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitBus(m.bus),
		m.mountCmd(),
	)
}

func (m model) mountCmd() tea.Cmd {
	return func() tea.Msg {
		m.con.Mount(m.ctx)
		return mountedMsg{}
	}
}

func (m model) triggerCmd(id string, params map[string]any) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{id: id, err: m.con.Trigger(m.ctx, id, params)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case busMsg:
		cmds = append(cmds, waitBus(m.bus))
		next, cmd := m.Update(msg.inner)
		return next, tea.Batch(append(cmds, cmd)...)
	case mountedMsg:
		m.mounted = true
		m.status = "ready"
		m.refreshLogs()
	case logChangedMsg:
		m.busy = m.con.Busy()
		m.refreshLogs()
	case busyMsg:
		m.busy = msg.busy
	case metricsMsg:
		m.snapErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.hasSnap = true
		}
	case confirmMsg:
		if m.pending != nil {
			msg.req.answer <- false
			break
		}
		m.pending = msg.req
	case opDoneMsg:
		m.busy = m.con.Busy()
		m.status = describeOutcome(msg.id, msg.err)
		m.refreshLogs()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.tab == console.TabLogs {
			var cmd tea.Cmd
			m.logs, cmd = m.logs.Update(msg)
			cmds = append(cmds, cmd)
		}
	case tea.KeyMsg:
		next, cmd := m.handleKey(msg)
		return next, tea.Batch(append(cmds, cmd)...)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.answer(false)
		m.quitting = true
		return m, tea.Quit
	}

	if m.pending != nil {
		switch key {
		case "y", "Y":
			m.answer(true)
		case "n", "N", "esc", "enter":
			m.answer(false)
		}
		return m, nil
	}

	if m.editing {
		switch key {
		case "esc":
			m.editing = false
			m.params.Blur()
			m.params.SetValue("")
			return m, nil
		case "enter":
			params, err := parseParams(strings.TrimSpace(m.params.Value()))
			if err != nil {
				m.status = err.Error()
				return m, nil
			}
			m.editing = false
			m.params.Blur()
			m.params.SetValue("")
			return m.trigger(params)
		}
		var cmd tea.Cmd
		m.params, cmd = m.params.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "tab", "right", "l":
		m.tab = m.tab.Next()
	case "shift+tab", "left", "h":
		m.tab = m.tab.Prev()
	case "c":
		m.con.ClearLog()
		m.refreshLogs()
	case "up", "k":
		if m.tab == console.TabLogs {
			m.logs.ScrollUp(1)
		} else if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.tab == console.TabLogs {
			m.logs.ScrollDown(1)
		} else if m.cursor < len(m.ops)-1 {
			m.cursor++
		}
	case "enter":
		if m.tab != console.TabOperations || len(m.ops) == 0 {
			break
		}
		if m.busy {
			m.status = "operation in progress"
			break
		}
		if m.ops[m.cursor].Schema != "" {
			m.editing = true
			m.params.Focus()
			return m, textinput.Blink
		}
		return m.trigger(nil)
	}
	return m, nil
}

func (m model) trigger(params map[string]any) (model, tea.Cmd) {
	op := m.ops[m.cursor]
	m.status = "running " + op.Label
	m.tab = console.TabLogs
	return m, m.triggerCmd(op.ID, params)
}

func (m *model) answer(ok bool) {
	if m.pending == nil {
		return
	}
	m.pending.answer <- ok
	m.pending = nil
}

func describeOutcome(id string, err error) string {
	var streamErr *runner.StreamError
	var opErr *runner.OperationError
	switch {
	case err == nil:
		return id + " finished"
	case errors.Is(err, confirm.ErrDeclined):
		return id + " cancelled"
	case errors.Is(err, runner.ErrBusy):
		return "operation in progress"
	case errors.As(err, &streamErr):
		return id + " stream ended early"
	case errors.As(err, &opErr):
		return id + " failed"
	default:
		return fmt.Sprintf("%s: %v", id, err)
	}
}

func (m *model) resize() {
	m.logs.Width = maxInt(20, m.width-6)
	m.logs.Height = maxInt(3, m.height-10)
	m.refreshLogs()
}

func (m *model) refreshLogs() {
	entries := m.con.Entries()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		style := m.theme.severity[e.Severity]
		lines = append(lines, m.theme.clock.Render("["+e.Clock()+"]")+" "+style.Render(e.Message))
	}
	atBottom := m.logs.AtBottom()
	m.logs.SetContent(strings.Join(lines, "\n"))
	if atBottom {
		m.logs.GotoBottom()
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	header := m.renderHeader()
	tabs := m.renderTabs()
	body := m.renderBody()
	if m.pending != nil {
		body = m.theme.modal.Render(
			m.theme.danger.Render(m.pending.prompt) + "\n\n" +
				m.theme.helpText.Render("y confirm · n cancel"),
		)
	}
	footer := m.renderFooter()
	return m.theme.root.Render(lipgloss.JoinVertical(lipgloss.Left, header, tabs, body, footer))
}

func (m model) renderHeader() string {
	dev := m.con.Device()
	state := "no device"
	if dev.Detected {
		state = dev.Name()
		if dev.Mode != "" {
			state += " · " + dev.Mode
		}
	}
	line := "KN3AUX MTK console · " + state
	if m.busy {
		line += " " + m.spinner.View()
	}
	return m.theme.header.Render(line)
}

func (m model) renderTabs() string {
	parts := make([]string, 0, len(console.Tabs()))
	for _, t := range console.Tabs() {
		if t.Tab == m.tab {
			parts = append(parts, m.theme.tabActive.Render(t.Label))
		} else {
			parts = append(parts, m.theme.tabInactive.Render(t.Label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m model) renderBody() string {
	var title, content string
	switch m.tab {
	case console.TabOperations:
		title, content = "Operations", m.renderOperations()
	case console.TabPartitions:
		title, content = "Partition table", m.renderPartitions()
	case console.TabLogs:
		title, content = "Operation log", m.logs.View()
	case console.TabMetrics:
		title, content = "Device metrics", m.renderMetrics()
	default:
		title, content = "Overview", m.renderOverview()
	}
	return m.theme.panel.Width(maxInt(20, m.width-4)).Render(m.theme.panelTitle.Render(title) + "\n" + content)
}

func (m model) renderOverview() string {
	dev := m.con.Device()
	st := m.con.BackendStatus()
	var b strings.Builder
	if !m.mounted {
		return "detecting device..."
	}
	if dev.Detected {
		fmt.Fprintf(&b, "Device:  %s\n", dev.Name())
		fmt.Fprintf(&b, "Mode:    %s\n", dev.Mode)
		fmt.Fprintf(&b, "Count:   %d\n", dev.Count)
	} else {
		b.WriteString("Device:  not detected\n")
	}
	switch {
	case st.Version != "":
		fmt.Fprintf(&b, "Tool:    %s", st.Version)
	case st.Message != "":
		fmt.Fprintf(&b, "Tool:    %s", st.Message)
	default:
		b.WriteString("Tool:    unknown")
	}
	return b.String()
}

func (m model) renderOperations() string {
	var b strings.Builder
	var group dispatch.Group = -1
	for i, op := range m.ops {
		if op.Group != group {
			group = op.Group
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.theme.helpText.Render(group.String()) + "\n")
		}
		label := op.Label
		if op.Destructive {
			label += m.theme.danger.Render(" !")
		}
		switch {
		case i == m.cursor && !m.busy:
			b.WriteString(m.theme.cursor.Render("❯ ") + label + "\n")
		case m.busy:
			b.WriteString("  " + m.theme.disabled.Render(op.Label) + "\n")
		default:
			b.WriteString("  " + label + "\n")
		}
	}
	if m.editing {
		b.WriteString("\n" + m.params.View())
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m model) renderPartitions() string {
	if gpt := m.con.GPT(); gpt != "" {
		return gpt
	}
	return m.theme.helpText.Render("run Print GPT to load the partition table")
}

func (m model) renderMetrics() string {
	if !m.hasSnap {
		if m.snapErr != nil {
			return m.theme.danger.Render(m.snapErr.Error())
		}
		return "waiting for metrics..."
	}
	s := m.snap
	source := "simulated"
	if s.Live {
		source = "live"
	}
	rows := []string{
		fmt.Sprintf("Battery  %s %5.1f%%", bar(s.Battery, 20), s.Battery),
		fmt.Sprintf("CPU      %s %5.1f%%", bar(s.CPU, 20), s.CPU),
		fmt.Sprintf("Memory   %s %5.1f%%", bar(s.Memory, 20), s.Memory),
		fmt.Sprintf("Storage  %s %5.1f%%", bar(s.Storage, 20), s.Storage),
		fmt.Sprintf("Signal   %d/4 %s", s.Signal, s.Network),
		fmt.Sprintf("IP       %s", s.IP),
		fmt.Sprintf("Uptime   %s", s.Uptime),
		m.theme.helpText.Render(source),
	}
	return strings.Join(rows, "\n")
}

func (m model) renderFooter() string {
	help := "tab switch · ↑/↓ select · enter run · c clear log · q quit"
	if m.editing {
		help = "enter run · esc cancel"
	}
	return m.theme.footer.Render(m.status + " · " + help)
}

func bar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = maxInt(0, minInt(width, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// runTUI owns the terminal until the user quits. Background producers only
// post to bus; all state changes happen in Update.
func runTUI(ctx context.Context, con *console.Console, src metrics.Source, every time.Duration, bus chan tea.Msg) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changed, stopWatch := con.Watch()
	defer stopWatch()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				post(bus, logChangedMsg{})
			}
		}
	}()
	con.ObserveBusy(func(b bool) { post(bus, busyMsg{busy: b}) })
	go metrics.Poll(ctx, src, every, func(s metrics.Snapshot, err error) {
		post(bus, metricsMsg{snap: s, err: err})
	})

	p := tea.NewProgram(newModel(ctx, con, bus), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
