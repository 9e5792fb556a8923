package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tekert/psfmonitor/monitor"
)

const statusRefresh = time.Second

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	onStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cursorStyle   = lipgloss.NewStyle().Reverse(true)
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failureStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("237"))
	matchStyle    = lipgloss.NewStyle().Underline(true)
	currentStyle  = lipgloss.NewStyle().Reverse(true)
	detailStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderTop(true)
)

// resultKeys toggles result classes by number.
var resultKeys = map[string]monitor.ResultClass{
	"1": monitor.ResultSuccess,
	"2": monitor.ResultIndeterminate,
	"3": monitor.ResultExpectedFailure,
	"4": monitor.ResultFailure,
}

type (
	snapshotMsg   struct{ s *monitor.Snapshot }
	statusTickMsg time.Time
	engineDoneMsg struct{}
	// opDoneMsg reports an engine call made off the event loop.
	opDoneMsg     struct{ err error }
	searchDoneMsg struct {
		res monitor.SearchResult
		err error
	}
)

// faultMsg asks the user whether capturing continues after a fault. The
// answer goes to answer, which must be buffered.
type faultMsg struct {
	err    error
	answer chan<- bool
}

// faultPrompt returns a fault handler that shows a modal through send and
// blocks until the user answers or ctx is done.
func faultPrompt(ctx context.Context, send func(tea.Msg)) monitor.FaultHandler {
	return func(err error) bool {
		answer := make(chan bool, 1)
		send(faultMsg{err: err, answer: answer})
		select {
		case ok := <-answer:
			return ok
		case <-ctx.Done():
			return false
		}
	}
}

type tuiModel struct {
	eng      *monitor.Engine
	snap     *monitor.Snapshot
	statuses []monitor.CollectorStatus

	search    textinput.Model
	searching bool
	fault     *faultMsg

	selected  int // position in the filtered view
	follow    bool
	offset    int
	catCursor int
	cats      []monitor.Category

	width, height int
}

func newTUIModel(eng *monitor.Engine) tuiModel {
	ti := textinput.New()
	ti.Prompt = "Search: "
	ti.Placeholder = "pid, process, event, inputs, result, outputs, caller"
	ti.CharLimit = 256
	m := tuiModel{
		eng:    eng,
		search: ti,
		follow: true,
		cats:   monitor.Categories(),
	}
	m.setSnapshot(eng.Model().Snapshot())
	return m
}

func statusTick() tea.Cmd {
	return tea.Tick(statusRefresh, func(t time.Time) tea.Msg { return statusTickMsg(t) })
}

func (m tuiModel) Init() tea.Cmd {
	return statusTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.clamp()
		return m, nil

	case snapshotMsg:
		m.setSnapshot(msg.s)
		return m, nil

	case statusTickMsg:
		m.statuses = m.eng.Statuses()
		return m, statusTick()

	case engineDoneMsg:
		return m, tea.Quit

	case opDoneMsg:
		if msg.err != nil {
			return m, tea.Quit
		}
		m.refresh()
		return m, nil

	case searchDoneMsg:
		if msg.err != nil {
			return m, tea.Quit
		}
		m.refresh()
		if msg.res.Position >= 0 {
			m.selected = msg.res.Position
			m.follow = false
			m.clamp()
		}
		return m, nil

	case faultMsg:
		m.fault = &msg
		return m, nil

	case tea.KeyMsg:
		if m.fault != nil {
			return m.updateFault(msg)
		}
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

// updateFault answers the fault modal. Aborting stops the engine, which
// then ends the program.
func (m tuiModel) updateFault(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "c", "enter":
		m.fault.answer <- true
	case "a", "q", "ctrl+c":
		m.fault.answer <- false
	default:
		return m, nil
	}
	m.fault = nil
	return m, nil
}

func (m tuiModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searching = false
		m.search.Blur()
		return m, m.runSearch(true)
	case "esc":
		m.searching = false
		m.search.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m tuiModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if rc, ok := resultKeys[key]; ok {
		cfg := m.snap.Filter
		if cfg.ShowResults.Has(rc) {
			cfg.ShowResults = cfg.ShowResults.Without(rc)
		} else {
			cfg.ShowResults = cfg.ShowResults.With(rc)
		}
		return m, m.engineOp(func(e *monitor.Engine) error { return e.SetFilter(cfg) })
	}

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "/":
		m.searching = true
		return m, tea.Batch(m.search.Focus(), textinput.Blink)
	case "n":
		return m, m.runSearch(false)
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "pgup":
		m.move(-m.rows())
	case "pgdown":
		m.move(m.rows())
	case "home", "g":
		m.move(-len(m.snap.View))
	case "end", "G":
		m.move(len(m.snap.View))
	case "left":
		m.catCursor = (m.catCursor + len(m.cats) - 1) % len(m.cats)
	case "right":
		m.catCursor = (m.catCursor + 1) % len(m.cats)
	case "x", " ":
		cat := m.cats[m.catCursor]
		cfg := m.snap.Filter
		if cfg.ShowCategories.Has(cat) {
			cfg.ShowCategories = cfg.ShowCategories.Without(cat)
		} else {
			cfg.ShowCategories = cfg.ShowCategories.With(cat)
		}
		return m, m.engineOp(func(e *monitor.Engine) error { return e.SetFilter(cfg) })
	case "p":
		paused := !m.snap.Filter.Paused
		return m, m.engineOp(func(e *monitor.Engine) error { return e.SetPaused(paused) })
	case "t":
		if r := m.current(); r != nil {
			pid := int(r.PID)
			return m, m.engineOp(func(e *monitor.Engine) error { return e.SetProcessFilter(pid) })
		}
	case "T":
		return m, m.engineOp(func(e *monitor.Engine) error { return e.SetProcessFilter(monitor.NoPID) })
	case "c":
		return m, m.engineOp((*monitor.Engine).Clear)
	}
	return m, nil
}

// engineOp runs op as a command. Model updates can fault, and the fault
// prompt needs the event loop free to show its modal.
func (m tuiModel) engineOp(op func(*monitor.Engine) error) tea.Cmd {
	eng := m.eng
	return func() tea.Msg { return opDoneMsg{err: op(eng)} }
}

func (m tuiModel) runSearch(restart bool) tea.Cmd {
	eng, query := m.eng, m.search.Value()
	return func() tea.Msg {
		res, err := eng.Search(query, restart)
		return searchDoneMsg{res: res, err: err}
	}
}

// refresh picks up the state an engine call left without waiting for the
// subscription.
func (m *tuiModel) refresh() { m.setSnapshot(m.eng.Model().Snapshot()) }

func (m *tuiModel) setSnapshot(s *monitor.Snapshot) {
	if s == nil || (m.snap != nil && s.Seq < m.snap.Seq) {
		return
	}
	m.snap = s
	if m.follow {
		m.selected = len(s.View) - 1
	}
	m.clamp()
}

func (m *tuiModel) move(delta int) {
	m.selected += delta
	m.clamp()
	m.follow = m.selected >= len(m.snap.View)-1
}

func (m *tuiModel) clamp() {
	n := len(m.snap.View)
	m.selected = max(0, min(m.selected, n-1))
	rows := m.rows()
	if m.selected < m.offset {
		m.offset = m.selected
	}
	if m.selected >= m.offset+rows {
		m.offset = m.selected - rows + 1
	}
	m.offset = max(0, min(m.offset, n-rows))
}

func (m *tuiModel) current() *monitor.Record {
	if m.selected < 0 || m.selected >= len(m.snap.View) {
		return nil
	}
	return m.snap.View[m.selected]
}

const (
	chromeLines = 6 // title, statuses, two filter lines, table header, help
	detailLines = 8
)

func (m *tuiModel) rows() int {
	return max(1, m.height-chromeLines-detailLines-1)
}

func (m tuiModel) View() string {
	if m.width == 0 {
		return "starting..."
	}
	var b strings.Builder
	s := m.snap

	title := titleStyle.Render("PSF Monitor") + "  " + s.Counters.String() + "  " + s.Search.String()
	if s.Filter.Paused {
		title += "  " + warningStyle.Render("PAUSED")
	}
	if s.Filter.PID != monitor.NoPID {
		title += "  pid=" + strconv.Itoa(s.Filter.PID)
	}
	b.WriteString(fit(title, m.width) + "\n")
	b.WriteString(fit(m.statusLine(), m.width) + "\n")
	b.WriteString(fit(m.resultLine(), m.width) + "\n")
	b.WriteString(fit(m.categoryLine(), m.width) + "\n")

	b.WriteString(headerStyle.Render(fit(rowText(nil), m.width)) + "\n")
	rows := m.rows()
	for i := m.offset; i < m.offset+rows; i++ {
		if i >= len(s.View) {
			b.WriteString("\n")
			continue
		}
		b.WriteString(m.renderRow(i, s.View[i]) + "\n")
	}

	b.WriteString(detailStyle.Width(m.width).Render(m.detail()) + "\n")
	if m.fault != nil {
		b.WriteString(failureStyle.Render(fit("Capture failed: "+firstLine(m.fault.err.Error())+"  (c continue, a abort)", m.width)))
	} else if m.searching {
		b.WriteString(m.search.View())
	} else {
		b.WriteString(dimStyle.Render(fit("q quit  / search  n next  1-4 results  ←→ x categories  p pause  t/T pid  c clear", m.width)))
	}
	return b.String()
}

func (m tuiModel) statusLine() string {
	parts := make([]string, 0, len(m.statuses))
	for _, st := range m.statuses {
		parts = append(parts, st.Name+": "+st.Status)
	}
	if len(parts) == 0 {
		return dimStyle.Render("collectors starting")
	}
	return strings.Join(parts, "  |  ")
}

func (m tuiModel) resultLine() string {
	var b strings.Builder
	for _, key := range []string{"1", "2", "3", "4"} {
		rc := resultKeys[key]
		b.WriteString(toggle(key+" "+rc.String(), m.snap.Filter.ShowResults.Has(rc), false))
		b.WriteString(" ")
	}
	return b.String()
}

func (m tuiModel) categoryLine() string {
	var b strings.Builder
	for i, cat := range m.cats {
		b.WriteString(toggle(cat.String(), m.snap.Filter.ShowCategories.Has(cat), i == m.catCursor))
		b.WriteString(" ")
	}
	return b.String()
}

func toggle(label string, on, cursor bool) string {
	style := dimStyle
	if on {
		style = onStyle
	}
	if cursor {
		style = style.Inherit(cursorStyle)
	}
	return style.Render(label)
}

func (m tuiModel) renderRow(i int, r *monitor.Record) string {
	style := lipgloss.NewStyle()
	switch r.Class.Severity() {
	case monitor.SeverityWarning:
		style = warningStyle
	case monitor.SeverityFailure:
		style = failureStyle
	}
	switch {
	case r.CurrentMatch:
		style = style.Inherit(currentStyle)
	case r.Highlighted:
		style = style.Inherit(matchStyle)
	}
	if i == m.selected {
		style = style.Inherit(selectedStyle)
	}
	return style.Render(fit(rowText(r), m.width))
}

// rowText renders the table columns of r, or the header for nil.
func rowText(r *monitor.Record) string {
	const format = "%-12s %7s %-20s %-14s %-28s %-26s %10s"
	if r == nil {
		return fmt.Sprintf(format, "Time", "PID", "Process", "Source", "Event", "Result", "Duration")
	}
	dur := ""
	if d := r.Duration(); d > 0 {
		dur = d.String()
	}
	return fmt.Sprintf(format,
		r.Timestamp.Format("15:04:05.000"),
		strconv.FormatUint(uint64(r.PID), 10),
		trunc(r.DisplayProcessName(), 20),
		trunc(r.Source, 14),
		trunc(r.Name, 28),
		trunc(firstLine(r.Result), 26),
		dur)
}

func (m tuiModel) detail() string {
	r := m.current()
	if r == nil {
		return dimStyle.Render("no record selected")
	}
	lines := []string{
		fmt.Sprintf("#%d %s  %s  tid=%d", r.Index, r.Name, r.Category, r.TID),
	}
	if in := r.InputsText(); in != "" {
		lines = append(lines, "Inputs:  "+strings.ReplaceAll(in, "\n", "; "))
	}
	if r.Result != "" {
		lines = append(lines, "Result:  "+strings.ReplaceAll(r.Result, "\n", " "))
	}
	if out := r.OutputsText(); out != "" {
		lines = append(lines, "Outputs: "+strings.ReplaceAll(out, "\n", "; "))
	}
	if r.Caller != "" {
		lines = append(lines, "Caller:  "+r.Caller)
	}
	for i := range lines {
		lines[i] = fit(lines[i], m.width)
	}
	if len(lines) > detailLines-1 {
		lines = lines[:detailLines-1]
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// trunc shortens s to n runes, marking the cut.
func trunc(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// fit cuts s to the terminal width.
func fit(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}

// runTUI runs the engine under the terminal UI until the user quits or ctx
// is done.
func runTUI(ctx context.Context, eng *monitor.Engine) error {
	feed := newSnapshotFeed(eng.Model())
	defer feed.Close()

	p := tea.NewProgram(newTUIModel(eng), tea.WithAltScreen(), tea.WithContext(ctx))

	fwdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eng.SetFaultHandler(faultPrompt(fwdCtx, p.Send))

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()
	go func() {
		for {
			select {
			case s := <-feed.C():
				p.Send(snapshotMsg{s})
			case err := <-runErr:
				p.Send(engineDoneMsg{})
				runErr <- err
				return
			case <-fwdCtx.Done():
				return
			}
		}
	}()

	_, err := p.Run()
	cancel()
	if errors.Is(err, tea.ErrProgramKilled) {
		err = nil
	}
	eng.Stop()
	return errors.Join(err, <-runErr)
}
