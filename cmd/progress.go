package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/airframesio/redshift-loader/cmd/pipeline"
	"github.com/airframesio/redshift-loader/cmd/planner"
	"github.com/airframesio/redshift-loader/cmd/staging"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxMessages is how many log lines the TUI keeps on screen
const maxMessages = 10

type progressModel struct {
	target      string
	state       pipeline.State
	partitions  int
	totalRows   int
	staged      int
	uploaded    int
	bytesStaged int64
	stageBar    progress.Model
	uploadBar   progress.Model
	spinner     spinner.Model
	messages    []string
	startTime   time.Time
	width       int
	cancelling  bool
	done        bool
	cancel      context.CancelFunc
}

type stateMsg struct {
	state pipeline.State
}

type planMsg struct {
	plan planner.Plan
}

type stagedMsg struct {
	file staging.File
}

type uploadedMsg struct {
	upload pipeline.Upload
}

type messageMsg string

type runDoneMsg struct{}

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFAA00")).
				Bold(true).
				Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)
)

func newProgressModel(target string, cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{
		target: target,
		state:  pipeline.StatePending,
		stageBar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(60),
		),
		uploadBar: progress.New(
			progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
			progress.WithWidth(60),
		),
		spinner:   s,
		messages:  make([]string, 0, maxMessages),
		startTime: time.Now(),
		cancel:    cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.stageBar.Width = msg.Width - 10
		m.uploadBar.Width = msg.Width - 10
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case stateMsg:
		m.state = msg.state
		return m, nil
	case planMsg:
		m.partitions = len(msg.plan.Partitions)
		m.totalRows = msg.plan.TotalRows
		return m, nil
	case stagedMsg:
		m.staged++
		m.bytesStaged += msg.file.Bytes
		return m, nil
	case uploadedMsg:
		m.uploaded++
		return m, nil
	case messageMsg:
		m.appendMessage(string(msg))
		return m, nil
	case runDoneMsg:
		m.done = true
		return m, tea.Sequence(tea.ExitAltScreen, tea.Quit)
	}
	return m, nil
}

func (m progressModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() != "ctrl+c" && msg.String() != "q" {
		return m, nil
	}
	// Started work always finishes; the run stops at the next wave boundary and
	// runDoneMsg closes the program.
	if !m.cancelling {
		m.cancelling = true
		m.appendMessage("⚠️  Cancelling: waiting for running tasks to finish...")
		if m.cancel != nil {
			m.cancel()
		}
	}
	return m, nil
}

func (m *progressModel) appendMessage(message string) {
	m.messages = append(m.messages, message)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

// phaseDescription names what the pipeline is doing after reaching state
func phaseDescription(state pipeline.State) string {
	switch state {
	case pipeline.StatePending:
		return "Bootstrapping target table..."
	case pipeline.StateBootstrapped:
		return "Planning partitions..."
	case pipeline.StatePlanned:
		return "Staging partitions..."
	case pipeline.StateStaged:
		return "Uploading staged files..."
	case pipeline.StateUploaded:
		return "Running COPY..."
	case pipeline.StateLoaded:
		return "Loaded"
	case pipeline.StateFailed:
		return "Failed"
	default:
		return string(state)
	}
}

func (m progressModel) renderBanner() []string {
	titleStyle1 := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF7CCB")).Bold(true)
	authorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))

	const boxWidth = 66
	const indent = "   "

	makeLine := func(content string) string {
		padding := boxWidth - 4 - lipgloss.Width(content)
		if padding < 0 {
			padding = 0
		}
		return fmt.Sprintf("%s║  %s%s║", indent, content, strings.Repeat(" ", padding))
	}

	return []string{
		"",
		indent + "╔" + strings.Repeat("═", boxWidth-2) + "╗",
		makeLine(titleStyle1.Render(fmt.Sprintf("Redshift Loader v%s", Version))),
		makeLine(authorStyle.Render("→ " + m.target)),
		indent + "╚" + strings.Repeat("═", boxWidth-2) + "╝",
		"",
	}
}

func (m progressModel) renderMessages() []string {
	sections := []string{helpStyle.Render("   Log:")}
	if len(m.messages) == 0 {
		return append(sections, "     (waiting for operations...)")
	}
	for _, msg := range m.messages {
		sections = append(sections, "     "+msg)
	}
	return sections
}

func (m progressModel) renderSeparator() []string {
	separatorWidth := 80
	if m.width > 0 && m.width < 200 {
		separatorWidth = m.width - 6
	}
	separator := "   " + strings.Repeat("─", separatorWidth)
	return []string{"", lipgloss.NewStyle().Foreground(lipgloss.Color("#444")).Render(separator), ""}
}

func (m progressModel) renderWaves() []string {
	if m.partitions == 0 {
		return nil
	}
	sections := []string{
		tableHeaderStyle.Render(fmt.Sprintf("   %d partitions, %d rows", m.partitions, m.totalRows)),
		"",
		progressInfoStyle.Render(fmt.Sprintf("   Staged: %d/%d (%.2f MB)", m.staged, m.partitions, float64(m.bytesStaged)/(1024*1024))),
		"   " + m.stageBar.ViewAs(float64(m.staged)/float64(m.partitions)),
		progressInfoStyle.Render(fmt.Sprintf("   Uploaded: %d/%d", m.uploaded, m.partitions)),
		"   " + m.uploadBar.ViewAs(float64(m.uploaded)/float64(m.partitions)),
	}
	return sections
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, m.renderBanner()...)
	sections = append(sections, m.renderMessages()...)
	sections = append(sections, m.renderSeparator()...)

	elapsed := time.Since(m.startTime).Round(time.Second)
	sections = append(sections, stageStyle.Render(fmt.Sprintf("   %s %s (%s)", m.spinner.View(), phaseDescription(m.state), elapsed)))
	sections = append(sections, "")
	sections = append(sections, m.renderWaves()...)

	sections = append(sections, "")
	if m.cancelling {
		sections = append(sections, helpStyle.Render("   Cancelling..."))
	} else {
		sections = append(sections, helpStyle.Render("   Press Ctrl+C or 'q' to cancel"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// runObserver records pipeline progress in the run file and forwards it to the TUI
// when one is running. Waves call it from several goroutines.
type runObserver struct {
	mu   sync.Mutex
	info *RunInfo
	send func(tea.Msg)
}

func newRunObserver(info *RunInfo, send func(tea.Msg)) *runObserver {
	if send == nil {
		send = func(tea.Msg) {}
	}
	return &runObserver{info: info, send: send}
}

func (o *runObserver) update(change func(info *RunInfo)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	change(o.info)
	_ = WriteRunInfo(o.info)
}

func (o *runObserver) StateChanged(state pipeline.State) {
	o.update(func(info *RunInfo) { info.State = string(state) })
	o.send(stateMsg{state: state})
}

func (o *runObserver) Planned(plan planner.Plan) {
	o.update(func(info *RunInfo) { info.Partitions = len(plan.Partitions) })
	o.send(planMsg{plan: plan})
}

func (o *runObserver) Staged(file staging.File) {
	o.update(func(info *RunInfo) { info.Staged++ })
	o.send(stagedMsg{file: file})
}

func (o *runObserver) Uploaded(upload pipeline.Upload) {
	o.update(func(info *RunInfo) { info.Uploaded++ })
	o.send(uploadedMsg{upload: upload})
}

// Loaded records the final row count
func (o *runObserver) Loaded(rows int64) {
	o.update(func(info *RunInfo) { info.RowsLoaded = rows })
}

// tuiLogHandler turns log records into lines of the TUI message log, so logging
// does not tear the alternate screen.
type tuiLogHandler struct {
	level slog.Leveler
	send  func(tea.Msg)
}

func newTUILogHandler(level slog.Leveler, send func(tea.Msg)) *tuiLogHandler {
	return &tuiLogHandler{level: level, send: send}
}

func (h *tuiLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *tuiLogHandler) Handle(_ context.Context, r slog.Record) error {
	message := strings.TrimSpace(r.Message)
	if message == "" {
		return nil
	}
	h.send(messageMsg(message))
	return nil
}

func (h *tuiLogHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *tuiLogHandler) WithGroup(_ string) slog.Handler {
	return h
}
