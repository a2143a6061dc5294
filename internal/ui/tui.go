package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrNotTerminal is returned when a TUI is requested for non-terminal output.
var ErrNotTerminal = errors.New("output is not a terminal")

// TUIRenderer draws progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *progressModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer for a terminal output.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, ErrNotTerminal
	}
	model := newProgressModel(cfg.Title)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{cfg: cfg, model: model, done: make(chan struct{})}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) { r.send(progressMsg(event)) }

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) { r.send(errorMsg(event)) }

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) { r.send(completeMsg(stats)) }

// Stop implements Renderer. It gives the program two seconds to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type (
	progressMsg ProgressEvent
	errorMsg    ErrorEvent
	completeMsg CompletionStats
)

// progressModel is the bubbletea model. All state is owned by Update.
type progressModel struct {
	title     string
	stage     Stage
	current   int
	total     int
	page      string
	errors    int
	warnings  int
	lastError string
	started   time.Time
	width     int
	quitting  bool
	complete  bool
	stats     CompletionStats
	spinner   spinner.Model
	bar       progress.Model
	styles    Styles
}

func newProgressModel(title string) *progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	return &progressModel{
		title:   title,
		started: time.Now(),
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorLime),
			progress.WithWidth(50),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *progressModel) Init() tea.Cmd { return m.spinner.Tick }

// Update implements tea.Model.
func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case progressMsg:
		if msg.Stage != m.stage {
			m.stage = msg.Stage
			m.current, m.total = 0, 0
		}
		m.current, m.total = msg.Current, msg.Total
		if msg.Page != "" {
			m.page = msg.Page
		}
	case errorMsg:
		if msg.IsWarn {
			m.warnings++
		} else {
			m.errors++
		}
		if msg.Err != nil {
			m.lastError = msg.Err.Error()
		}
	case completeMsg:
		m.complete = true
		m.stage = StageComplete
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *progressModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	sections := []string{m.renderStages(), m.renderProgress()}
	if m.page != "" {
		sections = append(sections, m.styles.Dim.Render(truncate(m.page, width-2)))
	}
	if m.errors > 0 || m.warnings > 0 {
		sections = append(sections, m.renderProblems(width))
	}

	title := "notegraph"
	if m.title != "" {
		title += " • " + m.title
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		m.styles.Panel.Width(width).Render(strings.Join(sections, "\n")),
	) + "\n"
}

func (m *progressModel) renderStages() string {
	stages := []struct {
		stage Stage
		name  string
	}{
		{StageScanning, "Scan"},
		{StageImporting, "Import"},
		{StageIndexing, "Index"},
	}

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		switch {
		case s.stage < m.stage:
			parts = append(parts, m.styles.Success.Render("● "+s.name))
		case s.stage == m.stage:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.name))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.name))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *progressModel) renderProgress() string {
	if m.total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), m.stage)
	}
	percent := float64(m.current) / float64(m.total)
	line := m.bar.ViewAs(percent) + "  " + m.styles.Active.Render(fmt.Sprintf("%3.0f%%", percent*100))
	count := fmt.Sprintf("%d / %d pages", m.current, m.total)
	if eta := m.eta(); eta > 0 {
		count += "  •  ETA " + formatDuration(eta)
	}
	return line + "\n" + m.styles.Label.Render(count)
}

func (m *progressModel) renderProblems(width int) string {
	summary := fmt.Sprintf("%d errors, %d warnings", m.errors, m.warnings)
	style := m.styles.Warning
	if m.errors > 0 {
		style = m.styles.Error
	}
	if m.lastError != "" {
		summary += ": " + truncate(m.lastError, width-len(summary)-4)
	}
	return style.Render(summary)
}

func (m *progressModel) renderComplete() string {
	s := m.stats
	var b strings.Builder
	b.WriteString(m.styles.Success.Render("✓ "))
	fmt.Fprintf(&b, "%d pages (%d written, %d unchanged, %d deleted) in %s\n",
		s.Pages, s.Written, s.Unchanged, s.Deleted, formatDuration(s.Duration))
	if s.Skipped > 0 || s.Degraded > 0 {
		b.WriteString(m.styles.Warning.Render(fmt.Sprintf("  %d skipped, %d degraded", s.Skipped, s.Degraded)))
		b.WriteString("\n")
	}
	if s.Errors > 0 {
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("  %d errors", s.Errors)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *progressModel) eta() time.Duration {
	if m.current == 0 || m.current >= m.total {
		return 0
	}
	elapsed := time.Since(m.started)
	return time.Duration(float64(elapsed) / float64(m.current) * float64(m.total-m.current))
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// truncate shortens s to width runes, keeping the tail.
func truncate(s string, width int) string {
	r := []rune(s)
	if width < 4 || len(r) <= width {
		return s
	}
	return "..." + string(r[len(r)-width+3:])
}
