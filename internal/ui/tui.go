package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *syncModel
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if the output is not a TTY.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	model := newSyncModel(cfg.Dataset)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}

	return &TUIRenderer{
		cfg:   cfg,
		model: model,
		done:  make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	var opts []tea.ProgramOption
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

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(errorMsg(event))
	}
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}

	if r.program != nil {
		r.program.Quit()

		// Wait with timeout so an unresponsive TUI can't hang Ctrl+C.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}

	return nil
}

// Message types for bubbletea.
type progressUpdateMsg ProgressEvent
type errorMsg ErrorEvent
type completeMsg CompletionStats

// syncModel is the bubbletea model for dataset sync progress.
type syncModel struct {
	width       int
	quitting    bool
	complete    bool
	stage       Stage
	asset       string
	assetBytes  int64
	current     int
	total       int
	totalBytes  int64
	errCount    int
	warnCount   int
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	dataset     string
}

func newSyncModel(dataset string) *syncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmber))

	p := progress.New(
		progress.WithSolidFill(ColorAmber),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &syncModel{
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		dataset:     dataset,
	}
}

// Init implements tea.Model.
func (m *syncModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = msg.Width - 20
		if m.progressBar.Width < 20 {
			m.progressBar.Width = 20
		}

	case progressUpdateMsg:
		if m.stage == StageFetching && msg.Asset != m.asset {
			m.totalBytes += m.assetBytes
			m.assetBytes = 0
		}
		m.stage = msg.Stage
		m.asset = msg.Asset
		m.assetBytes = msg.Bytes
		m.current = msg.Current
		m.total = msg.Total
		return m, nil

	case errorMsg:
		if msg.IsWarn {
			m.warnCount++
		} else {
			m.errCount++
		}
		return m, nil

	case completeMsg:
		m.complete = true
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
func (m *syncModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{
		m.renderStages(),
		m.renderDivider(contentWidth),
		m.renderProgress(),
	}
	if m.asset != "" {
		sections = append(sections, m.renderAsset())
	}
	content := strings.Join(sections, "\n")

	title := "Essay Search Sync"
	if m.dataset != "" {
		title = fmt.Sprintf("Essay Search Sync • %s", m.dataset)
	}
	panel := m.wrapInPanel(title, content, contentWidth)

	return panel + "\n" + m.renderStatusBar()
}

// renderStages renders the sync stage indicators.
func (m *syncModel) renderStages() string {
	stages := []struct {
		stage Stage
		name  string
	}{
		{StageChecking, "Check"},
		{StageFetching, "Fetch"},
		{StageVerifying, "Verify"},
		{StageActivating, "Swap"},
	}

	var parts []string
	for _, s := range stages {
		var icon string
		var style lipgloss.Style

		switch {
		case s.stage < m.stage:
			icon = "●"
			style = m.styles.Success
		case s.stage == m.stage:
			icon = m.spinner.View()
			style = m.styles.Active
		default:
			icon = "○"
			style = m.styles.Dim
		}

		parts = append(parts, style.Render(icon+" "+s.name))
	}

	arrow := m.styles.Dim.Render(" > ")
	return strings.Join(parts, arrow)
}

// renderProgress renders the asset progress bar.
func (m *syncModel) renderProgress() string {
	if m.total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), m.stage.String())
	}

	percent := float64(m.current) / float64(m.total)
	if percent > 1.0 {
		percent = 1.0
	}
	bar := m.progressBar.ViewAs(percent)
	pctStr := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", percent*100))
	countLine := m.styles.Label.Render(fmt.Sprintf("%d / %d assets", m.current, m.total))

	return fmt.Sprintf("%s  %s\n%s", bar, pctStr, countLine)
}

// renderAsset renders the asset currently downloading.
func (m *syncModel) renderAsset() string {
	line := m.asset
	if m.assetBytes > 0 {
		line = fmt.Sprintf("%s (%s)", m.asset, humanize.Bytes(uint64(m.assetBytes)))
	}
	return m.styles.Dim.Render(line)
}

func (m *syncModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

func (m *syncModel) wrapInPanel(title, content string, width int) string {
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(content),
	)
}

func (m *syncModel) renderStatusBar() string {
	var parts []string
	if m.warnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.warnCount)))
	}
	if m.errCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.errCount)))
	}
	if len(parts) == 0 {
		return m.styles.Dim.Render("q to quit")
	}
	separator := m.styles.Dim.Render("  │  ")
	return strings.Join(parts, separator) + m.styles.Dim.Render("  │  q to quit")
}

// renderComplete renders the completion summary.
func (m *syncModel) renderComplete() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	var lines []string
	lines = append(lines, m.styles.Success.Render("✓ Sync Complete"))
	lines = append(lines, "")

	lines = append(lines, fmt.Sprintf("%s   %s",
		m.styles.Label.Render("Assets:"),
		m.styles.Active.Render(fmt.Sprintf("%d", m.stats.Assets))))
	lines = append(lines, fmt.Sprintf("%s     %s",
		m.styles.Label.Render("Size:"),
		m.styles.Active.Render(humanize.Bytes(uint64(m.stats.Bytes)))))
	lines = append(lines, fmt.Sprintf("%s %s",
		m.styles.Label.Render("Duration:"),
		m.styles.Active.Render(m.stats.Duration.Round(100*time.Millisecond).String())))
	if m.stats.StoreTag != "" {
		lines = append(lines, fmt.Sprintf("%s    %s",
			m.styles.Label.Render("Store:"),
			m.styles.Active.Render(m.stats.StoreTag)))
	}

	if m.stats.Errors > 0 || m.stats.Warnings > 0 {
		lines = append(lines, "")
		if m.stats.Errors > 0 {
			lines = append(lines, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
		}
		if m.stats.Warnings > 0 {
			lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", m.stats.Warnings)))
		}
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorGreen)).
		Padding(1, 2).
		Width(contentWidth)

	return panel.Render(strings.Join(lines, "\n")) + "\n"
}
