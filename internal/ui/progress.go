package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/linuxmatters/poreflow/internal/cli"
	"github.com/linuxmatters/poreflow/internal/detect"
)

// FileProgress is a progress update for one file
type FileProgress struct {
	Path string
	detect.Progress
}

// FileDone signals that one file has finished, successfully or not
type FileDone struct {
	Path   string
	Events int
	Err    error
}

// ScanComplete signals that every file has finished
type ScanComplete struct {
	Totals cli.ScanTotals
}

// progressQuitMsg is sent when it's time to quit after showing completion
type progressQuitMsg struct{}

type fileState struct {
	path     string
	progress detect.Progress
	done     bool
	err      error
}

// Model is the Bubbletea model for a batch scan
type Model struct {
	progressBar progress.Model
	fileBar     progress.Model

	files   []*fileState
	byPath  map[string]*fileState
	started time.Time
	totals  *cli.ScanTotals

	width           int
	completionDelay time.Duration
	cancel          func()
	interrupted     bool
}

// NewModel creates a progress model for paths. cancel is called when the
// user interrupts the scan.
func NewModel(paths []string, cancel func()) *Model {
	p := progress.New(
		progress.WithGradient(string(cli.IonIndigo), string(cli.IonCyan)),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	fileBar := progress.New(
		progress.WithGradient(string(cli.IonIndigo), string(cli.IonTeal)),
		progress.WithWidth(24),
		progress.WithoutPercentage(),
	)

	m := &Model{
		progressBar:     p,
		fileBar:         fileBar,
		byPath:          make(map[string]*fileState, len(paths)),
		started:         time.Now(),
		completionDelay: 500 * time.Millisecond,
		cancel:          cancel,
	}
	for _, path := range paths {
		fs := &fileState{path: path}
		m.files = append(m.files, fs)
		m.byPath[path] = fs
	}
	return m
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return nil
}

// Interrupted reports whether the user pressed ctrl+c
func (m *Model) Interrupted() bool {
	return m.interrupted
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(min(msg.Width-30, 50), 10)
		return m, nil

	case FileProgress:
		if fs, ok := m.byPath[msg.Path]; ok {
			fs.progress = msg.Progress
		}
		return m, nil

	case FileDone:
		if fs, ok := m.byPath[msg.Path]; ok {
			fs.done = true
			fs.err = msg.Err
			fs.progress.Events = msg.Events
		}
		return m, nil

	case ScanComplete:
		m.totals = &msg.Totals
		return m, tea.Tick(m.completionDelay, func(time.Time) tea.Msg {
			return progressQuitMsg{}
		})

	case progressQuitMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		if m.totals != nil {
			return m, tea.Quit
		}
		if msg.String() == "ctrl+c" {
			m.interrupted = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	}

	return m, nil
}

// overall returns the fraction of all samples processed and the events so far
func (m *Model) overall() (float64, int) {
	var done, total, events int
	for _, fs := range m.files {
		done += fs.progress.Samples
		total += fs.progress.Total
		events += fs.progress.Events
	}
	if total == 0 {
		return 0, events
	}
	return float64(done) / float64(total), events
}

// View renders the UI
func (m *Model) View() string {
	var s strings.Builder

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(cli.IonCyan).
		Render(cli.Name)
	s.WriteString(title)
	s.WriteString("\n")
	s.WriteString(lipgloss.NewStyle().Foreground(cli.IonTeal).Render(
		fmt.Sprintf("Scanning %d file(s)", len(m.files))))
	s.WriteString("\n\n")

	percent, events := m.overall()
	if m.totals != nil {
		percent = 1
	}
	s.WriteString("Progress: ")
	s.WriteString(m.progressBar.ViewAs(percent))
	s.WriteString(fmt.Sprintf("  %d%%", int(percent*100)))
	s.WriteString("\n\n")

	elapsed := time.Since(m.started)
	var eta time.Duration
	if percent > 0 && percent < 1 {
		eta = time.Duration(float64(elapsed)/percent) - elapsed
	}
	s.WriteString(lipgloss.NewStyle().Faint(true).Render(
		fmt.Sprintf("Time: %s  │  Events: %s  │  ETA: %s",
			cli.FormatDuration(elapsed), cli.FormatCount(events), cli.FormatDuration(eta))))
	s.WriteString("\n\n")

	m.renderFiles(&s)

	border := cli.IonBlue
	if m.totals != nil {
		border = cli.IonTeal
	}
	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(1, 2).
		Render(s.String())
}

func (m *Model) renderFiles(s *strings.Builder) {
	nameStyle := lipgloss.NewStyle().Faint(true)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#D7263D"))
	okStyle := lipgloss.NewStyle().Foreground(cli.IonTeal)

	for i, fs := range m.files {
		if i > 0 {
			s.WriteString("\n")
		}
		name := filepath.Base(fs.path)
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		s.WriteString(nameStyle.Render(fmt.Sprintf("%-24s ", name)))

		var frac float64
		if fs.progress.Total > 0 {
			frac = float64(fs.progress.Samples) / float64(fs.progress.Total)
		}
		switch {
		case fs.err != nil:
			s.WriteString(m.fileBar.ViewAs(frac))
			s.WriteString("  ")
			s.WriteString(errStyle.Render("✗ " + shorten(fs.err.Error(), 40)))
		case fs.done:
			s.WriteString(m.fileBar.ViewAs(1))
			s.WriteString("  ")
			s.WriteString(okStyle.Render(fmt.Sprintf("✓ %s events", cli.FormatCount(fs.progress.Events))))
		default:
			s.WriteString(m.fileBar.ViewAs(frac))
			s.WriteString(fmt.Sprintf("  %3d%%  %s events", int(frac*100), cli.FormatCount(fs.progress.Events)))
		}
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
