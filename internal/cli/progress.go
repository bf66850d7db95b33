package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/corpusd/corpusd/internal/client"
	"github.com/corpusd/corpusd/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the document status
type tickMsg time.Time

// statusUpdateMsg carries the fetched status
type statusUpdateMsg struct {
	status *models.JobStatus
	err    error
}

// progressModel is the bubbletea model for document ingestion progress.
type progressModel struct {
	client     *client.Client
	documentID string
	status     *models.JobStatus
	progress   progress.Model
	theme      Theme
	done       bool
	quitting   bool
	err        error
}

// newProgressModel creates a new progress model.
func newProgressModel(c *client.Client, documentID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:     c,
		documentID: documentID,
		progress:   prog,
		theme:      defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.status = msg.status

		switch m.status.State {
		case models.StateReady:
			m.done = true
			return m, tea.Quit
		case models.StateFailed:
			m.done = true
			if m.status.Error != nil {
				m.err = fmt.Errorf("%s", *m.status.Error)
			} else {
				m.err = fmt.Errorf("ingestion failed with unknown error")
			}
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.status == nil {
		return "Loading document status...\n"
	}

	pct := float64(m.status.Progress) / 100

	state := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.status.State))
	progressBar := m.progress.ViewAs(pct)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	line := fmt.Sprintf("%s %s %d%%", state, progressBar, m.status.Progress)
	if m.status.RetryCount > 0 {
		line += fmt.Sprintf(" (retry %d)", m.status.RetryCount)
	}
	return fmt.Sprintf("%s\n%s\n%s\n", line, m.status.Message, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nIngestion continues in background.\nUse 'corpusctl status %s' to check on it.\n",
			m.documentID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Ingestion failed: %s\n", m.err))
	}

	return m.theme.completedStyle().Render("✓ Document ready\n")
}

// fetchStatus fetches the current status from the server.
// Runs as a command so Update() never blocks on the network.
func (m progressModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := m.client.Status(ctx, m.documentID)
		return statusUpdateMsg{status: status, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunStatusProgress runs the interactive progress UI for a document.
// Returns nil on success or Ctrl+C (background), error on failure.
func RunStatusProgress(c *client.Client, documentID string) error {
	model := newProgressModel(c, documentID)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}
