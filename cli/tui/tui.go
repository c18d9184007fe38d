package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/pgnstream/types"
)

// ProgressMsg carries a pipeline progress update into the model.
type ProgressMsg types.Progress

// DoneMsg ends the view with the run outcome.
type DoneMsg struct {
	Outcome *types.RunOutcome
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "cancel"),
	),
}

const maxBarWidth = 72

// ProgressModel is a Bubble Tea model for a single archive run.
type ProgressModel struct {
	title     string
	bar       progress.Model
	last      types.Progress
	outcome   *types.RunOutcome
	cancel    context.CancelFunc
	canceling bool
}

// NewProgressModel creates a progress model. cancel is invoked when the
// user quits before the run finishes.
func NewProgressModel(title string, cancel context.CancelFunc) ProgressModel {
	return ProgressModel{
		title:  title,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		cancel: cancel,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		if !key.Matches(msg, keys.Quit) {
			return m, nil
		}
		if m.outcome != nil {
			return m, tea.Quit
		}
		if !m.canceling && m.cancel != nil {
			m.cancel()
			m.canceling = true
		}
		return m, nil

	case ProgressMsg:
		m.last = types.Progress(msg)
		return m, nil

	case DoneMsg:
		m.outcome = msg.Outcome
		return m, tea.Quit
	}

	return m, nil
}

// Percent is the completed fraction, 0 when the size is unknown.
func (m ProgressModel) Percent() float64 {
	if m.last.BytesExpected <= 0 {
		return 0
	}
	return min(1, float64(m.last.BytesProcessed)/float64(m.last.BytesExpected))
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.bar.ViewAs(m.Percent()))
	b.WriteString("\n\n")

	expected := "unknown"
	if m.last.BytesExpected > 0 {
		expected = formatBytes(m.last.BytesExpected)
	}
	m.row(&b, "Bytes", fmt.Sprintf("%s / %s", formatBytes(m.last.BytesProcessed), expected))
	m.row(&b, "Chunks", fmt.Sprintf("%d", m.last.Chunks))
	m.row(&b, "Records", fmt.Sprintf("%d", m.last.Records))
	m.row(&b, "Kept", fmt.Sprintf("%d", m.last.Kept))

	switch {
	case m.outcome != nil:
		status := string(m.outcome.Status)
		m.row(&b, "Outcome", OutcomeStyle(status).Render(status))
		return b.String()
	case m.canceling:
		m.row(&b, "Status", WarningStyle.Render("canceling"))
	default:
		m.row(&b, "Status", "running")
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to cancel"))
	return b.String()
}

func (m ProgressModel) row(b *strings.Builder, label, value string) {
	b.WriteString(LabelStyle.Render(label))
	b.WriteString(ValueStyle.Render(value))
	b.WriteString("\n")
}

// Run executes work while rendering a progress view. work receives a
// context canceled when the user quits and a ProgressFunc feeding the view.
// Run returns once work has returned.
func Run(parent context.Context, title string, work func(context.Context, types.ProgressFunc) *types.RunOutcome) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(title, cancel), tea.WithContext(parent))
	done := make(chan struct{})
	go func() {
		defer close(done)
		outcome := work(ctx, func(pr types.Progress) {
			p.Send(ProgressMsg(pr))
		})
		p.Send(DoneMsg{Outcome: outcome})
	}()

	err := startProgram(p)
	switch {
	case err == nil, parent.Err() != nil:
	case errors.Is(err, tea.ErrInterrupted):
		cancel()
	default:
		// The view never started or died (no terminal, for one). Its
		// context is done, so progress sends are dropped and the run
		// finishes without it.
		p.Kill()
		<-done
		return fmt.Errorf("progress view: %w", err)
	}
	<-done
	return nil
}

// startProgram runs the view until it quits.
var startProgram = func(p *tea.Program) error {
	_, err := p.Run()
	return err
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
