// Package ui renders an upload pipeline run in the terminal.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/photo-gallery/backend/internal/upload"
	"github.com/samber/lo"
)

const (
	eventBuffer = 256
	minBarWidth = 10
	maxBarWidth = 40
)

type keyMap struct {
	quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding  { return []key.Binding{k.quit} }
func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{{k.quit}} }

type eventMsg upload.Event

type doneMsg struct {
	summary upload.Summary
	err     error
}

// Model uploads every pending item of a pipeline and shows per-item progress.
type Model struct {
	ctx         context.Context
	cancel      context.CancelFunc
	pipeline    *upload.Pipeline
	events      chan upload.Event
	unsubscribe func()

	items   []upload.Item
	bar     progress.Model
	overall progress.Model
	help    help.Model
	keys    keyMap

	done    bool
	summary upload.Summary
	err     error
}

// NewModel subscribes to p. Init starts the upload run.
func NewModel(ctx context.Context, p *upload.Pipeline) *Model {
	ctx, cancel := context.WithCancel(ctx)
	m := &Model{
		ctx:      ctx,
		cancel:   cancel,
		pipeline: p,
		events:   make(chan upload.Event, eventBuffer),
		items:    p.Items(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth), progress.WithoutPercentage()),
		overall:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		help:     help.New(),
		keys: keyMap{
			quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "cancel")),
		},
	}
	m.unsubscribe = p.Subscribe(m.forward)
	return m
}

// forward hands pipeline events to the program. Progress events are dropped
// when the buffer is full; others wait until the run is cancelled.
func (m *Model) forward(e upload.Event) {
	if e.Type == upload.EventProgress {
		select {
		case m.events <- e:
		default:
		}
		return
	}
	select {
	case m.events <- e:
	case <-m.ctx.Done():
	}
}

// Init starts the upload run.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.run, m.waitForEvent)
}

func (m *Model) run() tea.Msg {
	sum, err := m.pipeline.UploadAll(m.ctx)
	return doneMsg{summary: sum, err: err}
}

func (m *Model) waitForEvent() tea.Msg {
	select {
	case e := <-m.events:
		return eventMsg(e)
	case <-m.ctx.Done():
		return nil
	}
}

// Update applies key presses, pipeline events and the run result.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w := max(minBarWidth, min(maxBarWidth, msg.Width/2))
		m.bar.Width = w
		m.overall.Width = w
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			m.stop()
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		m.apply(upload.Event(msg))
		return m, m.waitForEvent

	case doneMsg:
		m.done = true
		m.summary = msg.summary
		m.err = msg.err
		m.drain()
		m.stop()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) stop() {
	m.unsubscribe()
	m.cancel()
}

// drain applies events buffered before the run returned.
func (m *Model) drain() {
	for {
		select {
		case e := <-m.events:
			m.apply(e)
		default:
			return
		}
	}
}

func (m *Model) apply(e upload.Event) {
	if e.Item == nil {
		return
	}
	switch e.Type {
	case upload.EventAdded:
		m.items = append(m.items, *e.Item)
	case upload.EventRemoved:
		m.items = lo.Reject(m.items, func(it upload.Item, _ int) bool { return it.ID == e.Item.ID })
	default:
		for i := range m.items {
			if m.items[i].ID == e.Item.ID {
				m.items[i] = *e.Item
				return
			}
		}
	}
}

// Summary returns the result of the finished run.
func (m *Model) Summary() (upload.Summary, error) {
	return m.summary, m.err
}

// Done reports whether the run has returned.
func (m *Model) Done() bool { return m.done }

// View renders the item list with an overall bar.
func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Uploading photos"))
	b.WriteString("\n")

	nameWidth := lo.Max(lo.Map(m.items, func(it upload.Item, _ int) int { return len(it.Name) }))
	for _, it := range m.items {
		fmt.Fprintf(&b, "%s %-*s %s %s\n", statusIcon(it.Status), nameWidth, it.Name, m.bar.ViewAs(it.Progress/100), statusText(it))
	}

	completed := lo.CountBy(m.items, func(it upload.Item) bool { return it.Status == upload.StatusCompleted })
	ratio := 0.0
	if len(m.items) > 0 {
		ratio = float64(completed) / float64(len(m.items))
	}
	fmt.Fprintf(&b, "\n%s %d/%d\n", m.overall.ViewAs(ratio), completed, len(m.items))

	if m.done {
		b.WriteString(m.summaryLine())
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
		b.WriteString(m.help.View(m.keys))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) summaryLine() string {
	switch {
	case errors.Is(m.err, context.Canceled):
		return styles.warn.Render(fmt.Sprintf("Cancelled after %d of %d uploads", m.summary.Completed, m.summary.Attempted))
	case m.err != nil:
		return styles.err.Render(m.err.Error())
	case m.summary.Failed > 0:
		return styles.err.Render(fmt.Sprintf("%d uploaded, %d failed", m.summary.Completed, m.summary.Failed))
	default:
		return styles.ok.Render(fmt.Sprintf("%d uploaded", m.summary.Completed))
	}
}

func statusIcon(s upload.Status) string {
	switch s {
	case upload.StatusCompleted:
		return styles.ok.Render("✓")
	case upload.StatusError:
		return styles.err.Render("✗")
	case upload.StatusUploading:
		return styles.warn.Render("↑")
	default:
		return styles.muted.Render("·")
	}
}

func statusText(it upload.Item) string {
	switch it.Status {
	case upload.StatusError:
		return styles.err.Render(it.Error)
	case upload.StatusUploading:
		return fmt.Sprintf("%3.0f%%", it.Progress)
	default:
		return styles.muted.Render(string(it.Status))
	}
}
