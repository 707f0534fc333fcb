// Package tui provides the Bubble Tea picker shown at session stop: the user
// walks the pending changes and marks which ones survive the rollback.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/rewind/internal/session"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))

	checkedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))

	kindNewStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindModifiedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindDeletedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Model ────────────────────

// Model is the root Bubble Tea model for the preserve picker.
type Model struct {
	root    string
	changes []session.ChangeEvent
	checked map[int]bool
	cursor  int

	vp        viewport.Model
	width     int
	height    int
	ready     bool
	confirmed bool
	cancelled bool
}

// New creates a picker over the pending changes. Nothing is checked
// initially, so confirming without touching anything reverts everything.
func New(root string, changes []session.ChangeEvent) Model {
	return Model{
		root:    root,
		changes: changes,
		checked: make(map[int]bool),
	}
}

// Preserved returns the checked paths, in list order.
func (m Model) Preserved() []string {
	var out []string
	for i, c := range m.changes {
		if m.checked[i] {
			out = append(out, c.Path)
		}
	}
	return out
}

// Cancelled reports whether the user backed out instead of confirming.
func (m Model) Cancelled() bool { return m.cancelled }

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		case "enter":
			m.confirmed = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.rebuild()
			}
			return m, nil
		case "down", "j":
			if m.cursor < len(m.changes)-1 {
				m.cursor++
				m.rebuild()
			}
			return m, nil
		case " ":
			if len(m.changes) > 0 {
				if m.checked[m.cursor] {
					delete(m.checked, m.cursor)
				} else {
					m.checked[m.cursor] = true
				}
				m.rebuild()
			}
			return m, nil
		case "a":
			for i := range m.changes {
				m.checked[i] = true
			}
			m.rebuild()
			return m, nil
		case "n":
			m.checked = make(map[int]bool)
			m.rebuild()
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		// title(1) + statusBar(1) = 2 fixed rows
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		m.vp = viewport.New(m.width, vpHeight)
		m.vp.SetContent(m.renderList())
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render(
		fmt.Sprintf("  rewind  %d change(s) in %s", len(m.changes), m.root))

	hint := "  ↑/↓ move  space keep/revert  a keep all  n revert all  enter confirm  q cancel"
	kept := fmt.Sprintf("keeping %d/%d", len(m.checked), len(m.changes))
	pad := m.width - lipgloss.Width(hint) - len(kept) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + kept)

	return lipgloss.JoinVertical(lipgloss.Left, title, m.vp.View(), statusBar)
}

func (m *Model) rebuild() {
	m.vp.SetContent(m.renderList())
	m.scrollToCursor()
}

// scrollToCursor keeps the cursor row inside the viewport. Each change
// renders as exactly one line after the two-line header.
func (m *Model) scrollToCursor() {
	line := m.cursor + 2
	if line < m.vp.YOffset {
		m.vp.SetYOffset(line)
	} else if line >= m.vp.YOffset+m.vp.Height {
		m.vp.SetYOffset(line - m.vp.Height + 1)
	}
}

func (m *Model) renderList() string {
	var sb strings.Builder
	sb.WriteString("\n" + dimStyle.Render("  unchecked changes revert to the session baseline") + "\n")
	for i, c := range m.changes {
		box := dimStyle.Render("[ ]")
		if m.checked[i] {
			box = checkedStyle.Render("[x]")
		}

		var badge string
		switch c.Kind {
		case session.KindNew:
			badge = kindNewStyle.Render(fmt.Sprintf("%-8s", "NEW"))
		case session.KindModified:
			badge = kindModifiedStyle.Render(fmt.Sprintf("%-8s", "MODIFIED"))
		case session.KindDeleted:
			badge = kindDeletedStyle.Render(fmt.Sprintf("%-8s", "DELETED"))
		}

		ts := timeStyle.Render(c.Timestamp.Format("15:04:05"))
		row := fmt.Sprintf("  %s  %s %s  %s", box, badge, ts, c.Path)
		if i == m.cursor {
			row = selectedRowStyle.Width(m.width - 2).Render(row)
		}
		sb.WriteString(row + "\n")
	}
	return sb.String()
}

// Run shows the picker and returns the paths to preserve. cancelled is true
// when the user quit without confirming; the caller must not finalize then.
func Run(root string, changes []session.ChangeEvent) (preserve []string, cancelled bool, err error) {
	p := tea.NewProgram(New(root, changes), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, false, err
	}
	m := final.(Model)
	return m.Preserved(), m.Cancelled(), nil
}
