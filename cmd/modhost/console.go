package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxScrollback is how many history entries the console keeps on screen.
const maxScrollback = 200

type entry struct {
	command string
	output  string
	err     error
}

type consoleModel struct {
	ctx     context.Context
	sh      *shell
	input   textinput.Model
	history []entry
	recall  []string
	pos     int
	busy    bool
}

type execResultMsg struct {
	entry entry
	quit  bool
}

func newConsoleModel(ctx context.Context, sh *shell) *consoleModel {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("] ")
	ti.Placeholder = "help"
	ti.Width = 60
	ti.Focus()
	return &consoleModel{ctx: ctx, sh: sh, input: ti}
}

func (m *consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *consoleModel) run(line string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.sh.exec(m.ctx, line)
		if err == errQuit {
			return execResultMsg{quit: true}
		}
		return execResultMsg{entry: entry{command: line, output: out, err: err}}
	}
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if msg.Width > 10 {
			m.input.Width = msg.Width - 4
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.recall = append(m.recall, line)
			m.pos = len(m.recall)
			m.busy = true
			return m, m.run(line)

		case "up":
			if m.pos > 0 {
				m.pos--
				m.input.SetValue(m.recall[m.pos])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.pos < len(m.recall)-1 {
				m.pos++
				m.input.SetValue(m.recall[m.pos])
				m.input.CursorEnd()
			} else {
				m.pos = len(m.recall)
				m.input.SetValue("")
			}
			return m, nil
		}

	case execResultMsg:
		m.busy = false
		if msg.quit {
			return m, tea.Quit
		}
		m.history = append(m.history, msg.entry)
		if len(m.history) > maxScrollback {
			m.history = m.history[len(m.history)-maxScrollback:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) View() string {
	var b strings.Builder

	inst := m.sh.inst
	b.WriteString(titleStyle.Render("modhost"))
	fmt.Fprintf(&b, " %s (%s, %s)\n\n", inst.Name(), inst.Backend().Kind(), inst.State())

	for _, e := range m.history {
		b.WriteString(commandStyle.Render("] " + e.command))
		b.WriteString("\n")
		if e.output != "" {
			b.WriteString(resultStyle.Render(e.output))
			b.WriteString("\n")
		}
		if e.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", e.err)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • help commands • ctrl+c quit"))
	return b.String()
}

func runConsole(ctx context.Context, sh *shell) error {
	p := tea.NewProgram(newConsoleModel(ctx, sh), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
