package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Option is one selectable answer to a review prompt.
type Option struct {
	ID    string
	Label string
	// Key is the single-letter shortcut; also accepted by the plain
	// stdin fallback.
	Key string
}

var (
	cursorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	selectedStyle = lipgloss.NewStyle().Bold(true)
	optionStyle   = lipgloss.NewStyle().Faint(true)
)

type selectModel struct {
	options   []Option
	selected  int
	chosen    bool
	cancelled bool
}

func (m selectModel) Init() tea.Cmd { return nil }

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.cancelled = true
		return m, tea.Quit
	case "up", "k":
		m.selected = (m.selected + len(m.options) - 1) % len(m.options)
	case "down", "j":
		m.selected = (m.selected + 1) % len(m.options)
	case "enter":
		m.chosen = true
		return m, tea.Quit
	default:
		for i, opt := range m.options {
			if opt.Key != "" && key.String() == opt.Key {
				m.selected = i
				m.chosen = true
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m selectModel) View() string {
	var sb strings.Builder
	for i, opt := range m.options {
		if i == m.selected {
			sb.WriteString(cursorStyle.Render("❯ "))
			sb.WriteString(selectedStyle.Render(opt.Label))
		} else {
			sb.WriteString("  ")
			sb.WriteString(optionStyle.Render(opt.Label))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Select asks the user to pick one option. On a real terminal it runs an
// arrow-key selector; otherwise it falls back to a line prompt matching
// option keys and ids. The second return is false when the user cancelled.
func Select(options []Option) (string, bool) {
	if len(options) == 0 {
		return "", false
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		final, err := tea.NewProgram(selectModel{options: options}).Run()
		if err == nil {
			if m, ok := final.(selectModel); ok {
				if m.cancelled || !m.chosen {
					return "", false
				}
				return options[m.selected].ID, true
			}
		}
		// fall through to the line prompt on any bubbletea failure
	}
	return selectLine(options)
}

func selectLine(options []Option) (string, bool) {
	var keys []string
	for _, opt := range options {
		if opt.Key != "" {
			keys = append(keys, fmt.Sprintf("(%s)%s", opt.Key, strings.TrimPrefix(opt.Label, opt.Key)))
		} else {
			keys = append(keys, opt.Label)
		}
	}
	fmt.Printf("%s: ", strings.Join(keys, "  "))

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", false
	}
	line = strings.TrimSpace(strings.ToLower(line))
	if line == "" {
		return options[0].ID, true
	}
	for _, opt := range options {
		if line == strings.ToLower(opt.Key) || line == strings.ToLower(opt.ID) || line == strings.ToLower(opt.Label) {
			return opt.ID, true
		}
	}
	return "", false
}
