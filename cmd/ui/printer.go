// Package ui renders the conversation in the terminal: styled transcript
// lines, a thinking spinner, and the interactive selector review gates are
// answered with.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	bannerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	reviewStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	diffAddStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	diffDelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
)

// Banner prints the session header.
func Banner(text string) {
	fmt.Println(bannerStyle.Render(text))
}

// Assistant prints one frozen assistant reply.
func Assistant(text string) {
	fmt.Printf("\n%s\n", assistantStyle.Render(text))
}

// ToolLine prints one tool invocation's status line.
func ToolLine(name, status string) {
	fmt.Println(toolStyle.Render(fmt.Sprintf("  [%s] %s", name, status)))
}

// ReviewHeader prints the heading above a gate prompt.
func ReviewHeader(text string) {
	fmt.Printf("\n%s\n", reviewStyle.Render(text))
}

// Diff prints a prepared +/- line diff with added/removed coloring.
func Diff(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Println(diffAddStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			fmt.Println(diffDelStyle.Render(line))
		default:
			fmt.Println(line)
		}
	}
}

// Dim prints de-emphasized informational text.
func Dim(text string) {
	fmt.Println(dimStyle.Render(text))
}

// Errorf prints an error line.
func Errorf(format string, a ...interface{}) {
	fmt.Println(errorStyle.Render(fmt.Sprintf(format, a...)))
}
