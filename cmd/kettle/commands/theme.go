package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Brand colors
var (
	ColorAccent  = lipgloss.Color("#f59e0b") // Amber
	ColorSuccess = lipgloss.Color("#22c55e") // Green
	ColorError   = lipgloss.Color("#ef4444") // Red
	ColorMuted   = lipgloss.Color("#6b7280") // Gray
	ColorWhite   = lipgloss.Color("#f9fafb") // Off-white
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// styled reports whether output should carry colors
func styled() bool {
	return OutputFormat == "" && isTTY()
}

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(16)

	StyleValue = lipgloss.NewStyle().
			Foreground(ColorWhite)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorMuted)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(0, 1)
)

// StatusBadge renders a verdict
func StatusBadge(valid bool) string {
	label, color := "invalid", ColorError
	if valid {
		label, color = "valid", ColorSuccess
	}
	if !styled() {
		return label
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(color).
		Padding(0, 1).
		Bold(true).
		Render(label)
}

// printKV writes aligned label/value rows
func printKV(w io.Writer, rows [][2]string) {
	for _, r := range rows {
		if styled() {
			fmt.Fprintln(w, StyleLabel.Render(r[0])+StyleValue.Render(r[1]))
			continue
		}
		fmt.Fprintf(w, "%-16s%s\n", r[0], r[1])
	}
}

// printHeader writes a section title
func printHeader(w io.Writer, title string) {
	if styled() {
		fmt.Fprintln(w, StyleHeader.Render(title))
		return
	}
	fmt.Fprintln(w, title)
}
