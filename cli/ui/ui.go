// Package ui provides reusable rendering helpers for the strand CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/strandhq/strand/cli/styles"
)

// Table renders aligned tabular output.
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a table with the given headers.
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		widths:  widths,
	}
}

// AddRow appends a row, padding or truncating to the header count.
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := range t.headers {
		if i < len(values) {
			row[i] = values[i]
		}
		if len(row[i]) > t.widths[i] {
			t.widths[i] = len(row[i])
		}
	}
	t.rows = append(t.rows, row)
}

// Render returns the formatted table.
func (t *Table) Render() string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(styles.Primary)
	cellStyle := lipgloss.NewStyle().Foreground(styles.Text)

	for i, h := range t.headers {
		b.WriteString(headerStyle.Render(pad(h, t.widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")

	for i := range t.headers {
		b.WriteString(styles.Dim.Render(strings.Repeat("─", t.widths[i])))
		b.WriteString("  ")
	}
	b.WriteString("\n")

	for _, row := range t.rows {
		for i, cell := range row {
			b.WriteString(cellStyle.Render(pad(cell, t.widths[i])))
			b.WriteString("  ")
		}
		b.WriteString("\n")
	}

	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Banner returns the CLI banner.
func Banner() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Render("strand")
	tagline := styles.Muted.Render("event-sourcing domain layer")
	return fmt.Sprintf("%s %s %s", title, styles.Dim.Render(styles.IconStream), tagline)
}

// Divider returns a horizontal divider of the given width.
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}

// ListItems renders a bulleted list.
func ListItems(items []string) string {
	var b strings.Builder
	bullet := lipgloss.NewStyle().Foreground(styles.Primary).Render(styles.IconDot)
	for _, item := range items {
		b.WriteString("  " + bullet + " " + styles.Normal.Render(item) + "\n")
	}
	return b.String()
}

// StatusBadge renders a colored status label.
func StatusBadge(status string) string {
	switch strings.ToLower(status) {
	case "ok", "healthy", "up":
		return styles.SuccessStyle.Render(styles.IconSuccess + " " + status)
	case "error", "down", "failed":
		return styles.ErrorStyle.Render(styles.IconError + " " + status)
	default:
		return styles.WarningStyle.Render(styles.IconWarning + " " + status)
	}
}
