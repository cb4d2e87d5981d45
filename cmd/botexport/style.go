package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// styles used by the human readable listings. The renderer drops colors when
// the writer is not a terminal.
type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	name    lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	failure lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	s := styles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).MarginTop(1),
		header:  r.NewStyle().Bold(true).Underline(true),
		name:    r.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#6C7086")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
		failure: r.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
	}
	return s
}

func (s styles) status(v string) string {
	switch v {
	case "ok", "completed":
		return s.ok.Render(v)
	case "skipped":
		return s.warn.Render(v)
	default:
		return s.failure.Render(v)
	}
}

// table renders rows with columns padded to the widest cell.
func (s styles) table(w io.Writer, head []string, rows [][]string) {
	widths := make([]int, len(head))
	for i, h := range head {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if cw := lipgloss.Width(c); i < len(widths) && cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	line := func(cells []string, style func(int, string) string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			pad := widths[i] - lipgloss.Width(c)
			parts[i] = style(i, c) + strings.Repeat(" ", max(pad, 0))
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	line(head, func(_ int, c string) string { return s.header.Render(c) })
	for _, r := range rows {
		line(r, func(_ int, c string) string { return c })
	}
}
