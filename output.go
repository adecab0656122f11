package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/algo-boyz/speakerprint/pkg/profile"
	"github.com/charmbracelet/lipgloss"
)

var (
	nameStyle = lipgloss.NewStyle().Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))

	labelStyles = map[embedding.Label]lipgloss.Style{
		embedding.SameSpeaker:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		embedding.LikelySameSpeaker: lipgloss.NewStyle().Foreground(lipgloss.Color("#9fef00")),
		embedding.Uncertain:         lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb86c")),
		embedding.DifferentSpeakers: lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")),
	}
)

func renderLabel(l embedding.Label) string {
	if style, ok := labelStyles[l]; ok {
		return style.Render(l.String())
	}
	return l.String()
}

func printResult(w io.Writer, r embedding.Result) {
	fmt.Fprintf(w, "%.4f  %s\n", r.Similarity, renderLabel(r.Label))
}

func printMatches(w io.Writer, matches []profile.Match) {
	width := 0
	for _, m := range matches {
		width = max(width, len(m.Profile.Name))
	}
	for _, m := range matches {
		name := m.Profile.Name + strings.Repeat(" ", width-len(m.Profile.Name))
		fmt.Fprintf(w, "%s  %.4f  %s\n", nameStyle.Render(name), m.Similarity, renderLabel(m.Label))
	}
}

func printProfiles(w io.Writer, ps []profile.Profile) {
	if len(ps) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no speakers enrolled"))
		return
	}
	for _, p := range ps {
		dim := 0
		if len(p.Embeddings) > 0 {
			dim = p.Embeddings[0].Dim()
		}
		fmt.Fprintf(w, "%s  %s  %d clips  dim %d  updated %s\n",
			nameStyle.Render(p.Name), dimStyle.Render(p.ID.String()),
			len(p.Embeddings), dim, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
}
