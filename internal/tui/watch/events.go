package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ductile-ci/internal/events"
)

const maxEventLines = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Heading.Render("EVENT STREAM"),
			theme.Muted.Render("  Waiting for events..."),
		)
		return theme.Frame.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, maxEventLines)
	for _, e := range eventLog[:min(len(eventLog), maxEventLines)] {
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Heading.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Frame.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	style := theme.ForEvent(e.Type)

	return fmt.Sprintf("%s %s %s",
		theme.Muted.Render(e.At.Format("15:04:05")),
		style.Render(fmt.Sprintf("%-18s", e.Type)),
		describeEvent(e),
	)
}

// describeEvent pulls the commit and runner out of the event payload.
func describeEvent(e events.Event) string {
	var data map[string]any
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["commit_id"].(string); ok {
		parts = append(parts, "["+shortCommit(id)+"]")
	}
	switch r := data["runner"].(type) {
	case string:
		if r != "" {
			parts = append(parts, r)
		}
	case map[string]any:
		parts = append(parts, fmt.Sprintf("%v:%v", r["host"], r["port"]))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func shortCommit(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
