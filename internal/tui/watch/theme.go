// Package watch implements the `ductile-ci watch` TUI: a live view of the
// runner registry, the commit queue and the dispatcher event stream, fed by
// the status API.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ductile-ci/internal/events"
)

// Theme holds the styles used by the watch view.
type Theme struct {
	Good   lipgloss.Style
	Bad    lipgloss.Style
	Busy   lipgloss.Style
	Muted  lipgloss.Style
	Accent lipgloss.Style

	Frame   lipgloss.Style
	Heading lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

func fg(hex string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
}

func NewDefaultTheme() Theme {
	return Theme{
		Good:   fg("#5FD75F"),
		Bad:    fg("#FF5F5F"),
		Busy:   fg("#FFD75F"),
		Muted:  fg("#8A8A8A"),
		Accent: fg("#61AFEF"),

		Frame: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#5F87AF")),
		Heading: lipgloss.NewStyle().Bold(true).Padding(0, 1),

		PulseOn:  fg("#5FD75F"),
		PulseOff: fg("#3A3A3A"),
	}
}

// ForEvent picks the style an event type is drawn in.
func (t Theme) ForEvent(eventType string) lipgloss.Style {
	switch eventType {
	case events.CommitCompleted, events.RunnerRegistered:
		return t.Good
	case events.RunnerEvicted:
		return t.Bad
	case events.CommitDispatched:
		return t.Busy
	case events.CommitRequeued:
		return t.Accent
	default:
		return t.Muted
	}
}
