package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks dispatcher health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Runners       int
	Pending       int
	Dispatched    int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, ticker Ticker, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.Good.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.Bad.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Bad.Render("DEGRADED")
	}

	lastEvent := "never"
	if !pulse.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(pulse.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" DUCTILE-CI WATCH %s", theme.Accent.Render(ticker.Current()))
	clock := theme.Muted.Render(now.Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Runners: %d  Pending: %d  Dispatched: %d",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Runners,
		health.Pending,
		health.Dispatched,
	)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Frame.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
