package watch

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

func newTable(cols []table.Column) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(false),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func newRunnerTable() table.Model {
	return newTable([]table.Column{
		{Title: "#", Width: 3},
		{Title: "Host", Width: 24},
		{Title: "Port", Width: 6},
		{Title: "Commits", Width: 8},
	})
}

func newCommitTable() table.Model {
	return newTable([]table.Column{
		{Title: "Commit", Width: 14},
		{Title: "State", Width: 10},
		{Title: "Runner", Width: 24},
	})
}

// setQueueRows rebuilds both tables from one poll. Pending commits are
// listed first in queue order, then dispatched ones.
func (m *Model) setQueueRows(q queueMsg) {
	load := make(map[string]int, len(q.Commits.Dispatched))
	for _, d := range q.Commits.Dispatched {
		load[d.Runner.Addr()]++
	}

	runnerRows := make([]table.Row, 0, len(q.Runners.Runners))
	for i, r := range q.Runners.Runners {
		runnerRows = append(runnerRows, table.Row{
			strconv.Itoa(i + 1),
			r.Host,
			strconv.Itoa(r.Port),
			strconv.Itoa(load[r.Addr()]),
		})
	}
	m.runners.SetRows(runnerRows)

	commitRows := make([]table.Row, 0, len(q.Commits.Pending)+len(q.Commits.Dispatched))
	for _, id := range q.Commits.Pending {
		commitRows = append(commitRows, table.Row{shortCommit(id), "pending", "-"})
	}
	for _, d := range q.Commits.Dispatched {
		commitRows = append(commitRows, table.Row{shortCommit(d.CommitID), "dispatched", d.Runner.Addr()})
	}
	m.commits.SetRows(commitRows)
}

func renderTable(title string, t table.Model, empty string, theme Theme, width int) string {
	body := t.View()
	if len(t.Rows()) == 0 {
		body = theme.Muted.Render("  " + empty)
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Heading.Render(fmt.Sprintf("%s (%d)", title, len(t.Rows()))),
		body,
	)
	return theme.Frame.Width(width - 4).Render(content)
}
