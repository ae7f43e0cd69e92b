package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	tfsync "github.com/taskflow/taskflow/internal/sync"
	"github.com/taskflow/taskflow/internal/task"
)

const maxTitleWidth = 40

// RenderTasks renders tasks as a table in the order given.
func RenderTasks(tasks []*task.Task, now time.Time) string {
	if len(tasks) == 0 {
		return RenderMuted("No tasks")
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			checkbox(t),
			truncate(t.Title, maxTitleWidth),
			t.DueDate + " " + t.DueTime,
			string(t.Priority),
			remaining(t, now),
		})
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(MutedStyle).
		Headers("ID", "", "TITLE", "DUE", "PRIORITY", "REMAINING").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			if row < 0 || row >= len(tasks) {
				return style
			}
			t := tasks[row]
			switch {
			case t.IsCompleted:
				return style.Foreground(ColorMuted)
			case col == 4:
				return style.Foreground(priorityColor(t.Priority))
			case col == 5 && t.IsOverdue(now):
				return style.Foreground(ColorFail)
			case col == 5 && t.IsDueSoon(now):
				return style.Foreground(ColorWarn)
			}
			return style
		})
	return tbl.String()
}

// RenderTask renders one task as a detail block.
func RenderTask(t *task.Task, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", RenderAccent(fmt.Sprintf("#%d", t.ID)), RenderBold(t.Title))
	fmt.Fprintf(&b, "  Description: %s\n", t.Description)
	fmt.Fprintf(&b, "  Location:    %s\n", t.Location)
	fmt.Fprintf(&b, "  Due:         %s %s (%s)\n", t.DueDate, t.DueTime, remaining(t, now))
	fmt.Fprintf(&b, "  Priority:    %s\n", lipgloss.NewStyle().Foreground(priorityColor(t.Priority)).Render(string(t.Priority)))
	status := "open"
	if t.IsCompleted {
		status = "completed"
	}
	fmt.Fprintf(&b, "  Status:      %s\n", status)
	if t.ReminderSet {
		fmt.Fprintf(&b, "  Reminder:    %s\n", time.UnixMilli(t.ReminderTime).In(now.Location()).Format(task.DateLayout+" "+task.TimeLayout))
	}
	return b.String()
}

// RenderReport renders a sync report as a one-line status.
func RenderReport(r tfsync.Report) string {
	msg := r.Message()
	switch {
	case r.Outcome == tfsync.OutcomeFailed:
		if r.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, r.Err)
		}
		return RenderFail("✗ " + msg)
	case r.Outcome == tfsync.OutcomeSkipped:
		return RenderWarn("⚠ " + msg)
	case r.Failed > 0:
		return RenderWarn("⚠ " + msg)
	}
	return RenderPass("✓ " + msg)
}

func checkbox(t *task.Task) string {
	if t.IsCompleted {
		return "✓"
	}
	return " "
}

func remaining(t *task.Task, now time.Time) string {
	if t.IsCompleted {
		return "done"
	}
	return t.TimeRemaining(now)
}

func priorityColor(p task.Priority) lipgloss.TerminalColor {
	switch p {
	case task.PriorityHigh:
		return ColorFail
	case task.PriorityLow:
		return ColorMuted
	}
	return ColorWarn
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
