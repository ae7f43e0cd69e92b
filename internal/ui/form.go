package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/taskflow/taskflow/internal/task"
)

// TaskInput holds the editable fields of a task as the user typed them.
type TaskInput struct {
	Title       string
	Description string
	Location    string
	// Due is a stored-format or natural-language deadline.
	Due      string
	Priority string
	// Remind is a duration before the deadline ("30m", "2h"). "off" clears
	// the reminder.
	Remind string
}

// InputFromTask prefills a TaskInput for editing t.
func InputFromTask(t *task.Task) TaskInput {
	in := TaskInput{
		Title:       t.Title,
		Description: t.Description,
		Location:    t.Location,
		Due:         t.DueDate + " " + t.DueTime,
		Priority:    string(t.Priority),
	}
	if t.ReminderSet {
		if d, err := t.Deadline(nil); err == nil {
			in.Remind = d.Sub(time.UnixMilli(t.ReminderTime)).String()
		}
	}
	return in
}

// Apply parses the input into t. Empty fields leave t unchanged, so the
// same input serves new tasks (after task.New) and edits.
func (in TaskInput) Apply(t *task.Task, now time.Time) error {
	if s := strings.TrimSpace(in.Title); s != "" {
		t.Title = s
	}
	if in.Description != "" {
		t.Description = in.Description
	}
	if in.Location != "" {
		t.Location = in.Location
	}
	if strings.TrimSpace(in.Due) != "" {
		date, clock, err := task.ParseDue(in.Due, now)
		if err != nil {
			return err
		}
		t.DueDate, t.DueTime = date, clock
	}
	if in.Priority != "" {
		p, err := task.ParsePriority(in.Priority)
		if err != nil {
			return err
		}
		t.Priority = p
	}

	switch remind := strings.TrimSpace(in.Remind); remind {
	case "":
	case "off", "none":
		t.ClearReminder()
	default:
		offset, err := time.ParseDuration(remind)
		if err != nil {
			return fmt.Errorf("invalid reminder offset %q: %w", remind, err)
		}
		if err := t.ScheduleReminder(offset, now.Location()); err != nil {
			return err
		}
	}
	return t.Validate()
}

// EditTaskForm builds the interactive form bound to in.
func EditTaskForm(in *TaskInput) *huh.Form {
	if in.Priority == "" {
		in.Priority = string(task.PriorityMedium)
	}
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&in.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return task.ErrMissingTitle
					}
					return nil
				}),
			huh.NewText().
				Title("Description").
				Placeholder(task.DefaultDescription).
				Value(&in.Description),
			huh.NewInput().
				Title("Location").
				Placeholder(task.DefaultLocation).
				Value(&in.Location),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Due").
				Description("DD-MM-YYYY HH:mm, or e.g. \"tomorrow 5pm\"").
				Value(&in.Due).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					_, _, err := task.ParseDue(s, time.Now())
					return err
				}),
			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("High", string(task.PriorityHigh)),
					huh.NewOption("Medium", string(task.PriorityMedium)),
					huh.NewOption("Low", string(task.PriorityLow)),
				).
				Value(&in.Priority),
			huh.NewInput().
				Title("Reminder").
				Description("how long before the deadline, e.g. 30m; empty for none").
				Value(&in.Remind),
		),
	)
}

// PromptTask runs the form on the terminal.
func PromptTask(ctx context.Context, in *TaskInput) error {
	if !IsInteractive() {
		return fmt.Errorf("interactive mode requires a terminal")
	}
	return EditTaskForm(in).RunWithContext(ctx)
}
