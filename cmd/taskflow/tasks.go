package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	tfsync "github.com/taskflow/taskflow/internal/sync"
	"github.com/taskflow/taskflow/internal/task"
	"github.com/taskflow/taskflow/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add [title]",
	GroupID: "tasks",
	Short:   "Add a task",
	Long: `Add a task and publish it when online.

Missing fields get defaults: description "No description", location
"Google Classroom", due now, priority medium.

Examples:
  taskflow add "Submit lab report" --due "friday 5pm" --priority high
  taskflow add "Read chapter 4" --due 31-10-2026 --remind 2h
  taskflow add -i`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		in := taskInputFromFlags(cmd)
		if len(args) == 1 {
			in.Title = args[0]
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := ui.PromptTask(cmd.Context(), &in); err != nil {
				fatalf("%v", err)
			}
		}
		if strings.TrimSpace(in.Title) == "" {
			fatalf("a title is required (pass it as an argument or use -i)")
		}

		t := task.New("", time.Now())
		if err := in.Apply(t, time.Now()); err != nil {
			fatalf("%v", err)
		}

		a, ctx, done := openApp()
		defer done()
		report, err := a.AddTask(ctx, t)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Added task #%d: %s\n", ui.RenderPass("✓"), t.ID, t.Title)
		printSaveReport(report)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "tasks",
	Short:   "List tasks ordered by deadline",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")

		a, ctx, done := openApp()
		defer done()
		tasks, err := a.Tasks(ctx, all)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.RenderTasks(tasks, time.Now()))
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "tasks",
	Short:   "Show one task",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, ctx, done := openApp()
		defer done()
		t, err := a.Task(ctx, parseID(args[0]))
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Print(ui.RenderTask(t, time.Now()))
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Edit a task",
	Long: `Change the fields given as flags, or every field with -i.

Use --remind off to clear a reminder.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := parseID(args[0])
		a, ctx, done := openApp()
		defer done()

		t, err := a.Task(ctx, id)
		if err != nil {
			fatalf("%v", err)
		}

		in := taskInputFromFlags(cmd)
		if title, _ := cmd.Flags().GetString("title"); title != "" {
			in.Title = title
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			in = ui.InputFromTask(t)
			if err := ui.PromptTask(ctx, &in); err != nil {
				fatalf("%v", err)
			}
		}
		if err := in.Apply(t, time.Now()); err != nil {
			fatalf("%v", err)
		}

		report, err := a.UpdateTask(ctx, t)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Updated task #%d\n", ui.RenderPass("✓"), t.ID)
		printSaveReport(report)
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "tasks",
	Short:   "Toggle a task's completion",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, ctx, done := openApp()
		defer done()
		t, report, err := a.ToggleComplete(ctx, parseID(args[0]))
		if err != nil {
			fatalf("%v", err)
		}
		state := "reopened"
		if t.IsCompleted {
			state = "completed"
		}
		fmt.Printf("%s Task #%d %s\n", ui.RenderPass("✓"), t.ID, state)
		printSaveReport(report)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	GroupID: "tasks",
	Short:   "Delete a task locally and from the cloud copy",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, ctx, done := openApp()
		defer done()
		id := parseID(args[0])
		if err := a.DeleteTask(ctx, id); err != nil {
			if errors.Is(err, task.ErrNotFound) {
				fatalf("task #%d not found", id)
			}
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted task #%d\n", ui.RenderPass("✓"), id)
	},
}

func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("description", "d", "", "Task description")
	cmd.Flags().StringP("location", "l", "", "Where the task is done or submitted")
	cmd.Flags().String("due", "", `Deadline, "DD-MM-YYYY HH:mm" or natural language ("tomorrow 5pm")`)
	cmd.Flags().StringP("priority", "p", "", "high, medium or low")
	cmd.Flags().String("remind", "", `Reminder offset before the deadline ("30m", "2h")`)
	cmd.Flags().BoolP("interactive", "i", false, "Fill in the task with a form")
}

func taskInputFromFlags(cmd *cobra.Command) ui.TaskInput {
	var in ui.TaskInput
	in.Description, _ = cmd.Flags().GetString("description")
	in.Location, _ = cmd.Flags().GetString("location")
	in.Due, _ = cmd.Flags().GetString("due")
	in.Priority, _ = cmd.Flags().GetString("priority")
	in.Remind, _ = cmd.Flags().GetString("remind")
	return in
}

// printSaveReport explains what happened to the save on the remote side.
// An in-flight or rate-limited sync leaves the task queued for the next one.
func printSaveReport(r tfsync.Report) {
	if r.Outcome == tfsync.OutcomeSkipped && (r.Skip == tfsync.SkipTooSoon || r.Skip == tfsync.SkipInFlight) {
		fmt.Println(ui.RenderMuted("  queued for the next sync"))
		return
	}
	fmt.Println("  " + ui.RenderReport(r))
}

func init() {
	addTaskFlags(addCmd)
	addTaskFlags(editCmd)
	editCmd.Flags().StringP("title", "t", "", "New title")
	listCmd.Flags().BoolP("all", "a", false, "Include completed tasks")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, editCmd, doneCmd, rmCmd)
}
