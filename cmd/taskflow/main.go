// Command taskflow manages a personal task list that works offline and
// syncs with a per-account cloud copy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskflow/taskflow/internal/app"
	"github.com/taskflow/taskflow/internal/config"
	"github.com/taskflow/taskflow/internal/task"
	"github.com/taskflow/taskflow/internal/ui"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskflow",
	Short: "Offline-first task list with cloud sync",
	Long: `taskflow keeps your tasks in a local database and publishes every change
to your account's cloud copy whenever the network allows.

Tasks saved offline are queued and published by the next sync, from this
process, a later command or the background daemon.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		fmt.Sprintf("config file (default %s)", config.DefaultPath()))

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// fatalf prints an error and exits, the way every command reports failure.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig reads --config or the default file.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

// openApp opens the configured data directory. The returned context is
// canceled on SIGINT or SIGTERM.
func openApp() (*app.App, context.Context, func()) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a, err := app.Open(ctx, loadConfig(), app.Options{})
	if err != nil {
		stop()
		fatalf("%v", err)
	}
	return a, ctx, func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		stop()
	}
}

// parseID accepts "12" or a remote document key such as "task_12".
func parseID(s string) int64 {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil && id > 0 {
		return id
	}
	id, err := task.ParseDocKey(s)
	if err != nil {
		fatalf("invalid task id %q", s)
	}
	return id
}
