package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskflow/taskflow/internal/app"
	tfsync "github.com/taskflow/taskflow/internal/sync"
	"github.com/taskflow/taskflow/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Publish queued tasks and pull the cloud copy",
	Long: `Run one sync attempt:
  1. Publish every task saved locally since the last sync
  2. Fetch the local and cloud task lists
  3. Push tasks only present locally, pull tasks only present remotely
  4. For tasks present in both, keep the copy with the later creation time

Automatic syncs are limited to one every sync.min_interval; --force skips
that limit.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		a, ctx, done := openApp()
		defer done()
		report := a.Sync(ctx, force)
		fmt.Println(ui.RenderReport(report))
		if report.Outcome == tfsync.OutcomeSynced {
			fmt.Printf("   Published: %d\n", report.Published)
			fmt.Printf("   Pulled: %d\n", report.Pulled)
			if report.Failed > 0 {
				fmt.Printf("   Failed: %d (will retry)\n", report.Failed)
			}
			fmt.Printf("   Took: %v\n", report.Duration.Round(time.Millisecond))
		}
		if report.Outcome == tfsync.OutcomeFailed {
			done()
			fatalf("sync failed: %v", report.Err)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show account, store and connectivity status",
	Run: func(cmd *cobra.Command, args []string) {
		a, ctx, done := openApp()
		defer done()
		st, err := a.Status(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		account := ui.RenderWarn("not logged in")
		if st.Session.SignedIn() {
			account = ui.RenderPass(st.Session.UID)
			if st.Session.Email != "" {
				account += " <" + st.Session.Email + ">"
			}
		}
		network := ui.RenderPass("online")
		if !st.Online {
			network = ui.RenderWarn("offline")
		}

		fmt.Printf("\n%s taskflow status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Account:  %s\n", account)
		fmt.Printf("Network:  %s (%s)\n", network, st.Network)
		fmt.Printf("Remote:   %s\n", st.Backend)
		fmt.Printf("Tasks:    %d\n", st.Total)
		fmt.Printf("Pending:  %d\n", st.Pending)
		fmt.Printf("Database: %s\n", st.Database)
		fmt.Println()
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync in the foreground until interrupted",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Run a forced sync on start
  2. Sync when connectivity returns
  3. Sync shortly after another taskflow command saves a task
  4. Run a forced sync every sync.resume_interval

With --dashboard it also serves live status over WebSocket (ws://host:port/ws),
a health check (/health) and Prometheus metrics (/metrics) on localhost.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")

		a, ctx, done := openApp()
		defer done()

		fmt.Printf("%s Starting taskflow daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Database: %s\n", a.Config().Local.Path)
		fmt.Printf("   Remote: %s\n", a.Config().Remote.Backend)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		err := a.RunDaemon(ctx, app.DaemonOptions{
			Dashboard: withDashboard,
			Port:      port,
			Started: func(addr string) {
				fmt.Printf("Dashboard: http://%s\n", addr)
				fmt.Printf("WebSocket endpoint: ws://%s/ws\n\n", addr)
			},
		})
		if err != nil {
			done()
			fatalf("daemon stopped with error: %v", err)
		}
		fmt.Println("Daemon stopped")
	},
}

func init() {
	syncCmd.Flags().BoolP("force", "f", false, "Ignore the minimum interval between syncs")
	daemonCmd.Flags().Bool("dashboard", false, "Serve the status dashboard")
	daemonCmd.Flags().IntP("port", "p", 0, "Dashboard port (default dashboard.port)")

	rootCmd.AddCommand(syncCmd, statusCmd, daemonCmd)
}
