package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskflow/taskflow/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login <uid>",
	GroupID: "account",
	Short:   "Sign in to an account",
	Long: `Record <uid> as the signed-in account and run a forced sync.

Signing in as a different account than the last one deletes every local task
first, so one account's tasks are never published to another.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		email, _ := cmd.Flags().GetString("email")

		a, ctx, done := openApp()
		defer done()
		wiped, report, err := a.SignIn(ctx, args[0], email)
		if err != nil {
			fatalf("%v", err)
		}
		if wiped {
			fmt.Printf("%s Cleared local tasks of the previous account\n", ui.RenderWarn("⚠"))
		}
		fmt.Printf("%s Logged in as %s\n", ui.RenderPass("✓"), args[0])
		fmt.Println("  " + ui.RenderReport(report))
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "Sign out; local tasks are kept",
	Run: func(cmd *cobra.Command, args []string) {
		a, ctx, done := openApp()
		defer done()
		if err := a.SignOut(ctx); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Print the signed-in account",
	Run: func(cmd *cobra.Command, args []string) {
		a, _, done := openApp()
		defer done()
		s := a.Session()
		if !s.SignedIn() {
			fmt.Println(ui.RenderMuted("Not logged in"))
			return
		}
		fmt.Println(s.UID)
		if s.Email != "" {
			fmt.Printf("Email: %s\n", s.Email)
		}
		fmt.Printf("Since: %s\n", s.SignedInAt.Local().Format("2006-01-02 15:04:05"))
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Account email, for display")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}
