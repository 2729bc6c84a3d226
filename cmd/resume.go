package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/martinemde/autopr/agent"
)

var resumeBranch string

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Publish a run that paused for verification",
	Long: `resume pushes the branch of a paused session and opens its pull
request. The session must still be registered; idle sessions are evicted
after the configured timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := newOrchestrator()
		if err != nil {
			return err
		}
		return streamEvents(cmd.Context(), func(ctx context.Context) <-chan agent.Event {
			return orch.Resume(ctx, args[0], resumeBranch)
		})
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeBranch, "branch", "", "Override the branch recorded in the session")
	rootCmd.AddCommand(resumeCmd)
}
