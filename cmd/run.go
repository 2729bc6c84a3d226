package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/autopr/agent"
)

var runVerify bool

var runCmd = &cobra.Command{
	Use:   "run <repository-url> <prompt>",
	Short: "Run the agent against a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := newOrchestrator()
		if err != nil {
			return err
		}
		return streamEvents(cmd.Context(), func(ctx context.Context) <-chan agent.Event {
			return orch.Run(ctx, agent.Request{
				RepoURL: args[0],
				Prompt:  args[1],
				Verify:  runVerify,
			})
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runVerify, "verify", false, "Pause after committing for human verification")
	rootCmd.AddCommand(runCmd)
}

// streamEvents drains a run's event channel to the terminal, cancelling
// on SIGINT/SIGTERM. A terminal error event becomes the command error.
func streamEvents(parent context.Context, start func(ctx context.Context) <-chan agent.Event) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	events := start(ctx)

	var runErr error
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for ev := range events {
			renderEvent(ev)
			if ev.Type == agent.EventError {
				runErr = fmt.Errorf("%s", ev.Message)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

var (
	phaseColor   = color.New(color.FgCyan, color.Bold)
	toolColor    = color.New(color.FgBlue)
	fileColor    = color.New(color.FgYellow)
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)
)

func renderEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventStart, agent.EventSandboxCreate, agent.EventAnalyze,
		agent.EventPlan, agent.EventImplement, agent.EventPRCreate:
		phaseColor.Printf("==> %s\n", ev.Message)
	case agent.EventProgress:
		if ev.Progress != nil {
			dimColor.Printf("    [%3d%%] %s\n", *ev.Progress, ev.Message)
		} else {
			dimColor.Printf("    %s\n", ev.Message)
		}
	case agent.EventToolCall:
		toolColor.Printf("    tool: %s\n", ev.Message)
	case agent.EventToolError:
		errorColor.Printf("    tool: %s\n", ev.Message)
	case agent.EventFileChange:
		fileColor.Printf("    changed: %s\n", ev.Message)
	case agent.EventPRCreated, agent.EventComplete:
		successColor.Printf("==> %s\n", ev.Message)
	case agent.EventPauseForVerification:
		successColor.Printf("==> %s\n", ev.Message)
		if ev.Payload != nil {
			fmt.Printf("    session: %v\n    branch:  %v\n", ev.Payload["sessionId"], ev.Payload["branchName"])
			fmt.Println("    Inspect the sandbox, then publish with: autopr resume <session>")
		}
	case agent.EventError:
		errorColor.Fprintf(os.Stderr, "==> error: %s\n", ev.Message)
	case agent.EventDebug:
		if verbose {
			dimColor.Printf("    debug: %s\n", ev.Message)
		}
	}
}
