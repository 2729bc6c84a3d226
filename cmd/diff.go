package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/martinemde/autopr/agent"
)

var diffStat bool

var diffCmd = &cobra.Command{
	Use:   "diff <session-id>",
	Short: "Show the pending diff of a paused session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, ok := registry.Get(args[0])
		if !ok {
			return fmt.Errorf("session %s not found", args[0])
		}

		diff, err := agent.CurrentDiff(cmd.Context(), session.Sandbox)
		if err != nil {
			return err
		}

		if diffStat {
			for _, fd := range agent.ParseDiff(diff) {
				fmt.Printf("%-10s %s\n", fd.Status, fd.Path)
			}
			return nil
		}

		renderDiff(diff)
		return nil
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffStat, "stat", false, "List changed files instead of the full diff")
	rootCmd.AddCommand(diffCmd)
}

var (
	addColor = color.New(color.FgGreen)
	delColor = color.New(color.FgRed)
	hdrColor = color.New(color.FgCyan)
)

func renderDiff(diff string) {
	for _, fd := range agent.ParseDiff(diff) {
		hdrColor.Printf("%s (%s)\n", fd.Path, fd.Status)
		for _, line := range splitLines(fd.Hunk) {
			switch {
			case len(line) > 0 && line[0] == '+':
				addColor.Println(line)
			case len(line) > 0 && line[0] == '-':
				delColor.Println(line)
			default:
				fmt.Println(line)
			}
		}
	}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
