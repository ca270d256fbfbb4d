package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/draftfoundry/foundry/internal/printer"
)

var (
	createHints         map[string]string
	createWatch         bool
	createMaxIterations int
)

var createCmd = &cobra.Command{
	Use:   "create <request...>",
	Short: "Start a new drafting session",
	Long: `Start a new drafting session for the given request text.

The daemon runs the pipeline asynchronously: the generator drafts, the
reviewers critique, and the session stops at the human gate. Use
'foundry state' to inspect progress, or pass --watch to follow the
session's event stream until it reaches the gate.

Examples:
  foundry create "a 5-minute grounding exercise for panic attacks"
  foundry create --hint audience=teens --watch "a sleep hygiene plan"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringToStringVar(&createHints, "hint", nil, "Request hint as key=value (repeatable)")
	createCmd.Flags().BoolVar(&createWatch, "watch", false, "Follow the session's event stream")
	createCmd.Flags().IntVar(&createMaxIterations, "max-iterations", 0, "Override the daemon's iteration bound for this session")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := newClient()

	request := strings.Join(args, " ")
	info, err := client.createSession(ctx, request, createHints, createMaxIterations)
	if err != nil {
		return printer.Error(
			"Failed to create session",
			err.Error(),
			[]string{"Check that foundryd is running and reachable at " + serverURL},
		)
	}

	printer.Success("Session created: %s\n", info.SessionID)

	if !createWatch {
		printer.Info("Follow it with: foundry watch %s\n", info.SessionID)
		return nil
	}
	fmt.Println()
	return followSession(ctx, client, info.SessionID)
}
