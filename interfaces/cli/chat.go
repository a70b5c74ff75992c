package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbpilot/dbpilot/application"
	"github.com/dbpilot/dbpilot/domain/event"
)

func newChatCommand(app func() *App) *cobra.Command {
	var sessionID int64
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := app()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			servers, err := a.Store.ListServers(ctx)
			if err != nil {
				return err
			}
			for _, s := range servers {
				if s.Enabled {
					a.Bridge.AddServer(ctx, s)
				}
			}

			if sessionID == 0 {
				id, err := a.Store.CreateSession(ctx, "cli session", 0, 0)
				if err != nil {
					return err
				}
				sessionID = id
				fmt.Fprintf(out, "started session %d\n", sessionID)
			}

			orch, err := a.Cache.GetOrCreate(ctx, sessionID)
			if err != nil {
				return err
			}
			if autoApprove {
				orch.SetAutoApprove(true)
				if err := a.Store.SetSessionAutoApprove(ctx, sessionID, true); err != nil {
					return err
				}
				fmt.Fprintln(out, "auto-approve is ON: mutating statements execute without confirmation")
			}

			stop := make(chan struct{})
			defer close(stop)
			startCleanupLoop(a.Cache, stop)

			fmt.Fprintln(out, `type a message, or /help for commands`)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if strings.HasPrefix(line, "/") {
					if quit := runSlashCommand(ctx, out, a, orch, line); quit {
						return nil
					}
					continue
				}

				if _, err := orch.Chat(ctx, line, printEvents(out)); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().Int64Var(&sessionID, "session", 0, "resume an existing session by ID")
	cmd.Flags().BoolVar(&autoApprove, "auto", false, "execute mutating statements without confirmation")
	return cmd
}

// printEvents renders stream events for the terminal.
func printEvents(out io.Writer) event.Sink {
	return func(e event.Event) {
		switch e.Type {
		case event.TypeTextDelta:
			if p, ok := e.Payload.(event.TextDeltaPayload); ok {
				fmt.Fprintln(out, p.Content)
			}
		case event.TypeToolCall:
			if p, ok := e.Payload.(event.ToolCallPayload); ok {
				fmt.Fprintf(out, "  [tool] %s\n", p.Name)
			}
		case event.TypeToolResult:
			if p, ok := e.Payload.(event.ToolResultPayload); ok {
				fmt.Fprintf(out, "  [%s] %s: %s\n", p.Status, p.Name, p.Summary)
			}
		case event.TypePending:
			if p, ok := e.Payload.(event.PendingPayload); ok {
				fmt.Fprintf(out, "  [pending %d] %s\n", p.Index, p.Description)
			}
		case event.TypeError:
			if p, ok := e.Payload.(event.ErrorPayload); ok {
				fmt.Fprintf(out, "  [error] %s\n", p.Message)
			}
		case event.TypeDone:
			if p, ok := e.Payload.(event.DonePayload); ok && p.HasPending {
				fmt.Fprintf(out, "  %d operation(s) awaiting confirmation; /confirm, /confirm all, or /skip\n", p.PendingCount)
			}
		}
	}
}

// runSlashCommand handles REPL commands. Returns true to quit.
func runSlashCommand(ctx context.Context, out io.Writer, a *App, orch *application.Orchestrator, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Fprintln(out, `commands:
  /pending          list operations awaiting confirmation
  /confirm [i|all]  execute a pending operation (default: first)
  /skip             discard all pending operations
  /auto [on|off]    toggle auto-approve
  /quit             leave the chat`)

	case "/pending":
		ops := orch.PendingOperations()
		if len(ops) == 0 {
			fmt.Fprintln(out, "nothing pending")
			break
		}
		for _, op := range ops {
			fmt.Fprintf(out, "  [%d] %s\n", op.Index, op.Description)
		}

	case "/confirm":
		if len(fields) > 1 && fields[1] == "all" {
			results := orch.ConfirmAll(ctx)
			for _, res := range results {
				fmt.Fprintf(out, "  [%s] %s\n", res.Status, res.Summary())
			}
			break
		}
		index := 0
		if len(fields) > 1 {
			var err error
			index, err = strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintf(out, "not an index: %s\n", fields[1])
				break
			}
		}
		res, err := orch.Confirm(ctx, index)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			break
		}
		fmt.Fprintf(out, "  [%s] %s\n", res.Status, res.Summary())

	case "/skip":
		n := orch.ClearPending(ctx)
		fmt.Fprintf(out, "skipped %d operation(s)\n", n)

	case "/auto":
		on := !orch.AutoApprove()
		if len(fields) > 1 {
			on = fields[1] == "on"
		}
		orch.SetAutoApprove(on)
		// Persist so a session rebuilt after cache eviction keeps the mode.
		if err := a.Store.SetSessionAutoApprove(ctx, orch.SessionID(), on); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			break
		}
		fmt.Fprintf(out, "auto-approve: %v\n", on)

	default:
		fmt.Fprintf(out, "unknown command %s (try /help)\n", fields[0])
	}
	return false
}
