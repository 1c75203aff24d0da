package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/felixgeelhaar/aarii/internal/conversation"
	"github.com/felixgeelhaar/aarii/internal/ui/tui"
	"github.com/spf13/cobra"
)

var interactive bool

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd.ErrOrStderr(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.Orchestrator(ctx)
		if err != nil {
			return err
		}
		reply, err := orch.Respond(ctx, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printReply(cmd.OutOrStdout(), cmd.ErrOrStderr(), reply)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal, one message per line",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cmd.ErrOrStderr(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.Orchestrator(ctx)
		if err != nil {
			return err
		}

		if interactive {
			return tui.Run(ctx, orch, sessionID, func(t *tui.TUI) { orch.SetUI(t) })
		}
		return repl(ctx, orch, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// repl answers each input line until EOF or /quit.
func repl(ctx context.Context, orch *conversation.Orchestrator, in io.Reader, out, errOut io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprintf(out, "Chatting in session %q. Type /quit to leave.\n", sessionID)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply, err := orch.Respond(ctx, sessionID, line)
		if err != nil {
			// Invalid input or an exhausted budget; the session goes on.
			fmt.Fprintln(errOut, "Error:", err)
			continue
		}
		fmt.Fprint(out, "aarii> ")
		if err := printReply(out, errOut, reply); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func printReply(out, errOut io.Writer, reply *conversation.Reply) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Fprintln(out, reply.Text)
	for _, w := range reply.Warnings {
		fmt.Fprintln(errOut, "warning:", w)
	}
	return nil
}

func init() {
	RootCmd.AddCommand(askCmd)
	RootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start interactive TUI")
}
