package cli

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/aarii/internal/guard"
	"github.com/spf13/cobra"
)

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage the system prompt of a session",
}

var personaSetCmd = &cobra.Command{
	Use:   "set [prompt]",
	Short: "Set the session's system prompt; an empty prompt restores the default",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		// Persona storage needs no provider.
		orch := a.conversation(nil)
		prompt := strings.Join(args, " ")
		if err := orch.SetPersona(cmd.Context(), sessionID, prompt); err != nil {
			return err
		}
		session := guard.NormalizeSession(sessionID)
		if strings.TrimSpace(prompt) == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Persona cleared for session %s\n", session)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Persona saved for session %s\n", session)
		}
		return nil
	},
}

var personaGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the session's system prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openStore(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		persona, err := a.conversation(nil).Persona(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		if persona == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "(default) %s\n", a.Config.SystemPrompt)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), persona)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(personaCmd)
	personaCmd.AddCommand(personaSetCmd, personaGetCmd)
}
