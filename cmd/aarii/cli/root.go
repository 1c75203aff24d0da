package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	verbose      bool
	jsonOutput   bool
	providerName string
	modelName    string
	sessionID    string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "aarii",
	Short: "Conversational assistant with long-term memory",
	Long: `Aarii answers chat messages with a language model and remembers every
turn, recalling the most related memories into the next prompt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ~/.aarii/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	pf.BoolVar(&jsonOutput, "json", false, "JSON logs and output")
	pf.StringVarP(&providerName, "provider", "p", "", "Completion provider (groq, openai, ollama, gemini, anthropic, cli, stub)")
	pf.StringVarP(&modelName, "model", "m", "", "Model name (default depends on provider)")
	pf.StringVarP(&sessionID, "session", "s", "default", "Session id")
}
