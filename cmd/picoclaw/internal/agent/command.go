package agent

import (
	"github.com/spf13/cobra"
)

func NewAgentCommand() *cobra.Command {
	var message string
	var sessionKey string
	var model string
	var debug bool

	cmd := &cobra.Command{
		Use:     "agent",
		Aliases: []string{"a"},
		Short:   "Run picoclaw in direct CLI mode",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return agentCmd(message, sessionKey, model, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Send a single message and exit (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "Session key (defaults to cli:default)")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
