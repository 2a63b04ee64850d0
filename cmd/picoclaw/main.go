package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aisopod/aisopod/cmd/picoclaw/internal/agent"
	"github.com/aisopod/aisopod/cmd/picoclaw/internal/gateway"
)

func main() {
	root := &cobra.Command{
		Use:   "picoclaw",
		Short: "picoclaw multi-channel agent runtime",
	}

	root.AddCommand(agent.NewAgentCommand())
	root.AddCommand(gateway.NewGatewayCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
