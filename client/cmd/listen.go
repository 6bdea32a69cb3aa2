package cmd

import (
	"github.com/julienstroheker/relaycat/client/session"
	"github.com/spf13/cobra"
)

func newListenCommand(a *app) *cobra.Command {
	listenCmd := &cobra.Command{
		Use:   "listen [flags] [host] <port> | <address>",
		Short: "Wait for one peer and relay standard input and output",
		Long: `Wait for one peer and relay standard input and output.

Only the first peer is served. In hc mode the process registers as the listener
of the hybrid connection and no address is given.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRelay(cmd, session.ActionListen, args)
		},
	}
	a.flags.register(listenCmd)
	return listenCmd
}
