package cmd

import (
	"github.com/julienstroheker/relaycat/client/session"
	"github.com/spf13/cobra"
)

func newConnectCommand(a *app) *cobra.Command {
	connectCmd := &cobra.Command{
		Use:   "connect [flags] <host> <port> | <address>",
		Short: "Connect to a peer and relay standard input and output",
		Long: `Connect to a peer and relay standard input and output.

In ws mode the address may be a ws:// or wss:// URL. In hc mode the peer is the
listener of the hybrid connection and no address is given.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRelay(cmd, session.ActionConnect, args)
		},
	}
	a.flags.register(connectCmd)
	return connectCmd
}
