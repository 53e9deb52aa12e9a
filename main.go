package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dsbaars/bunker46/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bunker46",
		Short: "NIP-46 remote-signing daemon",
		Long: `bunker46 is a NIP-46 ("bunker") remote-signing daemon.

It custodies nostr private keys server-side, listens on relays for
encrypted signing requests from paired client applications and answers
them under per-connection permissions. Connection state and audit
history live in Redis; keys live as encrypted files on disk.`,
	}

	rootCmd.AddCommand(cmd.ServeCmd())
	rootCmd.AddCommand(cmd.KeysCmd())
	rootCmd.AddCommand(cmd.URICmd())
	rootCmd.AddCommand(cmd.VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
