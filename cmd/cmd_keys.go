package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/dsbaars/bunker46/config"
	"github.com/dsbaars/bunker46/keys"
	"github.com/dsbaars/bunker46/logging"
)

const (
	flagKeyLabel   = "label"
	flagKeyAccount = "account"
)

// KeysCmd returns the key-management command group.
func KeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage custodied signing keys",
		Long: `Manage the encrypted key files the daemon signs with.

Key files are YAML, one key per file, with the private key encrypted
under the secret from ` + config.EncryptionKeyEnv + `. The daemon hot-reloads
the directory, so keys added here are picked up without a restart.`,
	}

	cmd.PersistentFlags().String(flagKeysDir, "./keys", "Directory holding encrypted key files")

	cmd.AddCommand(keysGenerateCmd())
	cmd.AddCommand(keysImportCmd())
	cmd.AddCommand(keysListCmd())
	return cmd
}

func keysGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <id>",
		Short: "Generate a new key and store it encrypted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeKey(cmd, args[0], nostr.GeneratePrivateKey())
		},
	}
	cmd.Flags().String(flagKeyLabel, "", "Human-readable label")
	cmd.Flags().String(flagKeyAccount, "", "Owning account identifier")
	return cmd
}

func keysImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <id>",
		Short: "Import an existing private key (hex) from stdin",
		Long: `Import an existing private key and store it encrypted.

The key is read from stdin so it never lands in shell history:

  echo "<64-char hex>" | bunker46 keys import my-key`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readSecretLine(cmd)
			if err != nil {
				return err
			}
			return writeKey(cmd, args[0], raw)
		},
	}
	cmd.Flags().String(flagKeyLabel, "", "Human-readable label")
	cmd.Flags().String(flagKeyAccount, "", "Owning account identifier")
	return cmd
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List custodied keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := openProvider(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = provider.Close() }()

			all, err := provider.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPUBLIC KEY\tLABEL\tACCOUNT")
			for _, key := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", key.ID, key.PublicKey, key.Label, key.Account)
			}
			return w.Flush()
		},
	}
}

func writeKey(cmd *cobra.Command, id, privateKeyHex string) error {
	privateKeyHex = strings.TrimSpace(strings.ToLower(privateKeyHex))
	pub, err := keys.DerivePublicKey(privateKeyHex)
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}

	cipher, err := cipherFromEnv()
	if err != nil {
		return err
	}
	encrypted, err := cipher.Encrypt(privateKeyHex)
	if err != nil {
		return fmt.Errorf("encrypting key: %w", err)
	}

	dir, _ := cmd.Flags().GetString(flagKeysDir)
	label, _ := cmd.Flags().GetString(flagKeyLabel)
	account, _ := cmd.Flags().GetString(flagKeyAccount)

	path, err := keys.WriteKeyFile(dir, &keys.CustodiedKey{
		ID:            id,
		PublicKey:     pub,
		EncryptedNsec: encrypted,
		Label:         label,
		Account:       account,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\npublic key: %s\n", path, pub)
	return nil
}

func openProvider(cmd *cobra.Command) (keys.Provider, error) {
	cipher, err := cipherFromEnv()
	if err != nil {
		return nil, err
	}
	dir, _ := cmd.Flags().GetString(flagKeysDir)
	logger := logging.NewLoggerFromConfig(logging.Config{Level: "error", Format: "text"})
	return keys.NewFileProvider(logger, cipher, dir)
}

func cipherFromEnv() (*keys.Cipher, error) {
	secret := os.Getenv(config.EncryptionKeyEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s is not set", config.EncryptionKeyEnv)
	}
	cipher, err := keys.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return cipher, nil
}

func readSecretLine(cmd *cobra.Command) (string, error) {
	var line string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
		return "", fmt.Errorf("reading key from stdin: %w", err)
	}
	return line, nil
}
