package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsbaars/bunker46/nip46"
)

const flagAPIAddr = "api"

// URICmd returns the pairing-URI command group. Issue and connect talk to
// a running daemon's admin API; parse works offline.
func URICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uri",
		Short: "Work with NIP-46 pairing URIs",
	}
	cmd.PersistentFlags().String(flagAPIAddr, "http://127.0.0.1:9090", "Admin API base URL of a running daemon")

	cmd.AddCommand(uriIssueCmd())
	cmd.AddCommand(uriConnectCmd())
	cmd.AddCommand(uriParseCmd())
	return cmd
}

func uriIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue <key-id>",
		Short: "Issue a bunker:// pairing URI for a custodied key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			var out struct {
				URI    string `json:"uri"`
				Secret string `json:"secret"`
			}
			err := callAdminAPI(cmd, "/api/uri/issue", map[string]string{
				"key_id": args[0],
				"name":   name,
			}, &out)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.URI)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Display name for the connection this URI will create")
	return cmd
}

func uriConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <key-id> <nostrconnect-uri>",
		Short: "Pair a client from its nostrconnect:// URI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Status string `json:"status"`
			}
			err := callAdminAPI(cmd, "/api/uri/connect", map[string]string{
				"key_id": args[0],
				"uri":    args[1],
			}, &out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connection %s (%s) is %s\n", out.ID, out.Name, out.Status)
			return nil
		},
	}
}

func uriParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <uri>",
		Short: "Parse a bunker:// or nostrconnect:// URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := args[0]
			out := cmd.OutOrStdout()
			switch {
			case strings.HasPrefix(uri, "bunker://"):
				p, err := nip46.ParseBunkerURI(uri)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "type:    bunker\nsigner:  %s\nsecret:  %s\n", p.PubKey, p.Secret)
				for _, r := range p.Relays {
					fmt.Fprintf(out, "relay:   %s\n", r)
				}
			case strings.HasPrefix(uri, "nostrconnect://"):
				p, err := nip46.ParseNostrConnectURI(uri)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "type:    nostrconnect\nclient:  %s\nsecret:  %s\nname:    %s\nperms:   %s\n",
					p.ClientPubKey, p.Secret, p.Name, p.Perms)
				for _, r := range p.Relays {
					fmt.Fprintf(out, "relay:   %s\n", r)
				}
			default:
				return nip46.ErrInvalidURI
			}
			return nil
		},
	}
}

func callAdminAPI(cmd *cobra.Command, path string, body map[string]string, out interface{}) error {
	base, _ := cmd.Flags().GetString(flagAPIAddr)
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(strings.TrimRight(base, "/")+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("reaching daemon at %s: %w", base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.Unmarshal(raw, out)
}
