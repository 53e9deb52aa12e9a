package nip46

import (
	"errors"
	"net/url"
	"strings"
)

// BunkerPointer is the parsed form of a server-issued bunker:// pairing URI.
type BunkerPointer struct {
	// PubKey is the signer (custodied key) public key.
	PubKey string

	// Relays are the relay endpoints the client should use to reach the signer.
	Relays []string

	// Secret is the one-time pairing token, if present.
	Secret string
}

// NostrConnectParams is the parsed form of a client-issued nostrconnect://
// pairing URI.
type NostrConnectParams struct {
	// ClientPubKey is the remote client's public key.
	ClientPubKey string

	Relays []string
	Secret string

	// Perms is the raw comma-separated permission list requested by the client.
	Perms string

	// Name is the client application's display name.
	Name string

	// URL and Image are optional client application metadata.
	URL   string
	Image string
}

var (
	// ErrInvalidURI indicates an unparseable or wrong-scheme pairing URI.
	ErrInvalidURI = errors.New("invalid pairing URI")
)

// uriHost extracts the pubkey component from a bunker:// or nostrconnect://
// URI. Some clients render the pubkey as the host, others as a path after
// the double slash.
func uriHost(u *url.URL) string {
	if u.Host != "" {
		return u.Host
	}
	return strings.TrimPrefix(u.Path, "//")
}

// ParseBunkerURI parses a bunker://<signer-pubkey>?relay=...&secret=... URI.
func ParseBunkerURI(uri string) (*BunkerPointer, error) {
	if !strings.HasPrefix(uri, "bunker://") {
		return nil, ErrInvalidURI
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, ErrInvalidURI
	}

	pubkey := uriHost(u)
	if !IsValidPubKey(pubkey) {
		return nil, ErrInvalidURI
	}

	q := u.Query()
	return &BunkerPointer{
		PubKey: pubkey,
		Relays: q["relay"],
		Secret: q.Get("secret"),
	}, nil
}

// ParseNostrConnectURI parses a client-issued
// nostrconnect://<client-pubkey>?relay=...&secret=...&perms=...&name=... URI.
func ParseNostrConnectURI(uri string) (*NostrConnectParams, error) {
	if !strings.HasPrefix(uri, "nostrconnect://") {
		return nil, ErrInvalidURI
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, ErrInvalidURI
	}

	pubkey := uriHost(u)
	if !IsValidPubKey(pubkey) {
		return nil, ErrInvalidURI
	}

	q := u.Query()
	return &NostrConnectParams{
		ClientPubKey: pubkey,
		Relays:       q["relay"],
		Secret:       q.Get("secret"),
		Perms:        q.Get("perms"),
		Name:         q.Get("name"),
		URL:          q.Get("url"),
		Image:        q.Get("image"),
	}, nil
}

// BuildBunkerURI renders a bunker:// pairing URI for a custodied key.
func BuildBunkerURI(signerPubkey string, relays []string, secret string) string {
	params := url.Values{}
	for _, r := range relays {
		params.Add("relay", r)
	}
	if secret != "" {
		params.Set("secret", secret)
	}
	return "bunker://" + signerPubkey + "?" + params.Encode()
}

// BuildNostrConnectURI renders a nostrconnect:// pairing URI.
func BuildNostrConnectURI(p NostrConnectParams) string {
	params := url.Values{}
	for _, r := range p.Relays {
		params.Add("relay", r)
	}
	params.Set("secret", p.Secret)
	if p.Perms != "" {
		params.Set("perms", p.Perms)
	}
	if p.Name != "" {
		params.Set("name", p.Name)
	}
	if p.URL != "" {
		params.Set("url", p.URL)
	}
	if p.Image != "" {
		params.Set("image", p.Image)
	}
	return "nostrconnect://" + p.ClientPubKey + "?" + params.Encode()
}
