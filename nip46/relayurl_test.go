//go:build test

package nip46

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeRelayURL(t *testing.T) {
	safe := []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.example.com:8443/path",
		"wss://8.8.8.8",
	}
	for _, u := range safe {
		require.NoError(t, SafeRelayURL(u), u)
	}

	unsafe := []string{
		"ws://relay.damus.io",              // plaintext scheme
		"https://relay.damus.io",           // not a websocket URL
		"wss://localhost",                  // loopback name
		"wss://foo.localhost",              // loopback subdomain
		"wss://127.0.0.1:7777",             // loopback IPv4
		"wss://127.8.9.10",                 // whole 127/8 block
		"wss://0.0.0.0",                    // unspecified
		"wss://10.1.2.3",                   // RFC1918
		"wss://172.16.0.1",                 // RFC1918
		"wss://172.31.255.255",             // RFC1918 upper bound
		"wss://192.168.1.1",                // RFC1918
		"wss://169.254.169.254",            // link-local / cloud metadata
		"wss://[::1]",                      // loopback IPv6
		"wss://[fe80::1]",                  // link-local IPv6
		"wss://[fd12:3456:789a::1]",        // unique-local IPv6
		"wss://[fc00::1]",                  // unique-local IPv6
		"wss://[::ffff:127.0.0.1]",         // IPv4-mapped loopback
		"wss://[::ffff:192.168.0.1]:4848",  // IPv4-mapped private
		"wss://",                           // no host
		"://bad",                           // unparseable
	}
	for _, u := range unsafe {
		require.ErrorIs(t, SafeRelayURL(u), ErrUnsafeRelayURL, u)
	}
}

func TestFilterSafeRelays(t *testing.T) {
	in := []string{
		"wss://relay.damus.io",
		"wss://169.254.169.254",
		"wss://nos.lol",
		"ws://insecure.example",
	}
	require.Equal(t, []string{"wss://relay.damus.io", "wss://nos.lol"}, FilterSafeRelays(in))

	require.Empty(t, FilterSafeRelays([]string{"wss://localhost"}))
	require.Empty(t, FilterSafeRelays(nil))
}
