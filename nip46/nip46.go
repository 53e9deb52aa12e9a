// Package nip46 defines the wire types of the NIP-46 remote-signing
// protocol: RPC requests/responses, the closed method set, permission
// descriptors, pairing URIs and the relay-URL safety policy.
package nip46

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// KindNIP46 is the nostr event kind carrying NIP-46 RPC payloads.
const KindNIP46 = 24133

// Method is a NIP-46 RPC method. The set is closed: anything outside the
// nine methods below is rejected during request validation.
type Method string

const (
	MethodConnect      Method = "connect"
	MethodSignEvent    Method = "sign_event"
	MethodPing         Method = "ping"
	MethodGetPublicKey Method = "get_public_key"
	MethodNIP04Encrypt Method = "nip04_encrypt"
	MethodNIP04Decrypt Method = "nip04_decrypt"
	MethodNIP44Encrypt Method = "nip44_encrypt"
	MethodNIP44Decrypt Method = "nip44_decrypt"
	MethodSwitchRelays Method = "switch_relays"
)

// Methods lists every supported method. Dispatch tables are checked for
// totality against this slice in tests.
var Methods = []Method{
	MethodConnect,
	MethodSignEvent,
	MethodPing,
	MethodGetPublicKey,
	MethodNIP04Encrypt,
	MethodNIP04Decrypt,
	MethodNIP44Encrypt,
	MethodNIP44Decrypt,
	MethodSwitchRelays,
}

var (
	// ErrUnknownMethod indicates a method outside the closed NIP-46 set.
	ErrUnknownMethod = errors.New("unknown NIP-46 method")

	// ErrInvalidRequest indicates a payload that does not match the
	// request schema.
	ErrInvalidRequest = errors.New("invalid NIP-46 request")
)

// ParseMethod validates a method string against the closed set.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Request is a decrypted NIP-46 RPC request.
type Request struct {
	// ID is the client-chosen correlation id, echoed back in the response.
	ID string `json:"id"`

	// Method is one of the nine supported methods.
	Method Method `json:"method"`

	// Params is the ordered parameter list. Meaning depends on Method.
	Params []string `json:"params"`
}

// Response is a NIP-46 RPC response. The wire schema allows both fields
// but the engine only ever populates one of Result/Error.
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ParseRequest parses and validates a decrypted payload against the
// request schema. The method must be in the closed set. Any string id is
// accepted, including the empty string; clients with sloppy id handling
// still get their answer.
func ParseRequest(payload []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := ParseMethod(string(req.Method)); err != nil {
		return nil, err
	}
	if req.Params == nil {
		req.Params = []string{}
	}
	return &req, nil
}

// Param returns the i-th parameter or "" if absent. NIP-46 clients are
// inconsistent about trailing parameters, so missing entries are treated
// as empty rather than as schema violations.
func (r *Request) Param(i int) string {
	if i < 0 || i >= len(r.Params) {
		return ""
	}
	return r.Params[i]
}

var pubkeyHexRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsValidPubKey reports whether s is a valid nostr public key:
// exactly 64 lowercase hex characters.
func IsValidPubKey(s string) bool {
	return pubkeyHexRe.MatchString(s)
}
