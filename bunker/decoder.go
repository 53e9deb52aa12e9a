package bunker

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
)

const (
	schemeNIP44 = "nip44"
	schemeNIP04 = "nip04"
)

// decryptScheme is one entry in the ordered inbound decrypt chain.
type decryptScheme struct {
	name    string
	decrypt func(secretKey, peerPubKey, ciphertext string) (string, error)
}

// Inbound content is tried against NIP-44 first, then NIP-04 for older
// clients. Outbound responses are always NIP-44; the fallback exists only
// on the receive path.
var decryptSchemes = []decryptScheme{
	{name: schemeNIP44, decrypt: nip44DecryptContent},
	{name: schemeNIP04, decrypt: nip04DecryptContent},
}

// Decoder turns raw kind-24133 events into validated RPC requests.
type Decoder struct {
	logger logging.Logger
}

func NewDecoder(logger logging.Logger) *Decoder {
	return &Decoder{logger: logging.ForComponent(logger, logging.ComponentDecoder)}
}

// Decode decrypts the event content with the scheme chain and parses the
// plaintext as an RPC request. Events that fail every scheme, or that
// decrypt to something other than a valid request, are reported as errors;
// callers drop them without responding, since there is no request id to
// correlate a response to.
func (d *Decoder) Decode(ev *nostr.Event, secretKey string) (*nip46.Request, string, error) {
	var lastErr error
	for _, scheme := range decryptSchemes {
		plaintext, err := scheme.decrypt(secretKey, ev.PubKey, ev.Content)
		if err != nil {
			decryptTotal.WithLabelValues(scheme.name, statusError).Inc()
			lastErr = err
			continue
		}
		decryptTotal.WithLabelValues(scheme.name, statusOK).Inc()

		req, err := nip46.ParseRequest([]byte(plaintext))
		if err != nil {
			d.logger.Debug().
				Err(err).
				Str(logging.FieldClient, logging.ShortKey(ev.PubKey)).
				Str(logging.FieldScheme, scheme.name).
				Msg("decrypted content is not a valid request")
			return nil, scheme.name, err
		}
		return req, scheme.name, nil
	}
	d.logger.Debug().
		Err(lastErr).
		Str(logging.FieldClient, logging.ShortKey(ev.PubKey)).
		Msg("event content did not decrypt under any scheme")
	return nil, "", fmt.Errorf("%w: %v", ErrUndecryptable, lastErr)
}
