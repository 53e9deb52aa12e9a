package bunker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/dsbaars/bunker46/logging"
	"github.com/dsbaars/bunker46/nip46"
)

// RelayPublisher delivers a signed event to a set of relays, succeeding
// when at least one relay accepts it.
type RelayPublisher interface {
	Publish(ctx context.Context, relays []string, ev nostr.Event) error
}

// Publisher encrypts, signs and publishes RPC responses. Responses always
// use NIP-44; the NIP-04 fallback exists only on the inbound path.
type Publisher struct {
	logger  logging.Logger
	relays  RelayPublisher
	timeout time.Duration
}

func NewPublisher(logger logging.Logger, relays RelayPublisher, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		logger:  logging.ForComponent(logger, logging.ComponentPublisher),
		relays:  relays,
		timeout: timeout,
	}
}

// PublishResponse wraps the response in an encrypted kind-24133 event
// addressed to the client and fans it out to the relay set.
func (p *Publisher) PublishResponse(ctx context.Context, resp *nip46.Response, clientPubKey, secretKey string, relays []string) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	content, err := nip44EncryptContent(secretKey, clientPubKey, string(payload))
	if err != nil {
		return fmt.Errorf("encrypting response: %w", err)
	}

	ev := nostr.Event{
		Kind:      nip46.KindNIP46,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", clientPubKey}},
		Content:   content,
	}
	if err := ev.Sign(secretKey); err != nil {
		return fmt.Errorf("signing response event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.relays.Publish(ctx, relays, ev); err != nil {
		publishTotal.WithLabelValues(statusError).Inc()
		return err
	}
	publishTotal.WithLabelValues(statusOK).Inc()
	p.logger.Debug().
		Str(logging.FieldClient, logging.ShortKey(clientPubKey)).
		Str(logging.FieldRequestID, resp.ID).
		Msg("published response")
	return nil
}
