package bunker

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/dsbaars/bunker46/logging"
)

// RelayPool is the production RelayPublisher: it keeps one outbound
// connection per relay URL, redialing lazily when a cached connection has
// gone stale.
type RelayPool struct {
	logger logging.Logger
	conns  *xsync.Map[string, *nostr.Relay]

	// dialMu serializes dials so concurrent publishes to a cold relay
	// share one connection instead of racing to open several.
	dialMu sync.Mutex
}

func NewRelayPool(logger logging.Logger) *RelayPool {
	return &RelayPool{
		logger: logging.ForComponent(logger, logging.ComponentRelayPool),
		conns:  xsync.NewMap[string, *nostr.Relay](),
	}
}

// Publish fans the event out to every relay concurrently and returns nil
// as soon as any relay accepts it. Remaining attempts are canceled; if
// every relay fails, the last error is returned.
func (p *RelayPool) Publish(ctx context.Context, relays []string, ev nostr.Event) error {
	if len(relays) == 0 {
		return ErrNoRelays
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(relays))
	for _, url := range relays {
		url := url
		go logging.RecoverGoRoutine(p.logger, logging.ComponentRelayPool, func(ctx context.Context) {
			results <- p.publishOne(ctx, url, ev)
		})(ctx)
	}

	var lastErr error
	for range relays {
		err := <-results
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("no relay accepted the event: %w", lastErr)
}

func (p *RelayPool) publishOne(ctx context.Context, url string, ev nostr.Event) error {
	relay, err := p.get(ctx, url)
	if err != nil {
		p.logger.Debug().Err(err).Str(logging.FieldRelay, url).Msg("relay dial failed")
		return err
	}
	if err := relay.Publish(ctx, ev); err != nil {
		// Drop the cached connection so the next publish redials.
		p.conns.Delete(url)
		relay.Close()
		p.logger.Debug().Err(err).Str(logging.FieldRelay, url).Msg("relay rejected event")
		return fmt.Errorf("publishing to %s: %w", url, err)
	}
	return nil
}

func (p *RelayPool) get(ctx context.Context, url string) (*nostr.Relay, error) {
	if relay, ok := p.conns.Load(url); ok {
		if relay.IsConnected() {
			return relay, nil
		}
		p.conns.Delete(url)
	}

	p.dialMu.Lock()
	defer p.dialMu.Unlock()
	if relay, ok := p.conns.Load(url); ok && relay.IsConnected() {
		return relay, nil
	}
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	p.conns.Store(url, relay)
	return relay, nil
}

// Close tears down every cached relay connection.
func (p *RelayPool) Close() {
	p.conns.Range(func(url string, relay *nostr.Relay) bool {
		relay.Close()
		p.conns.Delete(url)
		return true
	})
}
