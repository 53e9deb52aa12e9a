package store

import (
	"context"
	"encoding/json"

	"github.com/dsbaars/bunker46/logging"
)

// activityChannel is the pub/sub channel suffix for activity messages.
const activityChannel = "activity"

// ActivityMessage is a lightweight notification published after every
// handled request. Operator dashboards subscribe to refresh live views;
// the message deliberately carries no payload details.
type ActivityMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	Method       string `json:"method,omitempty"`
	Result       string `json:"result,omitempty"`
	Timestamp    int64  `json:"ts"`
}

// ActivityBus fans activity notifications out over Redis pub/sub.
type ActivityBus struct {
	logger logging.Logger
	client *Client
}

// NewActivityBus creates an activity bus.
func NewActivityBus(logger logging.Logger, client *Client) *ActivityBus {
	return &ActivityBus{
		logger: logging.ForComponent(logger, logging.ComponentActivityBus),
		client: client,
	}
}

// Publish sends an activity message. Best effort: failures are logged only.
func (b *ActivityBus) Publish(ctx context.Context, msg ActivityMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to encode activity message")
		return
	}

	channel := b.client.KB().EventChannel(activityChannel)
	if err := b.client.UniversalClient.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to publish activity message")
	}
}

// Subscribe returns a channel of raw activity payloads and a cancel
// function. The channel closes when ctx is done or cancel is called.
func (b *ActivityBus) Subscribe(ctx context.Context) (<-chan string, func()) {
	channel := b.client.KB().EventChannel(activityChannel)
	pubsub := b.client.UniversalClient.Subscribe(ctx, channel)

	out := make(chan string, 16)
	done := make(chan struct{})

	go logging.RecoverGoRoutine(b.logger, logging.ComponentActivityBus, func(ctx context.Context) {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					// Slow consumer: drop rather than block the bus.
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	})(ctx)

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return out, cancel
}
