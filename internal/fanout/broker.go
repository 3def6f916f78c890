package fanout

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sealchat/internal/metrics"
)

// Publisher is the write side of the transport. The message store and the
// receipt tracker publish through it on every successful mutation.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Broker is the full transport: publish plus a firehose subscription that
// the hub relays to its local sinks.
type Broker interface {
	Publisher
	Subscribe(ctx context.Context) (<-chan Event, error)
}

const channelPrefix = "conv:"

// RedisBroker implements Broker on redis pub/sub with one channel per
// conversation. Redis serializes publishes per channel, which gives every
// instance the same per-conversation event order.
type RedisBroker struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisBroker(client *redis.Client, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channelPrefix+ev.ConversationID.String(), payload).Err(); err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Subscribe opens a pattern subscription over every conversation channel.
// The returned channel closes when ctx is cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan Event, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
