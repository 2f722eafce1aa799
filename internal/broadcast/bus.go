package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"brandgen/internal/domain"
	"brandgen/internal/infra"
)

// RedisBus carries events between processes over Redis pub/sub. Workers
// publish; API processes forward received events into their local hub.
type RedisBus struct {
	rdb     redis.UniversalClient
	channel string
	logger  *infra.Logger
}

// NewRedisBus returns a bus on channel.
func NewRedisBus(rdb redis.UniversalClient, channel string, logger *infra.Logger) *RedisBus {
	if channel == "" {
		channel = "brandgen:events"
	}
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &RedisBus{rdb: rdb, channel: channel, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, ev domain.Event) error {
	if b == nil || b.rdb == nil {
		return errors.New("broadcast: redis bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("broadcast: encode event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes and hands each received event to dst until ctx
// ends. It returns once the subscription is confirmed.
func (b *RedisBus) StartForwarder(ctx context.Context, dst Publisher) error {
	if b == nil || b.rdb == nil {
		return errors.New("broadcast: redis bus not initialized")
	}
	if dst == nil {
		return errors.New("broadcast: destination required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("broadcast: redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.logger.Warn().Err(err).Msg("broadcast: bad bus payload")
					continue
				}
				// Seq is hub-local.
				ev.Seq = 0
				_ = dst.Publish(ctx, ev)
			}
		}
	}()
	return nil
}
