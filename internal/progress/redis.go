// Package progress carries upload progress events between worker processes
// so observers connected to any worker see every upload.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront/internal/config"
)

const outboxSize = 1024

// Publisher receives progress percentages for a named event.
type Publisher interface {
	Publish(event string, percent int)
}

type event struct {
	Event   string `json:"event"`
	Percent int    `json:"percent"`
}

// RedisBridge publishes progress to a Redis channel and relays everything
// received on that channel to the local hub. Publish only enqueues; a single
// pump goroutine started by Run sends in order.
type RedisBridge struct {
	client  redis.UniversalClient
	channel string
	local   Publisher
	outbox  chan event
	dropped atomic.Int64
}

func NewRedisBridge(client redis.UniversalClient, channel string, local Publisher) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		local:   local,
		outbox:  make(chan event, outboxSize),
	}
}

// NewRedisClient connects and pings with a short timeout.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

func (b *RedisBridge) Publish(name string, percent int) {
	select {
	case b.outbox <- event{Event: name, Percent: percent}:
	default:
		if n := b.dropped.Add(1); n%100 == 1 {
			slog.Warn("progress outbox full, dropping event", "component", "progress", "dropped", n)
		}
	}
}

// Run subscribes to the channel and pumps the outbox until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	slog.Info("progress bridge subscribed", "component", "progress", "channel", b.channel)

	go b.pump(ctx)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", b.channel)
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *RedisBridge) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.outbox:
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
				slog.Warn("error publishing progress, delivering locally", "component", "progress", "error", err)
				b.local.Publish(ev.Event, ev.Percent)
			}
		}
	}
}

func (b *RedisBridge) deliver(payload string) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Event == "" {
		slog.Debug("ignoring malformed progress payload", "component", "progress")
		return
	}
	b.local.Publish(ev.Event, ev.Percent)
}
