package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBus shares events between instances over a Redis pub/sub channel.
type RedisBus struct {
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects to addr and verifies the connection.
func NewRedisBus(ctx context.Context, addr, channel string) (*RedisBus, error) {
	if addr == "" {
		return nil, errors.New("redis address required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBusFromClient(rdb, channel), nil
}

// NewRedisBusFromClient wraps an existing client. The bus owns it afterwards.
func NewRedisBusFromClient(rdb *goredis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "ireside:events"
	}
	return &RedisBus{rdb: rdb, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return ErrBusClosed
		}
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription with Redis before returning, then
// forwards messages to fn from a goroutine until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Event)) error {
	if fn == nil {
		return errors.New("subscriber callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		if errors.Is(err, goredis.ErrClosed) {
			return ErrBusClosed
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					slog.Warn("dropping malformed realtime event", "channel", b.channel, "error", err)
					continue
				}
				fn(e)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
