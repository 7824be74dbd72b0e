package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/utils"
)

// Bus carries events between replicas so a client connected to one
// instance sees work done on another.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	StartForwarder(ctx context.Context, onEvent func(ev Event)) error
	Close() error
}

type redisBus struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

// NewRedisBus connects to REDIS_ADDR and verifies the connection with a
// ping. REDIS_CHANNEL defaults to "doctalk-events".
func NewRedisBus(log *logger.Logger) (Bus, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", nil))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	channel := strings.TrimSpace(utils.GetEnv("REDIS_CHANNEL", "doctalk-events", nil))

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		log:     log.With("service", "RedisBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onEvent func(ev Event)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// confirm the subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("Bad redis event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// localBus short-circuits publishes straight to the forwarder callback.
// Used when Redis is not configured (single-instance deployments).
type localBus struct {
	onEvent func(ev Event)
}

func NewLocalBus() Bus { return &localBus{} }

func (b *localBus) Publish(ctx context.Context, ev Event) error {
	if b.onEvent != nil {
		b.onEvent(ev)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onEvent func(ev Event)) error {
	b.onEvent = onEvent
	return nil
}

func (b *localBus) Close() error { return nil }
