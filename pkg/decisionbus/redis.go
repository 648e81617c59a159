package decisionbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
)

// redisChannel is the Pub/Sub channel decision events travel over when
// multiple enforcer processes share one stream surface.
const redisChannel = "edgepolicy:decisions"

// RedisRelay fans decision events out across processes: local publishes
// are mirrored to a Redis Pub/Sub channel, and events published by other
// processes are injected into the local bus. Single-process deployments
// do not need it.
type RedisRelay struct {
	client *redis.Client
	bus    *Bus
	log    *logging.Logger
	cancel context.CancelFunc
}

// NewRedisRelay builds a Redis client for addr and attaches it to bus. The
// client connects lazily, on the first Publish or on Start.
func NewRedisRelay(addr, password string, db int, bus *Bus) *RedisRelay {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRelay{client: rdb, bus: bus, log: logging.New("decisionbus")}
}

// Subscribe delegates to the local bus: remote events arrive there via
// Start's injection loop, so subscribers see one merged stream.
func (r *RedisRelay) Subscribe(filter Filter) *Subscription {
	return r.bus.Subscribe(filter)
}

// Publish mirrors ev to the local bus and to the Redis channel. Remote
// delivery failures are logged, never surfaced: telemetry must not slow
// or fail enforcement.
func (r *RedisRelay) Publish(ev abac.Event) {
	r.bus.Publish(ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("marshal event %s: %v", ev.EventID, err)
		return
	}
	if err := r.client.Publish(context.Background(), redisChannel, payload).Err(); err != nil {
		r.log.Warn("redis publish: %v", err)
	}
}

// Start subscribes to the Redis channel and injects remote events into
// the local bus until ctx is canceled or Stop is called. Events this
// process itself published are recognized by event id and skipped.
func (r *RedisRelay) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	sub := r.client.Subscribe(ctx, redisChannel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("decisionbus: redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev abac.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.Warn("bad remote event: %v", err)
					continue
				}
				if r.bus.seen(ev.EventID) {
					continue
				}
				r.bus.Publish(ev)
			}
		}
	}()
	return nil
}

// Stop detaches from the Redis channel and closes the connection.
func (r *RedisRelay) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	return r.client.Close()
}
