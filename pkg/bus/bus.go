package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/helmsman/pkg/config"
	"github.com/cuemby/helmsman/pkg/log"
	"github.com/cuemby/helmsman/pkg/metrics"
	"github.com/cuemby/helmsman/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Envelope is the typed pub/sub message shape from spec §4.A / §6.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	ProducerID string          `json:"producerId"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope builds an Envelope with a fresh idempotency id and the
// current timestamp, marshaling payload into the Payload field.
func NewEnvelope(producerID, eventType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal envelope payload: %w", err)
	}
	return Envelope{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now(),
		ProducerID: producerID,
		Payload:    data,
	}, nil
}

// Handler is invoked once per delivered Envelope on a subscribed channel.
type Handler func(Envelope)

// Bus is a Redis-backed key/value store with typed pub/sub, matching the
// contract of cuemby-warren's pkg/events.Broker but durable across
// process restarts.
type Bus struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	opts    config.BusOptions
	logger  zerolog.Logger

	mu   sync.RWMutex
	subs map[string][]chan Envelope
}

// New constructs a Bus connected to the Redis instance described by opts.
func New(opts config.BusOptions) *Bus {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.RedisHost, opts.RedisPort),
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	return NewWithClient(client, opts)
}

// NewWithClient constructs a Bus over an already-configured redis.Client,
// used by tests to inject a miniredis-backed client.
func NewWithClient(client *redis.Client, opts config.BusOptions) *Bus {
	b := &Bus{
		client: client,
		opts:   opts,
		logger: log.WithComponent("bus"),
		subs:   make(map[string][]chan Envelope),
	}
	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "redis-bus",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("bus circuit breaker state changed")
			if to == gobreaker.StateOpen {
				metrics.BusCircuitState.Set(1)
			} else {
				metrics.BusCircuitState.Set(0)
			}
		},
	})
	return b
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}

// withRetry executes op, retrying transient failures with exponential
// backoff up to opts.MaxRetries, all guarded by the circuit breaker so a
// persistently unavailable bus trips to the open state instead of
// retrying forever (spec §7: bus_unavailable is retried with bounded
// exponential backoff; persistent failure is surfaced, not swallowed).
func (b *Bus) withRetry(ctx context.Context, op string, fn func() error) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.BusOperationDuration, op)

	delay := b.opts.RetryBaseDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	maxDelay := b.opts.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxRetries := b.opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := b.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		if err == nil {
			metrics.BusOperationsTotal.WithLabelValues(op, "success").Inc()
			return nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = maxRetries + 1
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	metrics.BusOperationsTotal.WithLabelValues(op, "failure").Inc()
	return types.NewError(types.KindBusUnavailable, fmt.Sprintf("bus op %q failed after retries", op), lastErr)
}

// Put writes value (JSON-encoded) under key with the given TTL (0 = no
// expiry). Writes are idempotent under retry: the same (key, value) pair
// always produces the same stored state.
func (b *Bus) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return types.NewError(types.KindInputInvalid, "marshal bus value", err)
	}
	return b.withRetry(ctx, "put", func() error {
		return b.client.Set(ctx, key, data, ttl).Err()
	})
}

// Get reads the value stored at key into dest. found is false when the
// key does not exist (not an error).
func (b *Bus) Get(ctx context.Context, key string, dest any) (found bool, err error) {
	var data string
	opErr := b.withRetry(ctx, "get", func() error {
		v, e := b.client.Get(ctx, key).Result()
		if errors.Is(e, redis.Nil) {
			return nil
		}
		if e != nil {
			return e
		}
		data = v
		return nil
	})
	if opErr != nil {
		return false, opErr
	}
	if data == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return true, types.NewError(types.KindInputInvalid, "unmarshal bus value", err)
	}
	return true, nil
}

// Delete removes key from the bus.
func (b *Bus) Delete(ctx context.Context, key string) error {
	return b.withRetry(ctx, "delete", func() error {
		return b.client.Del(ctx, key).Err()
	})
}

// ListKeys returns all keys matching prefix+"*", ordered by SCAN cursor
// (no global ordering guarantee, per spec §5).
func (b *Bus) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.withRetry(ctx, "list_keys", func() error {
		keys = nil
		var cursor uint64
		for {
			batch, next, e := b.client.Scan(ctx, cursor, prefix+"*", 200).Result()
			if e != nil {
				return e
			}
			keys = append(keys, batch...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return keys, err
}

// Publish idempotently records env under events:{producer}:{type}:{id}
// (bounded TTL) and, only on first delivery of that id, publishes it on
// channel and fans it out to local in-process subscribers. Replaying the
// same envelope id is a no-op past the first delivery (spec §7/§8.6).
func (b *Bus) Publish(ctx context.Context, channel string, env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return types.NewError(types.KindInputInvalid, "marshal envelope", err)
	}

	durableKey := fmt.Sprintf("events:%s:%s:%s", env.ProducerID, env.Type, env.ID)
	var first bool
	opErr := b.withRetry(ctx, "publish_durable", func() error {
		ok, e := b.client.SetNX(ctx, durableKey, data, b.opts.EventTTL).Result()
		first = ok
		return e
	})
	if opErr != nil {
		return opErr
	}
	if !first {
		return nil // already delivered once; idempotent no-op.
	}

	if err := b.withRetry(ctx, "publish", func() error {
		return b.client.Publish(ctx, channel, data).Err()
	}); err != nil {
		return err
	}
	b.fanoutLocal(channel, env)
	return nil
}

// Subscribe registers handler for messages on channel and starts (if not
// already running) a background goroutine relaying Redis pub/sub
// messages on that channel to all local subscribers. It returns an
// unsubscribe function.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) (unsubscribe func(), err error) {
	ch := make(chan Envelope, 64)

	b.mu.Lock()
	_, running := b.subs[channel]
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	if !running {
		b.startRelay(ctx, channel)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case env, ok := <-ch:
				if !ok {
					return
				}
				handler(env)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, s := range subs {
			if s == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}, nil
}

// startRelay subscribes once to the underlying Redis channel and
// broadcasts every decoded Envelope to all local subscriber channels,
// mirroring cuemby-warren's events.Broker.broadcast drop-if-full policy.
func (b *Bus) startRelay(ctx context.Context, channel string) {
	pubsub := b.client.Subscribe(ctx, channel)
	go func() {
		defer pubsub.Close()
		msgCh := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.logger.Warn().Err(err).Str("channel", channel).Msg("dropping malformed envelope")
					continue
				}
				b.fanoutLocal(channel, env)
			}
		}
	}()
}

func (b *Bus) fanoutLocal(channel string, env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- env:
		default:
			// Subscriber buffer full, drop — matches events.Broker.broadcast.
		}
	}
}
