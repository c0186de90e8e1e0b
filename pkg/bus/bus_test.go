package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuemby/helmsman/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	opts := config.Default().Bus
	opts.RetryBaseDelay = time.Millisecond
	opts.RetryMaxDelay = 5 * time.Millisecond
	opts.MaxRetries = 2
	return NewWithClient(client, opts)
}

func TestPutGetRoundTrip(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, b.Put(ctx, "nodes:n1", payload{Name: "n1"}, time.Minute))

	var out payload
	found, err := b.Get(ctx, "nodes:n1", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "n1", out.Name)
}

func TestGetMissingKeyNotFound(t *testing.T) {
	b := newTestBus(t)
	var out map[string]any
	found, err := b.Get(context.Background(), "nodes:missing", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListKeysPrefix(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "nodes:n1", "a", time.Minute))
	require.NoError(t, b.Put(ctx, "nodes:n2", "b", time.Minute))
	require.NoError(t, b.Put(ctx, "tasks:t1", "c", time.Minute))

	keys, err := b.ListKeys(ctx, "nodes:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"nodes:n1", "nodes:n2"}, keys)
}

func TestDeleteRemovesKey(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "nodes:n1", "a", time.Minute))
	require.NoError(t, b.Delete(ctx, "nodes:n1"))

	found, err := b.Get(ctx, "nodes:n1", new(string))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPublishSubscribeDelivers(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	received := make(chan Envelope, 1)
	unsub, err := b.Subscribe(ctx, ChannelPlacement, func(env Envelope) {
		received <- env
	})
	require.NoError(t, err)
	defer unsub()

	env, err := NewEnvelope("optimizer-1", EventPlacementStarted, map[string]string{"taskCount": "3"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, ChannelPlacement, env))

	select {
	case got := <-received:
		assert.Equal(t, EventPlacementStarted, got.Type)
		assert.Equal(t, "optimizer-1", got.ProducerID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope delivery")
	}
}

func TestPublishIsIdempotentUnderReplay(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	received := make(chan Envelope, 4)
	unsub, err := b.Subscribe(ctx, ChannelRecovery, func(env Envelope) {
		received <- env
	})
	require.NoError(t, err)
	defer unsub()

	env, err := NewEnvelope("recovery-1", EventRecoveryStarted, map[string]string{"recoveryId": "r1"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, ChannelRecovery, env))
	require.NoError(t, b.Publish(ctx, ChannelRecovery, env)) // replay of the same id

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected at least one delivery")
	}

	select {
	case extra := <-received:
		t.Fatalf("expected no second delivery on replay, got %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	ctx := context.Background()

	received := make(chan Envelope, 1)
	unsub, err := b.Subscribe(ctx, ChannelGeo, func(env Envelope) {
		received <- env
	})
	require.NoError(t, err)
	unsub()

	env, err := NewEnvelope("geo-1", EventGeoRegionUnhealthy, map[string]string{"region": "us-east"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, ChannelGeo, env))

	select {
	case got := <-received:
		t.Fatalf("expected no delivery after unsubscribe, got %+v", got)
	case <-time.After(150 * time.Millisecond):
	}
}
