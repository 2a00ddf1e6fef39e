package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "dexarb:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

var testPair = domain.PairKey{Base: "0xaaa", Quote: "0xbbb", ChainID: 1, Name: "WETH/USDC"}

func TestQuoteSnapshotCache(t *testing.T) {
	c, mr := newTestClient(t)
	qc := NewQuoteSnapshotCache(c)
	ctx := context.Background()

	_, err := qc.GetSnapshot(ctx, testPair)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	fetched := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	set := domain.QuoteSet{
		Pair: testPair,
		Quotes: map[string]domain.PriceQuote{
			"uniswap_v3": {Venue: "uniswap_v3", Price: 3000, FeeRate: 0.003, LiquidityUSD: 1e6, Timestamp: fetched, Provenance: domain.ProvenanceLive},
		},
		Provenance: domain.ProvenanceLive,
		FetchedAt:  fetched,
	}
	require.NoError(t, qc.SetSnapshot(ctx, set, time.Minute))
	assert.True(t, mr.Exists("dexarb:quotes:1:0xaaa/0xbbb"))

	got, err := qc.GetSnapshot(ctx, testPair)
	require.NoError(t, err)
	assert.Equal(t, testPair, got.Pair)
	assert.Equal(t, 3000.0, got.Quotes["uniswap_v3"].Price)
	assert.True(t, got.FetchedAt.Equal(fetched))

	mr.FastForward(2 * time.Minute)
	_, err = qc.GetSnapshot(ctx, testPair)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, qc.SetSnapshot(ctx, set, 0))
	require.NoError(t, qc.Delete(ctx, testPair))
	_, err = qc.GetSnapshot(ctx, testPair)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, qc.Delete(ctx, testPair))
}

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "scan:1:weth/usdc", 10*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "scan:1:weth/usdc", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "scan:1:weth/usdc", 10*time.Second)
	require.NoError(t, err)

	// An expired lock can be taken over; the stale unlock must not release it.
	mr.FastForward(11 * time.Second)
	unlock3, err := lm.Acquire(ctx, "scan:1:weth/usdc", 10*time.Second)
	require.NoError(t, err)
	unlock2()
	_, err = lm.Acquire(ctx, "scan:1:weth/usdc", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	unlock3()
}

func TestRateLimiterAllow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "dexscreener", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "dexscreener", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(1100 * time.Millisecond)
	ok, err = rl.Allow(ctx, "dexscreener", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = rl.Allow(ctx, "dexscreener", 0, time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRateLimiterWait(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c, map[string]Limit{"dexscreener": {Requests: 1, Window: time.Hour}})

	require.NoError(t, rl.Wait(context.Background(), "dexscreener"))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx, "dexscreener"))
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelOpportunities)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, domain.ChannelOpportunities, []byte(`{"id":"a"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"id":"a"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, "opportunities:log", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "opportunities:log", []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, "opportunities:log", []byte("two")))

	msgs, err = bus.StreamRead(ctx, "opportunities:log", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))
	assert.Equal(t, "two", string(msgs[1].Payload))

	msgs, err = bus.StreamRead(ctx, "opportunities:log", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", string(msgs[0].Payload))
}

func TestSignalBusStreamReadFromTime(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamOpportunities, []byte(`{"generation":1}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamOpportunities, []byte(`{"generation":2}`)))

	since := fmt.Sprintf("%d-0", time.Now().Add(-time.Minute).UnixMilli())
	msgs, err := bus.StreamRead(ctx, domain.StreamOpportunities, since, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"generation":1}`, string(msgs[0].Payload))

	future := fmt.Sprintf("%d-0", time.Now().Add(time.Hour).UnixMilli())
	msgs, err = bus.StreamRead(ctx, domain.StreamOpportunities, future, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
