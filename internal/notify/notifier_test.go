package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	titles []string
	bodies []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return s.err
}

func (s *recordingSender) Name() string { return "recording" }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleOpp() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		TokenPair:         "WETH/USDC",
		BuyVenue:          "uniswap_v3",
		SellVenue:         "sushiswap",
		AdjustedBuyPrice:  3001.8,
		AdjustedSellPrice: 3058.16,
		InvestmentAmount:  1000,
		GrossProfit:       18.7767,
		TradingFees:       6.0563,
		PlatformFee:       5,
		GasFee:            5,
		NetProfit:         2.7204,
		NetProfitPct:      0.27204,
		Network:           "ethereum",
		Confidence:        domain.ConfidenceHigh,
	}
}

func TestOpportunityAlertFiltersAndDedups(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, Config{MinNetProfit: 1, DedupTTL: time.Minute}, clk, discard())
	ctx := context.Background()

	require.NoError(t, n.Opportunity(ctx, sampleOpp()))
	require.NoError(t, n.Opportunity(ctx, sampleOpp()))
	assert.Len(t, s.titles, 1)
	assert.Equal(t, "Arbitrage WETH/USDC on ethereum", s.titles[0])
	assert.Contains(t, s.bodies[0], "Net $2.72 (0.272%)")

	low := sampleOpp()
	low.SellVenue = "curve"
	low.Confidence = domain.ConfidenceLow
	require.NoError(t, n.Opportunity(ctx, low))

	small := sampleOpp()
	small.SellVenue = "balancer"
	small.NetProfit = 0.5
	require.NoError(t, n.Opportunity(ctx, small))
	assert.Len(t, s.titles, 1)

	clk.Advance(time.Minute)
	require.NoError(t, n.Opportunity(ctx, sampleOpp()))
	assert.Len(t, s.titles, 2)
}

func TestFailedAlertIsRetriedOnNextOccurrence(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s := &recordingSender{err: errors.New("telegram 502")}
	n := NewNotifier([]Sender{s}, Config{MinNetProfit: 1, DedupTTL: 10 * time.Minute}, clk, discard())
	ctx := context.Background()

	require.Error(t, n.Opportunity(ctx, sampleOpp()))

	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
	clk.Advance(time.Second)
	require.NoError(t, n.Opportunity(ctx, sampleOpp()))
	require.NoError(t, n.Opportunity(ctx, sampleOpp()))
	assert.Len(t, s.titles, 2, "second alert goes out, third is deduplicated")
}

func TestEventFilter(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, Config{Events: []string{EventScanFailed}}, clock.System(), discard())
	ctx := context.Background()

	require.NoError(t, n.Degraded(ctx, "WETH/USDC", domain.ProvenanceSynthetic))
	require.NoError(t, n.ScanFailed(ctx, "WETH/USDC", "quote source unavailable"))
	require.Len(t, s.titles, 1)
	assert.Equal(t, "Scan failed", s.titles[0])
}

func TestDegradedIgnoresLive(t *testing.T) {
	s := &recordingSender{}
	n := NewNotifier([]Sender{s}, Config{}, clock.System(), discard())
	require.NoError(t, n.Degraded(context.Background(), "WETH/USDC", domain.ProvenanceLive))
	assert.Empty(t, s.titles)
}

func TestDispatchCollectsErrors(t *testing.T) {
	ok := &recordingSender{}
	bad := &recordingSender{err: errors.New("rate limited")}
	n := NewNotifier([]Sender{bad, ok}, Config{}, clock.System(), discard())

	err := n.Notify(context.Background(), EventOpportunity, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Len(t, ok.titles, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}

func TestFormatOpportunity(t *testing.T) {
	body := FormatOpportunity(sampleOpp())
	assert.Contains(t, body, "Buy uniswap_v3 @ 3001.8")
	assert.Contains(t, body, "Fees: trading $6.06, platform $5.00, gas $5.00")
	assert.Contains(t, body, "confidence high")
}
