package executor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarb/arbot/internal/domain"
)

var btcUSDT = domain.NewTradingPair("BTC", "USDT")

type staticRisk struct{ profile domain.RiskProfile }

func (s staticRisk) Current() domain.RiskProfile { return s.profile }

// scriptedClient fills orders according to per-venue behaviors.
type scriptedClient struct {
	mu      sync.Mutex
	calls   map[string]int
	fill    map[string]float64       // venue -> fill price (success)
	fail    map[string]string        // venue -> error message (failed leg)
	delay   map[string]time.Duration // venue -> artificial latency
	block   chan struct{}            // when set, calls block until closed
	feeRate float64
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		calls: map[string]int{},
		fill:  map[string]float64{},
		fail:  map[string]string{},
		delay: map[string]time.Duration{},
	}
}

func (s *scriptedClient) Exec(venueID string) (domain.TradeExecutionClient, error) {
	return s, nil
}

func (s *scriptedClient) PlaceMarketOrder(ctx context.Context, venueID string, pair domain.TradingPair, side domain.Side, qty float64) (domain.TradeResult, error) {
	s.mu.Lock()
	s.calls[venueID]++
	block := s.block
	delay := s.delay[venueID]
	failMsg, failing := s.fail[venueID]
	price := s.fill[venueID]
	fee := s.feeRate
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.TradeResult{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Simulates a venue that honors cancellation: leg unresolved.
			return domain.TradeResult{
				ID: uuid.New().String(), VenueID: venueID, Pair: pair, Side: side,
				RequestedQty: qty, ErrorMessage: "venue cancelled", ExecutedAt: time.Now(),
			}, nil
		}
	}

	res := domain.TradeResult{
		ID:           uuid.New().String(),
		VenueID:      venueID,
		Pair:         pair,
		Side:         side,
		RequestedQty: qty,
		ExecutedAt:   time.Now(),
	}
	if failing {
		res.ErrorMessage = failMsg
		return res, nil
	}
	res.IsSuccess = true
	res.ExecutedQty = qty
	res.ExecutedPrice = price
	res.Fee = price * qty * fee
	return res, nil
}

func (s *scriptedClient) callCount(venueID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[venueID]
}

type memoryRepo struct {
	mu      sync.Mutex
	opps    []domain.ArbitrageOpportunity
	results []domain.ArbitrageTradeResult
}

func (r *memoryRepo) SaveOpportunity(_ context.Context, opp domain.ArbitrageOpportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opps = append(r.opps, opp)
	return nil
}

func (r *memoryRepo) SaveTradeResult(_ context.Context, res domain.ArbitrageTradeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *memoryRepo) QueryByTimeRange(_ context.Context, _, _ time.Time) ([]domain.ArbitrageOpportunity, error) {
	return nil, nil
}

func testOpportunity() domain.ArbitrageOpportunity {
	return domain.ArbitrageOpportunity{
		ID:           uuid.New().String(),
		Pair:         btcUSDT,
		BuyVenue:     "venue-a",
		SellVenue:    "venue-b",
		BuyPrice:     50000,
		SellPrice:    50300,
		EffectiveQty: 0.02,
		ProfitPct:    0.5,
		DetectedAt:   time.Now().UTC(),
		Status:       domain.OpportunityDetected,
	}
}

func newTestCoordinator(clients ClientSource, profile domain.RiskProfile, repo domain.OpportunityRepository, publish func(domain.Event)) *Coordinator {
	return NewCoordinator(clients, staticRisk{profile}, repo, publish, slog.Default())
}

func TestValidationFailureSkipsTrading(t *testing.T) {
	client := newScriptedClient()
	repo := &memoryRepo{}
	c := newTestCoordinator(client, domain.RiskProfile{MinProfitPercentage: 1.0, MaxExecutionTimeMs: 1000}, repo, nil)

	opp := testOpportunity() // 0.5% profit, below the 1% minimum
	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)

	assert.False(t, res.IsSuccess)
	assert.Equal(t, domain.OpportunityFailed, res.Opportunity.Status)
	assert.Contains(t, res.Opportunity.Reason, "below minimum")
	assert.Zero(t, client.callCount("venue-a"))
	assert.Zero(t, client.callCount("venue-b"))
	require.Len(t, repo.results, 1)
}

func TestValidationRejectsZeroQuantity(t *testing.T) {
	c := newTestCoordinator(newScriptedClient(), domain.RiskProfile{}, nil, nil)
	opp := testOpportunity()
	opp.EffectiveQty = 0
	res, err := c.Execute(context.Background(), opp)
	require.NoError(t, err)
	assert.Equal(t, "effective quantity is zero", res.Opportunity.Reason)
}

func TestValidationRejectsOversizedNotional(t *testing.T) {
	c := newTestCoordinator(newScriptedClient(), domain.RiskProfile{MaxTradeAmount: 100}, nil, nil)
	res, err := c.Execute(context.Background(), testOpportunity()) // notional 1000
	require.NoError(t, err)
	assert.Contains(t, res.Opportunity.Reason, "exceeds max trade amount")
}

func TestSuccessfulExecution(t *testing.T) {
	client := newScriptedClient()
	client.fill["venue-a"] = 50010 // slight slippage on the buy
	client.fill["venue-b"] = 50290
	client.feeRate = 0.0005
	repo := &memoryRepo{}

	var events []domain.Event
	var evMu sync.Mutex
	publish := func(ev domain.Event) {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	}

	c := newTestCoordinator(client, domain.RiskProfile{MaxExecutionTimeMs: 2000}, repo, publish)
	res, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	require.True(t, res.IsSuccess)
	assert.Equal(t, domain.OpportunityExecuted, res.Opportunity.Status)
	require.NotNil(t, res.BuyResult)
	require.NotNil(t, res.SellResult)

	wantProfit := 50290*0.02 - 50010*0.02 - (50010*0.02*0.0005 + 50290*0.02*0.0005)
	assert.InDelta(t, wantProfit, res.RealizedProfit, 1e-9)

	assert.Equal(t, 1, client.callCount("venue-a"))
	assert.Equal(t, 1, client.callCount("venue-b"))
	require.Len(t, repo.results, 1)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventTradeExecuted, events[0].Type)
}

func TestPartialFailurePreservedWithoutUnwind(t *testing.T) {
	client := newScriptedClient()
	client.fill["venue-a"] = 50000
	client.delay["venue-b"] = 500 * time.Millisecond // sell leg exceeds budget
	repo := &memoryRepo{}

	var failEvents atomic.Int32
	publish := func(ev domain.Event) {
		if ev.Type == domain.EventTradeFailed {
			failEvents.Add(1)
		}
	}

	c := newTestCoordinator(client, domain.RiskProfile{MaxExecutionTimeMs: 50}, repo, publish)
	res, err := c.Execute(context.Background(), testOpportunity())
	require.NoError(t, err)

	assert.False(t, res.IsSuccess)
	assert.Equal(t, domain.OpportunityFailed, res.Opportunity.Status)
	assert.Contains(t, res.Opportunity.Reason, "sell leg failed")

	// Both leg results preserved: one fill, one timeout.
	require.NotNil(t, res.BuyResult)
	require.NotNil(t, res.SellResult)
	assert.True(t, res.BuyResult.IsSuccess)
	assert.False(t, res.SellResult.IsSuccess)
	assert.Equal(t, domain.ErrExecutionTimeout.Error(), res.SellResult.ErrorMessage)

	// No compensating order was issued on either venue.
	assert.Equal(t, 1, client.callCount("venue-a"))
	assert.Equal(t, 1, client.callCount("venue-b"))
	require.Len(t, repo.results, 1)
	assert.Equal(t, int32(1), failEvents.Load())
}

func TestAtMostOneExecutionPerIdentity(t *testing.T) {
	client := newScriptedClient()
	client.fill["venue-a"] = 50000
	client.fill["venue-b"] = 50300
	client.block = make(chan struct{})

	c := newTestCoordinator(client, domain.RiskProfile{MaxExecutionTimeMs: 5000}, nil, nil)
	opp := testOpportunity()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Execute(context.Background(), opp)
			results <- err
		}()
	}

	// Exactly one attempt is rejected while the other is in flight.
	var rejected int
	select {
	case err := <-results:
		require.ErrorIs(t, err, domain.ErrDuplicateExecution)
		rejected++
	case <-time.After(time.Second):
		t.Fatal("expected one attempt to be rejected quickly")
	}

	close(client.block)
	err := <-results
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)
}

func TestConcurrentTradeCeiling(t *testing.T) {
	client := newScriptedClient()
	client.fill["venue-a"] = 50000
	client.fill["venue-b"] = 50300
	client.block = make(chan struct{})

	c := newTestCoordinator(client, domain.RiskProfile{MaxConcurrentTrades: 1, MaxExecutionTimeMs: 5000}, nil, nil)

	first := testOpportunity()
	done := make(chan domain.ArbitrageTradeResult, 1)
	go func() {
		res, _ := c.Execute(context.Background(), first)
		done <- res
	}()

	require.Eventually(t, func() bool { return c.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := testOpportunity() // distinct ID and detection time
	second.DetectedAt = second.DetectedAt.Add(time.Millisecond)
	res, err := c.Execute(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityFailed, res.Opportunity.Status)
	assert.Contains(t, res.Opportunity.Reason, "concurrent trade ceiling")

	close(client.block)
	final := <-done
	assert.True(t, final.IsSuccess)
}

func TestCancellationResolvesBothLegs(t *testing.T) {
	client := newScriptedClient()
	client.fill["venue-a"] = 50000
	client.delay["venue-a"] = time.Second
	client.delay["venue-b"] = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestCoordinator(client, domain.RiskProfile{MaxExecutionTimeMs: 5000}, nil, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res, err := c.Execute(ctx, testOpportunity())
	require.NoError(t, err)

	// Cancellation mid-flight still resolves both legs to terminal results.
	assert.Equal(t, domain.OpportunityFailed, res.Opportunity.Status)
	require.NotNil(t, res.BuyResult)
	require.NotNil(t, res.SellResult)
	assert.False(t, res.BuyResult.IsSuccess)
	assert.False(t, res.SellResult.IsSuccess)
	assert.NotEmpty(t, res.BuyResult.ErrorMessage)
	assert.NotEmpty(t, res.SellResult.ErrorMessage)
}
