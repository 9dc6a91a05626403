package oracle_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/lendaro/settlement/internal/oracle"
	"github.com/shopspring/decimal"
)

// stubExchanges serves the Binance and Bybit ticker endpoints with a settable
// price, so index movement can be driven from the test.
type stubExchanges struct {
	mu    sync.Mutex
	price string

	binance *httptest.Server
	bybit   *httptest.Server

	bybitDown bool
}

func newStubExchanges(t *testing.T, price string) *stubExchanges {
	t.Helper()
	s := &stubExchanges{price: price}
	s.binance = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		fmt.Fprintf(w, `{"symbol":"BTCUSDT","price":"%s"}`, s.price)
	}))
	s.bybit = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.bybitDown {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"result":{"list":[{"lastPrice":"%s"}]}}`, s.price)
	}))
	t.Cleanup(s.binance.Close)
	t.Cleanup(s.bybit.Close)
	return s
}

func (s *stubExchanges) setPrice(p string) {
	s.mu.Lock()
	s.price = p
	s.mu.Unlock()
}

type fakeInvestments struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.ConsumerInvestment
}

func (f *fakeInvestments) GetInvestment(_ context.Context, id uuid.UUID) (*domain.ConsumerInvestment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ci, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrInvestmentNotFound
	}
	cp := *ci
	return &cp, nil
}

func newOracle(t *testing.T, ex *stubExchanges, inv *fakeInvestments) *oracle.MarketOracle {
	t.Helper()
	cfg := &config.Config{Oracle: config.OracleConfig{
		BinanceURL:    ex.binance.URL,
		BybitURL:      ex.bybit.URL,
		FetchTimeout:  2 * time.Second,
		CacheTTL:      0, // every call refetches, so price changes apply immediately
		BinanceWeight: 60,
		BybitWeight:   40,
	}}
	return oracle.NewMarketOracle(cfg, inv)
}

func investment(initial, current string) *domain.ConsumerInvestment {
	return &domain.ConsumerInvestment{
		ID:           uuid.New(),
		InitialValue: decimal.RequireFromString(initial),
		CurrentValue: decimal.RequireFromString(current),
		Status:       domain.InvestmentOpen,
	}
}

func TestCurrentValueTracksIndex(t *testing.T) {
	ex := newStubExchanges(t, "100")
	ci := investment("100", "100")
	o := newOracle(t, ex, &fakeInvestments{byID: map[uuid.UUID]*domain.ConsumerInvestment{ci.ID: ci}})

	v, err := o.CurrentValue(context.Background(), ci.ID)
	if err != nil {
		t.Fatalf("CurrentValue: %v", err)
	}
	if !v.Equal(decimal.NewFromInt(100)) {
		t.Errorf("value at entry = %s, want 100", v)
	}

	ex.setPrice("90")
	v, err = o.CurrentValue(context.Background(), ci.ID)
	if err != nil {
		t.Fatalf("CurrentValue after drop: %v", err)
	}
	if !v.Equal(decimal.NewFromInt(90)) {
		t.Errorf("value after 10%% index drop = %s, want 90", v)
	}
}

// TestCurrentValueResumesPersistedDescent restarts the oracle (fresh entry
// map) for an investment whose persisted valuation already fell from 100 to
// 80.  The first valuation must resume at 80, not snap back to the initial
// value, and further index movement must scale from there.
func TestCurrentValueResumesPersistedDescent(t *testing.T) {
	ex := newStubExchanges(t, "100")
	ci := investment("100", "80")
	o := newOracle(t, ex, &fakeInvestments{byID: map[uuid.UUID]*domain.ConsumerInvestment{ci.ID: ci}})

	v, err := o.CurrentValue(context.Background(), ci.ID)
	if err != nil {
		t.Fatalf("CurrentValue: %v", err)
	}
	if !v.Equal(decimal.NewFromInt(80)) {
		t.Errorf("first value after restart = %s, want the persisted 80", v)
	}

	// A further 10% index drop compounds on the resumed level: 80 × 0.9 = 72.
	ex.setPrice("90")
	v, err = o.CurrentValue(context.Background(), ci.ID)
	if err != nil {
		t.Fatalf("CurrentValue after drop: %v", err)
	}
	if !v.Equal(decimal.NewFromInt(72)) {
		t.Errorf("value after further drop = %s, want 72", v)
	}
}

func TestWeightedIndexRenormalizesOnPartialFailure(t *testing.T) {
	ex := newStubExchanges(t, "100")
	ex.mu.Lock()
	ex.bybitDown = true
	ex.mu.Unlock()
	o := newOracle(t, ex, &fakeInvestments{byID: map[uuid.UUID]*domain.ConsumerInvestment{}})

	idx, err := o.WeightedIndex(context.Background())
	if err != nil {
		t.Fatalf("WeightedIndex with one source down: %v", err)
	}
	if !idx.Equal(decimal.NewFromInt(100)) {
		t.Errorf("index = %s, want 100 from the remaining source at full weight", idx)
	}
}

func TestConcurrentValuationAndForget(t *testing.T) {
	ex := newStubExchanges(t, "100")
	inv := &fakeInvestments{byID: map[uuid.UUID]*domain.ConsumerInvestment{}}
	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		ci := investment("100", "100")
		inv.byID[ci.ID] = ci
		ids = append(ids, ci.ID)
	}
	o := newOracle(t, ex, inv)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ids[i%len(ids)]
			if i%4 == 3 {
				o.Forget(id)
				return
			}
			if _, err := o.CurrentValue(context.Background(), id); err != nil {
				t.Errorf("CurrentValue: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

func TestWithdrawalWindowAlwaysOpenWhenHoursEqual(t *testing.T) {
	ex := newStubExchanges(t, "100")
	o := newOracle(t, ex, &fakeInvestments{byID: map[uuid.UUID]*domain.ConsumerInvestment{}})

	open, err := o.WithdrawalWindowOpen(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("WithdrawalWindowOpen: %v", err)
	}
	if !open {
		t.Error("window with equal open/close hours should always be open")
	}
}
