// Package oracle marks invested positions to market.  Pool funds track a
// weighted market index built from multiple exchange feeds; an investment's
// current value scales its initial value by the index movement since entry.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lendaro/settlement/internal/config"
	"github.com/lendaro/settlement/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
)

// exchangeDef describes a single index-feed source.
type exchangeDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context) (decimal.Decimal, error)
}

// InvestmentGetter supplies investment records for valuation.  Implemented by
// repository.InvestmentRepository.
type InvestmentGetter interface {
	GetInvestment(ctx context.Context, id uuid.UUID) (*domain.ConsumerInvestment, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketOracle
// ──────────────────────────────────────────────────────────────────────────────

// MarketOracle fetches the index from multiple exchanges in parallel, computes
// a weighted average with re-normalisation over the available sources, and
// caches the result.
type MarketOracle struct {
	client      *http.Client
	cfg         *config.OracleConfig
	investments InvestmentGetter

	// index cache
	mu          sync.RWMutex
	cachedIndex decimal.Decimal
	cacheTime   time.Time

	// per-investment index level at first valuation
	entryMu sync.RWMutex
	entries map[uuid.UUID]decimal.Decimal

	exchanges []exchangeDef

	// now is swappable for window tests.
	now func() time.Time
}

// NewMarketOracle constructs a MarketOracle from the given config.
func NewMarketOracle(cfg *config.Config, investments InvestmentGetter) *MarketOracle {
	o := &MarketOracle{
		client:      &http.Client{Timeout: cfg.Oracle.FetchTimeout},
		cfg:         &cfg.Oracle,
		investments: investments,
		entries:     make(map[uuid.UUID]decimal.Decimal),
		now:         func() time.Time { return time.Now().UTC() },
	}
	o.exchanges = []exchangeDef{
		{
			name:   exchangeBinance,
			weight: decimal.NewFromInt(int64(cfg.Oracle.BinanceWeight)),
			fetch:  o.fetchBinance,
		},
		{
			name:   exchangeBybit,
			weight: decimal.NewFromInt(int64(cfg.Oracle.BybitWeight)),
			fetch:  o.fetchBybit,
		},
	}
	return o
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionOracle implementation
// ──────────────────────────────────────────────────────────────────────────────

// CurrentValue marks an investment to market: initialValue scaled by the
// index movement since the investment's first valuation.
func (o *MarketOracle) CurrentValue(ctx context.Context, investmentID uuid.UUID) (decimal.Decimal, error) {
	ci, err := o.investments.GetInvestment(ctx, investmentID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle.CurrentValue: %w", err)
	}

	index, err := o.WeightedIndex(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle.CurrentValue: %w", err)
	}

	o.entryMu.Lock()
	entry, ok := o.entries[investmentID]
	if !ok || entry.IsZero() {
		entry = index
		// The entry map is in-memory.  After a restart, re-anchor the entry
		// level from the persisted valuation so that the descent measured so
		// far survives instead of resetting to zero.
		if ci.CurrentValue.IsPositive() && !ci.CurrentValue.Equal(ci.InitialValue) {
			entry = index.Mul(ci.InitialValue).Div(ci.CurrentValue)
		}
		o.entries[investmentID] = entry
	}
	o.entryMu.Unlock()

	return ci.InitialValue.Mul(index).Div(entry).RoundDown(4), nil
}

// WithdrawalWindowOpen reports whether positions can currently be unwound.
// The window is an hour range [open, close) in UTC; equal hours mean the
// window never closes.
func (o *MarketOracle) WithdrawalWindowOpen(ctx context.Context, investmentID uuid.UUID) (bool, error) {
	openH, closeH := o.cfg.WindowOpenHour, o.cfg.WindowCloseHour
	if openH == closeH {
		return true, nil
	}
	h := o.now().Hour()
	if openH < closeH {
		return h >= openH && h < closeH, nil
	}
	// Window wraps midnight, e.g. 22 → 6.
	return h >= openH || h < closeH, nil
}

// Forget drops the entry level for a closed investment.
func (o *MarketOracle) Forget(investmentID uuid.UUID) {
	o.entryMu.Lock()
	delete(o.entries, investmentID)
	o.entryMu.Unlock()
}

// ──────────────────────────────────────────────────────────────────────────────
// Weighted index
// ──────────────────────────────────────────────────────────────────────────────

// WeightedIndex returns the current market index as a weighted average over
// the configured exchanges.  A fresh cache (< CacheTTL) short-circuits the
// fetch.  Partial failures re-normalise the weights over the available
// sources; only a total failure is an error.
func (o *MarketOracle) WeightedIndex(ctx context.Context) (decimal.Decimal, error) {
	o.mu.RLock()
	if !o.cacheTime.IsZero() && time.Since(o.cacheTime) < o.cfg.CacheTTL {
		index := o.cachedIndex
		o.mu.RUnlock()
		return index, nil
	}
	o.mu.RUnlock()

	type result struct {
		name  string
		price decimal.Decimal
		err   error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.client.Timeout)
	defer cancel()

	resultCh := make(chan result, len(o.exchanges))
	for _, ex := range o.exchanges {
		ex := ex
		go func() {
			p, err := ex.fetch(fetchCtx)
			resultCh <- result{name: ex.name, price: p, err: err}
		}()
	}

	raw := make(map[string]result, len(o.exchanges))
	for range o.exchanges {
		r := <-resultCh
		raw[r.name] = r
	}

	var sumWeighted, sumWeights decimal.Decimal
	for _, ex := range o.exchanges {
		r := raw[ex.name]
		if r.err != nil || r.price.IsZero() {
			continue
		}
		sumWeighted = sumWeighted.Add(r.price.Mul(ex.weight))
		sumWeights = sumWeights.Add(ex.weight)
	}
	if sumWeights.IsZero() {
		return decimal.Zero, fmt.Errorf("oracle: all exchange fetches failed")
	}
	index := sumWeighted.Div(sumWeights)

	o.mu.Lock()
	o.cachedIndex = index
	o.cacheTime = time.Now()
	o.mu.Unlock()

	return index, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchBinance fetches the BTC/USDT spot price from the Binance REST API.
//
//	GET /api/v3/ticker/price?symbol=BTCUSDT
//	{"symbol":"BTCUSDT","price":"87350.00"}
func (o *MarketOracle) fetchBinance(ctx context.Context) (decimal.Decimal, error) {
	url := o.cfg.BinanceURL + "/api/v3/ticker/price?symbol=BTCUSDT"
	body, err := o.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance decimal: %w", err)
	}
	return price, nil
}

// fetchBybit fetches the BTC/USDT spot price from the Bybit REST API.
//
//	GET /v5/market/tickers?category=spot&symbol=BTCUSDT
//	{"result":{"list":[{"lastPrice":"87350.00",...}]}}
func (o *MarketOracle) fetchBybit(ctx context.Context) (decimal.Decimal, error) {
	url := o.cfg.BybitURL + "/v5/market/tickers?category=spot&symbol=BTCUSDT"
	body, err := o.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	price, err := decimal.NewFromString(resp.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit decimal: %w", err)
	}
	return price, nil
}

// doGet performs an HTTP GET and returns the body bytes, or an error for any
// non-200 status code.
func (o *MarketOracle) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "lendaro-settlement/1.0")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
