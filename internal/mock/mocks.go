// Package mock provides in-memory doubles for engine and pipeline tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DaleTiley-AirCapital/CryptArb/internal/core"
)

// Exchange is an in-memory venue with instant fills.
type Exchange struct {
	mu       sync.Mutex
	name     string
	quote    core.PriceQuote
	balances map[string]float64
	orders   []PlacedOrder
	orderErr error
	reject   string
	orderSeq int
}

// PlacedOrder records one market order the mock received.
type PlacedOrder struct {
	Side   string
	Amount float64
}

// NewExchange creates a mock venue.
func NewExchange(name string) *Exchange {
	return &Exchange{
		name:     name,
		balances: make(map[string]float64),
	}
}

func (e *Exchange) GetName() string { return e.name }

// SetQuote sets the quote returned by GetPrice.
func (e *Exchange) SetQuote(q core.PriceQuote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q.Exchange = e.name
	e.quote = q
}

// SetBalance sets an account balance.
func (e *Exchange) SetBalance(currency string, amount float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[currency] = amount
}

// FailOrdersWith makes subsequent orders return a transport error.
func (e *Exchange) FailOrdersWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orderErr = err
}

// RejectOrdersWith makes subsequent orders return a structured rejection.
func (e *Exchange) RejectOrdersWith(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reject = reason
}

func (e *Exchange) GetPrice(ctx context.Context) (core.PriceQuote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.quote.Valid() {
		return core.PriceQuote{}, fmt.Errorf("no quote configured for %s", e.name)
	}
	return e.quote, nil
}

func (e *Exchange) GetBalance(ctx context.Context, currency string) (core.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	amount := e.balances[currency]
	return core.Balance{Currency: currency, Available: amount, Total: amount}, nil
}

func (e *Exchange) PlaceMarketBuy(ctx context.Context, amount float64) (core.OrderResult, error) {
	return e.placeOrder("BUY", amount)
}

func (e *Exchange) PlaceMarketSell(ctx context.Context, baseAmount float64) (core.OrderResult, error) {
	return e.placeOrder("SELL", baseAmount)
}

func (e *Exchange) placeOrder(side string, amount float64) (core.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orderErr != nil {
		return core.OrderResult{Success: false, Error: e.orderErr.Error()}, e.orderErr
	}
	if e.reject != "" {
		return core.OrderResult{Success: false, Error: e.reject}, nil
	}

	e.orderSeq++
	e.orders = append(e.orders, PlacedOrder{Side: side, Amount: amount})
	return core.OrderResult{
		Success:      true,
		OrderID:      fmt.Sprintf("%s-%d", e.name, e.orderSeq),
		FilledAmount: amount,
		FilledPrice:  e.quote.Last,
	}, nil
}

// Orders returns the orders placed so far.
func (e *Exchange) Orders() []PlacedOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PlacedOrder, len(e.orders))
	copy(out, e.orders)
	return out
}

// Store is an in-memory core.IStore.
type Store struct {
	mu            sync.Mutex
	Ticks         []core.TickRecord
	Opportunities []core.Opportunity
	Trades        []core.Trade
	Floats        map[string]core.FloatBalanceRow
	PnL           []core.PnLRecord
	ConfigChanges []core.ConfigChange
	SaveTickErr   error
	seq           int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{Floats: make(map[string]core.FloatBalanceRow)}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) SaveTick(ctx context.Context, t *core.TickRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveTickErr != nil {
		return s.SaveTickErr
	}
	t.ID = s.nextID()
	s.Ticks = append(s.Ticks, *t)
	return nil
}

func (s *Store) SaveOpportunity(ctx context.Context, o *core.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.nextID()
	s.Opportunities = append(s.Opportunities, *o)
	return nil
}

func (s *Store) SaveTrade(ctx context.Context, tr *core.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr.ID = s.nextID()
	s.Trades = append(s.Trades, *tr)
	return nil
}

func (s *Store) UpsertFloatBalance(ctx context.Context, exchange, currency string, balance float64, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := exchange + "/" + currency
	row, ok := s.Floats[key]
	if !ok {
		row = core.FloatBalanceRow{ID: s.nextID(), Exchange: exchange, Currency: currency}
	}
	row.Balance = balance
	row.UpdatedAt = updatedAt
	s.Floats[key] = row
	return nil
}

func (s *Store) SavePnL(ctx context.Context, p *core.PnLRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID()
	s.PnL = append(s.PnL, *p)
	return nil
}

func (s *Store) SaveConfigChange(ctx context.Context, c *core.ConfigChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID()
	s.ConfigChanges = append(s.ConfigChanges, *c)
	return nil
}

func (s *Store) RecentTicks(ctx context.Context, limit int) ([]core.TickRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.Ticks, limit), nil
}

func (s *Store) RecentOpportunities(ctx context.Context, limit int) ([]core.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.Opportunities, limit), nil
}

func (s *Store) RecentTrades(ctx context.Context, limit int) ([]core.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.Trades, limit), nil
}

func (s *Store) FloatBalances(ctx context.Context) ([]core.FloatBalanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.FloatBalanceRow, 0, len(s.Floats))
	for _, row := range s.Floats {
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) TickStats(ctx context.Context) (core.TickStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := core.TickStats{Count: int64(len(s.Ticks))}
	for i, t := range s.Ticks {
		if t.Profitable {
			stats.ProfitableCount++
		}
		if i == 0 || t.NetEdgeBps < stats.MinNetEdgeBps {
			stats.MinNetEdgeBps = t.NetEdgeBps
		}
		if i == 0 || t.NetEdgeBps > stats.MaxNetEdgeBps {
			stats.MaxNetEdgeBps = t.NetEdgeBps
		}
		stats.AvgNetEdgeBps += t.NetEdgeBps
	}
	if stats.Count > 0 {
		stats.AvgNetEdgeBps /= float64(stats.Count)
	}
	return stats, nil
}

func (s *Store) TradeSummary(ctx context.Context) (core.TradeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum core.TradeSummary
	for _, tr := range s.Trades {
		sum.TotalTrades++
		switch tr.Status {
		case "paper":
			sum.PaperTrades++
		case "completed":
			sum.CompletedLive++
		case "failed":
			sum.FailedLive++
		}
		sum.TotalProfitZAR += tr.ProfitZAR
		sum.TotalProfitUSD += tr.ProfitUSD
	}
	return sum, nil
}

func (s *Store) PnLHistory(ctx context.Context, limit int) ([]core.PnLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.PnL, limit), nil
}

func (s *Store) LatestPnL(ctx context.Context) (core.PnLRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PnL) == 0 {
		return core.PnLRecord{}, false, nil
	}
	return s.PnL[len(s.PnL)-1], true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ticks = nil
	s.Opportunities = nil
	s.Trades = nil
	s.Floats = make(map[string]core.FloatBalanceRow)
	s.PnL = nil
	s.ConfigChanges = nil
	return nil
}

func (s *Store) Close() error { return nil }

func lastN[T any](items []T, limit int) []T {
	if limit <= 0 || limit >= len(items) {
		out := make([]T, len(items))
		copy(out, items)
		return out
	}
	out := make([]T, limit)
	copy(out, items[len(items)-limit:])
	return out
}
