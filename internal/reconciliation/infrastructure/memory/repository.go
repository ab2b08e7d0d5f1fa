package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	reconciliation "supply-billing/internal/reconciliation/domain"
	settlement "supply-billing/internal/settlement/domain"
)

// ResultRepository keeps reconciliation results in memory.
type ResultRepository struct {
	mu      sync.RWMutex
	results map[string]reconciliation.Snapshot
}

// NewResultRepository constructs an empty repository.
func NewResultRepository() *ResultRepository {
	return &ResultRepository{results: make(map[string]reconciliation.Snapshot)}
}

// Save stores result.
func (r *ResultRepository) Save(ctx context.Context, result *reconciliation.Result) error {
	_ = ctx
	if result == nil {
		return errors.New("reconciliation repo: nil result")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.ID()] = result.Snapshot()
	return nil
}

// Get returns a stored result.
func (r *ResultRepository) Get(ctx context.Context, id string) (*reconciliation.Result, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.results[id]
	if !ok {
		return nil, reconciliation.ErrResultNotFound
	}
	return reconciliation.Restore(snap), nil
}

// UpdateNote replaces the note of a stored result.
func (r *ResultRepository) UpdateNote(ctx context.Context, id, note string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.results[id]
	if !ok {
		return reconciliation.ErrResultNotFound
	}
	snap.Note = note
	r.results[id] = snap
	return nil
}

// List returns all results ordered by creation time.
func (r *ResultRepository) List() []*reconciliation.Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*reconciliation.Result, 0, len(r.results))
	for _, snap := range r.results {
		out = append(out, reconciliation.Restore(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out
}

// WholesaleSettlementStore keeps external settlements in memory.
type WholesaleSettlementStore struct {
	mu    sync.RWMutex
	items map[string]reconciliation.WholesaleSettlement
}

// NewWholesaleSettlementStore constructs an empty store.
func NewWholesaleSettlementStore() *WholesaleSettlementStore {
	return &WholesaleSettlementStore{items: make(map[string]reconciliation.WholesaleSettlement)}
}

// Save stores ws, replacing an earlier one for the same grid area and period.
func (s *WholesaleSettlementStore) Save(ctx context.Context, ws reconciliation.WholesaleSettlement) error {
	_ = ctx
	if ws.GridArea == "" {
		return reconciliation.ErrEmptyGridArea
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ws.Lines = append([]reconciliation.WholesaleLine(nil), ws.Lines...)
	s.items[wholesaleKey(ws.GridArea, ws.Period)] = ws
	return nil
}

// FindWholesaleSettlement returns the stored settlement or nil.
func (s *WholesaleSettlementStore) FindWholesaleSettlement(ctx context.Context, gridArea string, period settlement.Period) (*reconciliation.WholesaleSettlement, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.items[wholesaleKey(gridArea, period)]
	if !ok {
		return nil, nil
	}
	ws.Lines = append([]reconciliation.WholesaleLine(nil), ws.Lines...)
	return &ws, nil
}

// ChargeTotals is a fixed set of our per-charge totals keyed by grid area and period.
type ChargeTotals struct {
	mu     sync.RWMutex
	totals map[string]map[string]decimal.Decimal
}

// NewChargeTotals constructs an empty reader.
func NewChargeTotals() *ChargeTotals {
	return &ChargeTotals{totals: make(map[string]map[string]decimal.Decimal)}
}

// Add adds amount to chargeID in gridArea and period.
func (c *ChargeTotals) Add(gridArea string, period settlement.Period, chargeID string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := wholesaleKey(gridArea, period)
	if c.totals[key] == nil {
		c.totals[key] = make(map[string]decimal.Decimal)
	}
	c.totals[key][chargeID] = c.totals[key][chargeID].Add(amount)
}

// ChargeTotals returns the totals ordered by charge id.
func (c *ChargeTotals) ChargeTotals(ctx context.Context, gridArea string, period settlement.Period) ([]reconciliation.ChargeAmount, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	byCharge := c.totals[wholesaleKey(gridArea, period)]
	out := make([]reconciliation.ChargeAmount, 0, len(byCharge))
	for id, amount := range byCharge {
		out = append(out, reconciliation.ChargeAmount{ChargeID: id, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChargeID < out[j].ChargeID })
	return out, nil
}

func wholesaleKey(gridArea string, period settlement.Period) string {
	return gridArea + "|" + period.Key()
}
