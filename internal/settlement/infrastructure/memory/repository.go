package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	settlement "supply-billing/internal/settlement/domain"
)

// TimeSeriesRepository is an in-memory repository for time series versions.
type TimeSeriesRepository struct {
	mu   sync.RWMutex
	data map[string][]settlement.TimeSeriesSnapshot
}

// NewTimeSeriesRepository constructs a repository.
func NewTimeSeriesRepository() *TimeSeriesRepository {
	return &TimeSeriesRepository{data: make(map[string][]settlement.TimeSeriesSnapshot)}
}

func seriesKey(meteringPointID string, period settlement.Period) string {
	return meteringPointID + "|" + period.Key()
}

// Get returns the version with id or nil.
func (r *TimeSeriesRepository) Get(ctx context.Context, id settlement.TimeSeriesID) (*settlement.TimeSeries, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, snaps := range r.data {
		for _, snap := range snaps {
			if snap.ID == id {
				return settlement.RestoreTimeSeries(snap), nil
			}
		}
	}
	return nil, nil
}

// FindLatest returns the latest version or nil.
func (r *TimeSeriesRepository) FindLatest(ctx context.Context, meteringPointID string, period settlement.Period) (*settlement.TimeSeries, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, snap := range r.data[seriesKey(meteringPointID, period)] {
		if snap.IsLatest {
			return settlement.RestoreTimeSeries(snap), nil
		}
	}
	return nil, nil
}

// FindByTransaction returns the version created by transactionID or nil.
func (r *TimeSeriesRepository) FindByTransaction(ctx context.Context, meteringPointID string, period settlement.Period, transactionID string) (*settlement.TimeSeries, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, snap := range r.data[seriesKey(meteringPointID, period)] {
		if snap.TransactionID == transactionID {
			return settlement.RestoreTimeSeries(snap), nil
		}
	}
	return nil, nil
}

// ListVersions returns every version, oldest first.
func (r *TimeSeriesRepository) ListVersions(ctx context.Context, meteringPointID string, period settlement.Period) ([]*settlement.TimeSeries, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps := r.data[seriesKey(meteringPointID, period)]
	result := make([]*settlement.TimeSeries, 0, len(snaps))
	for _, snap := range snaps {
		result = append(result, settlement.RestoreTimeSeries(snap))
	}
	return result, nil
}

// SaveVersion appends next and stores the superseded state of previous.
func (r *TimeSeriesRepository) SaveVersion(ctx context.Context, next, previous *settlement.TimeSeries) error {
	_ = ctx
	if next == nil {
		return settlement.ErrNilTimeSeries
	}
	key := seriesKey(next.MeteringPointID(), next.Period())

	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := r.data[key]
	for _, snap := range snaps {
		if snap.Version == next.Version() {
			return fmt.Errorf("%w: time series version %d exists", settlement.ErrConflict, next.Version())
		}
	}
	if previous != nil {
		for i := range snaps {
			if snaps[i].ID == previous.ID() {
				snaps[i].IsLatest = previous.IsLatest()
			}
		}
	}
	snaps = append(snaps, next.Snapshot())
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Version < snaps[j].Version })
	r.data[key] = snaps
	return nil
}

// PriceRepository is an in-memory repository for prices and their links.
type PriceRepository struct {
	mu    sync.RWMutex
	data  map[settlement.PriceID]*settlement.Price
	links map[string][]settlement.PriceID
}

// NewPriceRepository constructs a repository.
func NewPriceRepository() *PriceRepository {
	return &PriceRepository{
		data:  make(map[settlement.PriceID]*settlement.Price),
		links: make(map[string][]settlement.PriceID),
	}
}

// Get loads a price or returns settlement.ErrNotFound.
func (r *PriceRepository) Get(ctx context.Context, id settlement.PriceID) (*settlement.Price, error) {
	_ = ctx
	r.mu.RLock()
	p := r.data[id]
	r.mu.RUnlock()
	if p == nil {
		return nil, fmt.Errorf("%w: price %s", settlement.ErrNotFound, id)
	}
	return clonePrice(p)
}

// Save stores a copy of price.
func (r *PriceRepository) Save(ctx context.Context, price *settlement.Price) error {
	_ = ctx
	if price == nil {
		return settlement.ErrEmptyPriceID
	}
	cp, err := clonePrice(price)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.data[price.ID()] = cp
	r.mu.Unlock()
	return nil
}

// Link makes id apply to meteringPointID.
func (r *PriceRepository) Link(ctx context.Context, meteringPointID string, id settlement.PriceID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.links[meteringPointID] {
		if existing == id {
			return nil
		}
	}
	r.links[meteringPointID] = append(r.links[meteringPointID], id)
	return nil
}

// ListForMeteringPoint returns the linked prices in link order.
func (r *PriceRepository) ListForMeteringPoint(ctx context.Context, meteringPointID string) ([]*settlement.Price, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.links[meteringPointID]
	result := make([]*settlement.Price, 0, len(ids))
	for _, id := range ids {
		p := r.data[id]
		if p == nil {
			continue
		}
		cp, err := clonePrice(p)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

func clonePrice(p *settlement.Price) (*settlement.Price, error) {
	return settlement.RestorePrice(p.ID(), p.Attributes(), p.Points().All())
}

// RateSeriesRepository is an in-memory repository for spot and margin series.
type RateSeriesRepository struct {
	mu   sync.RWMutex
	data map[string]*settlement.RateSeries
}

// NewRateSeriesRepository constructs a repository.
func NewRateSeriesRepository() *RateSeriesRepository {
	return &RateSeriesRepository{data: make(map[string]*settlement.RateSeries)}
}

// GetSeries returns the series for key or nil.
func (r *RateSeriesRepository) GetSeries(ctx context.Context, key string) (*settlement.RateSeries, error) {
	_ = ctx
	r.mu.RLock()
	s := r.data[key]
	r.mu.RUnlock()
	if s == nil {
		return nil, nil
	}
	return cloneSeries(s), nil
}

// SaveSeries stores a copy of series.
func (r *RateSeriesRepository) SaveSeries(ctx context.Context, series *settlement.RateSeries) error {
	_ = ctx
	if series == nil || series.Key == "" {
		return fmt.Errorf("%w: empty series key", settlement.ErrPrecondition)
	}
	r.mu.Lock()
	r.data[series.Key] = cloneSeries(series)
	r.mu.Unlock()
	return nil
}

func cloneSeries(s *settlement.RateSeries) *settlement.RateSeries {
	cp := *s
	cp.Points = settlement.NewPricePoints(s.Points.All()...)
	return &cp
}

// SettlementRepository is an in-memory repository for settlements.
type SettlementRepository struct {
	mu       sync.RWMutex
	data     map[settlement.SettlementID]settlement.SettlementSnapshot
	sequence int64
}

// NewSettlementRepository constructs a repository.
func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{data: make(map[settlement.SettlementID]settlement.SettlementSnapshot)}
}

// Get loads a settlement or returns settlement.ErrNotFound.
func (r *SettlementRepository) Get(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	_ = ctx
	r.mu.RLock()
	snap, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: settlement %s", settlement.ErrNotFound, id)
	}
	return settlement.RestoreSettlement(snap), nil
}

// Save stores a settlement, overwriting an existing one.
func (r *SettlementRepository) Save(ctx context.Context, s *settlement.Settlement) error {
	_ = ctx
	if s == nil {
		return settlement.ErrNilSettlement
	}
	r.mu.Lock()
	r.data[s.ID()] = s.Snapshot()
	r.mu.Unlock()
	return nil
}

// SaveCorrection stores correction and previous together. It fails with a
// conflict when previous already has a correction.
func (r *SettlementRepository) SaveCorrection(ctx context.Context, correction, previous *settlement.Settlement) error {
	_ = ctx
	if correction == nil || previous == nil {
		return settlement.ErrNilSettlement
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.correctionOfLocked(previous.ID()) != nil {
		return settlement.ErrCorrectionInProgress
	}
	r.data[correction.ID()] = correction.Snapshot()
	r.data[previous.ID()] = previous.Snapshot()
	return nil
}

// FindCorrectionOf returns the correction linked to previousID or nil.
func (r *SettlementRepository) FindCorrectionOf(ctx context.Context, previousID settlement.SettlementID) (*settlement.Settlement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if snap := r.correctionOfLocked(previousID); snap != nil {
		return settlement.RestoreSettlement(*snap), nil
	}
	return nil, nil
}

func (r *SettlementRepository) correctionOfLocked(previousID settlement.SettlementID) *settlement.SettlementSnapshot {
	for _, snap := range r.data {
		if snap.PreviousSettlementID != nil && *snap.PreviousSettlementID == previousID {
			s := snap
			return &s
		}
	}
	return nil
}

// NextDocumentNumber returns a zero padded sequence number.
func (r *SettlementRepository) NextDocumentNumber(ctx context.Context) (string, error) {
	_ = ctx
	r.mu.Lock()
	r.sequence++
	n := r.sequence
	r.mu.Unlock()
	return fmt.Sprintf("%08d", n), nil
}

// List returns every stored settlement ordered by calculation time.
func (r *SettlementRepository) List(ctx context.Context) []*settlement.Settlement {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*settlement.Settlement, 0, len(r.data))
	for _, snap := range r.data {
		result = append(result, settlement.RestoreSettlement(snap))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CalculatedAt().Equal(result[j].CalculatedAt()) {
			return result[i].DocumentNumber() < result[j].DocumentNumber()
		}
		return result[i].CalculatedAt().Before(result[j].CalculatedAt())
	})
	return result
}
