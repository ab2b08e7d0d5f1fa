package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingModel selects which source produces the electricity cost line.
type PricingModel string

const (
	// PricingSpotAddon bills spot price and supplier margin as separate lines.
	PricingSpotAddon PricingModel = "SpotAddon"
	// PricingFixed bills one all-in margin line and ignores the spot series.
	PricingFixed PricingModel = "Fixed"
)

// IsValid reports whether m is a known model. The empty model means SpotAddon.
func (m PricingModel) IsValid() bool {
	switch m {
	case "", PricingSpotAddon, PricingFixed:
		return true
	}
	return false
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Calculator prices time series into settlements and corrections.
type Calculator struct {
	clock    Clock
	currency string
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithClock sets the clock used for calculatedAt.
func WithClock(clock Clock) CalculatorOption {
	return func(c *Calculator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCurrency sets the settlement currency.
func WithCurrency(currency string) CalculatorOption {
	return func(c *Calculator) {
		if currency != "" {
			c.currency = currency
		}
	}
}

// NewCalculator constructs a calculator.
func NewCalculator(opts ...CalculatorOption) *Calculator {
	c := &Calculator{clock: SystemClock{}, currency: DefaultCurrency}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CalculationInput is everything needed to price one time series.
type CalculationInput struct {
	TimeSeries *TimeSeries
	Supply     Supply
	// Prices holds tariffs, subscriptions and fees. Fees are never billed here.
	Prices       []*Price
	SpotPrices   *RateSeries
	Margin       *RateSeries
	PricingModel PricingModel
	// DocumentNumber is assigned by the caller.
	DocumentNumber string
}

// CorrectionInput adds the previously billed settlement to a calculation.
type CorrectionInput struct {
	CalculationInput
	Previous *Settlement
}

// Calculate prices a time series. It fails on an empty series.
func (c *Calculator) Calculate(in CalculationInput) (*Settlement, error) {
	lines, err := c.computeLines(in)
	if err != nil {
		return nil, err
	}
	ts := in.TimeSeries
	return &Settlement{
		id:                SettlementID(uuid.NewString()),
		meteringPointID:   ts.MeteringPointID(),
		supplyID:          in.Supply.ID,
		timeSeriesID:      ts.ID(),
		timeSeriesVersion: ts.Version(),
		period:            ts.SettlementPeriod(),
		lines:             lines,
		totalEnergy:       ts.TotalEnergy(),
		totalAmount:       sumLines(lines, c.currency),
		status:            StatusCalculated,
		documentNumber:    in.DocumentNumber,
		calculatedAt:      c.clock.Now().UTC(),
	}, nil
}

// CalculateCorrection recomputes the settlement for a newer series version and
// returns only the per-line deltas against the previous, billed settlement.
// Lines whose delta is zero are left out. A new line without a counterpart in
// the previous settlement is billed in full; previous lines without a
// counterpart are not credited.
func (c *Calculator) CalculateCorrection(in CorrectionInput) (*Settlement, error) {
	prev := in.Previous
	if prev == nil {
		return nil, ErrNilSettlement
	}
	ts := in.TimeSeries
	if ts == nil {
		return nil, ErrNilTimeSeries
	}
	if !prev.Status().IsBilled() {
		return nil, ErrPreviousNotBilled
	}
	if ts.MeteringPointID() != prev.MeteringPointID() {
		return nil, ErrMeteringPointMismatch
	}
	if ts.Version() <= prev.TimeSeriesVersion() {
		return nil, ErrStaleTimeSeries
	}

	current, err := c.computeLines(in.CalculationInput)
	if err != nil {
		return nil, err
	}
	period := ts.SettlementPeriod()
	if !period.Overlaps(prev.Period()) {
		return nil, ErrPeriodMismatch
	}

	previous := prev.lines
	used := make([]bool, len(previous))
	deltas := make([]SettlementLine, 0, len(current))
	for _, line := range current {
		prevAmount := decimal.Zero
		prevQuantity := ZeroEnergy()
		if idx := findCounterpart(line, previous, used); idx >= 0 {
			used[idx] = true
			prevAmount = previous[idx].Amount
			prevQuantity = previous[idx].Quantity
		}
		delta := line.Amount.Sub(prevAmount)
		if delta.IsZero() {
			continue
		}
		line.Amount = delta
		line.Quantity = line.Quantity.Sub(prevQuantity)
		deltas = append(deltas, line)
	}

	previousID := prev.ID()
	return &Settlement{
		id:                   SettlementID(uuid.NewString()),
		meteringPointID:      ts.MeteringPointID(),
		supplyID:             in.Supply.ID,
		timeSeriesID:         ts.ID(),
		timeSeriesVersion:    ts.Version(),
		period:               period,
		lines:                deltas,
		totalEnergy:          ts.TotalEnergy().Sub(prev.TotalEnergy()),
		totalAmount:          sumLines(deltas, c.currency),
		status:               StatusCalculated,
		isCorrection:         true,
		previousSettlementID: &previousID,
		documentNumber:       in.DocumentNumber,
		calculatedAt:         c.clock.Now().UTC(),
	}, nil
}

func (c *Calculator) computeLines(in CalculationInput) ([]SettlementLine, error) {
	ts := in.TimeSeries
	if ts == nil {
		return nil, ErrNilTimeSeries
	}
	if ts.Len() == 0 {
		return nil, ErrEmptyTimeSeries
	}
	if !in.PricingModel.IsValid() {
		return nil, ErrInvalidPricingModel
	}
	if in.Supply.MeteringPointID != "" && in.Supply.MeteringPointID != ts.MeteringPointID() {
		return nil, ErrMeteringPointMismatch
	}

	var lines []SettlementLine
	emit := func(line SettlementLine, ok bool) {
		if ok {
			lines = append(lines, line)
		}
	}

	if in.SpotPrices != nil && in.PricingModel != PricingFixed {
		emit(meteredLine(ts, in.SpotPrices.Description, nil, SourceSpotPrice, in.SpotPrices.EffectivePriceFor))
	}
	if in.Margin != nil {
		emit(meteredLine(ts, in.Margin.Description, nil, SourceSupplierMargin, in.Margin.EffectivePriceFor))
	}
	for _, p := range in.Prices {
		if p == nil {
			continue
		}
		switch p.Type() {
		case PriceTypeFee:
			continue
		case PriceTypeTariff:
			emit(meteredLine(ts, p.Description(), priceIDPtr(p.ID()), SourceDataHubCharge, p.EffectivePriceFor))
		case PriceTypeSubscription:
			emit(subscriptionLine(ts.SettlementPeriod(), p))
		}
	}
	return lines, nil
}

type unitPriceFunc func(start, end time.Time, obsRes Resolution) (decimal.Decimal, bool)

// meteredLine multiplies every observation by its effective unit price.
// Amounts accumulate unrounded; only the line total is rounded.
func meteredLine(ts *TimeSeries, description string, id *PriceID, source LineSource, priceFor unitPriceFunc) (SettlementLine, bool) {
	amount := decimal.Zero
	quantity := ZeroEnergy()
	priced := false
	for _, o := range ts.observations {
		unit, ok := priceFor(o.Timestamp, ts.observationEnd(o), ts.resolution)
		if !ok {
			continue
		}
		priced = true
		amount = amount.Add(unit.Mul(o.Quantity.KWh()))
		quantity = quantity.Add(o.Quantity)
	}
	rounded := RoundAmount(amount)
	if !priced || rounded.IsZero() {
		return SettlementLine{}, false
	}
	return SettlementLine{
		Description: description,
		PriceID:     id,
		Quantity:    quantity,
		UnitPrice:   averageUnitPrice(amount, quantity),
		Amount:      rounded,
		Source:      source,
	}, true
}

// subscriptionLine bills the daily value for every whole day of the period.
func subscriptionLine(period Period, p *Price) (SettlementLine, bool) {
	days := period.WholeDays()
	if days <= 0 {
		return SettlementLine{}, false
	}
	amount := decimal.Zero
	for d := 0; d < days; d++ {
		day := period.Start().AddDate(0, 0, d)
		if !p.Validity().Contains(day) {
			continue
		}
		if value, ok := p.GetPriceAt(day); ok {
			amount = amount.Add(value)
		}
	}
	rounded := RoundAmount(amount)
	if rounded.IsZero() {
		return SettlementLine{}, false
	}
	return SettlementLine{
		Description: p.Description(),
		PriceID:     priceIDPtr(p.ID()),
		Quantity:    ZeroEnergy(),
		UnitPrice:   amount.Div(decimal.NewFromInt(int64(days))).Round(unitPricePlaces),
		Amount:      rounded,
		Source:      SourceDataHubCharge,
	}, true
}
