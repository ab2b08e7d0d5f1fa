package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSeries is a per-kWh price series that is not a charge of its own: the
// wholesale spot price of a price area or a product's supplier margin.
type RateSeries struct {
	Key         string
	Description string
	Category    PriceCategory
	Resolution  Resolution
	Points      PricePoints
}

// NewSpotSeries builds the spot price series for a price area.
func NewSpotSeries(area string, resolution Resolution, points ...PricePoint) *RateSeries {
	return &RateSeries{
		Key:         SpotSeriesKey(area),
		Description: "Spot price " + area,
		Category:    CategorySpotPrice,
		Resolution:  resolution,
		Points:      NewPricePoints(points...),
	}
}

// NewMarginSeries builds a supplier margin series for a product.
func NewMarginSeries(product string, resolution Resolution, points ...PricePoint) *RateSeries {
	return &RateSeries{
		Key:         MarginSeriesKey(product),
		Description: "Supplier margin " + product,
		Category:    CategorySupplierMargin,
		Resolution:  resolution,
		Points:      NewPricePoints(points...),
	}
}

// SpotSeriesKey is the storage key of an area's spot series.
func SpotSeriesKey(area string) string { return "spot:" + area }

// MarginSeriesKey is the storage key of a product's margin series.
func MarginSeriesKey(product string) string { return "margin:" + product }

// GetPriceAt returns the step value at t.
func (r *RateSeries) GetPriceAt(t time.Time) (decimal.Decimal, bool) {
	return r.Points.At(t)
}

// ReplacePricePoints swaps the points in [start, end) and returns the count inserted.
func (r *RateSeries) ReplacePricePoints(start, end time.Time, points []PricePoint) (int, error) {
	return r.Points.Replace(start, end, points)
}

// EffectivePriceFor resolves the unit price for an observation spanning [start, end).
func (r *RateSeries) EffectivePriceFor(start, end time.Time, obsRes Resolution) (decimal.Decimal, bool) {
	return effectiveUnitPrice(r.Points, r.Resolution, obsRes, start, end)
}
