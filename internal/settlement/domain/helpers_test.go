package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testMeteringPoint = "571313180000000001"

var (
	jan2026 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb2026 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSupply() Supply {
	return Supply{
		ID:              "supply-1",
		MeteringPointID: testMeteringPoint,
		CustomerID:      "customer-1",
		SupplyPeriod:    MustPeriod(jan2026.AddDate(-1, 0, 0), jan2026.AddDate(1, 0, 0)),
	}
}

// hourlySeries builds a January 2026 series with the same kWh in every hour.
func hourlySeries(t *testing.T, kwh string, version int) *TimeSeries {
	t.Helper()
	ts, err := NewTimeSeries(TimeSeriesHeader{
		MeteringPointID: testMeteringPoint,
		Period:          MustPeriod(jan2026, feb2026),
		Resolution:      ResolutionHour,
		Version:         version,
		ReceivedAt:      jan2026,
	})
	require.NoError(t, err)
	for at := jan2026; at.Before(feb2026); at = at.Add(time.Hour) {
		require.NoError(t, ts.AddObservation(Observation{Timestamp: at, Quantity: NewEnergy(dec(kwh)), Quality: QualityMeasured}))
	}
	return ts
}

func newTestPrice(t *testing.T, id string, typ PriceType, category PriceCategory, value string) *Price {
	t.Helper()
	validFrom := jan2026.AddDate(-1, 0, 0)
	p, err := NewPrice(PriceID(id), PriceAttributes{
		ChargeID:    id,
		OwnerID:     "5790000610099",
		Type:        typ,
		Description: id + " description",
		Validity:    mustOpenPeriod(t, validFrom),
		Category:    category,
	})
	require.NoError(t, err)
	_, err = p.ReplacePricePoints(validFrom, validFrom.Add(time.Hour), []PricePoint{{Timestamp: validFrom, Value: dec(value)}})
	require.NoError(t, err)
	return p
}

func mustOpenPeriod(t *testing.T, start time.Time) Period {
	t.Helper()
	p, err := NewOpenPeriod(start)
	require.NoError(t, err)
	return p
}

func testCalculator() *Calculator {
	return NewCalculator(WithClock(fixedClock{now: feb2026.Add(2 * time.Hour)}))
}
