package reconciliation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	settlement "supply-billing/internal/settlement/domain"
)

var january = settlement.MustPeriod(
	time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestReconcilePendingWithoutExternal(t *testing.T) {
	r, err := Reconcile("DK1", january, []ChargeAmount{{ChargeID: "40000", Amount: d("10.50")}}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, r.Status())
	assert.True(t, r.OurTotal().Equal(d("10.50")))
	_, ok := r.DataHubTotal()
	assert.False(t, ok)
	_, ok = r.WholesaleSettlementID()
	assert.False(t, ok)
	assert.Empty(t, r.Lines())
}

func TestReconcileUnionsChargeIDs(t *testing.T) {
	ours := []ChargeAmount{
		{ChargeID: "40000", Amount: d("100.00")},
		{ChargeID: "41000", Amount: d("20.00")},
		{ChargeID: "40000", Amount: d("5.00")},
	}
	external := &WholesaleSettlement{
		ID:       "ws-1",
		GridArea: "DK1",
		Period:   january,
		Lines: []WholesaleLine{
			{ChargeID: "40000", Amount: d("105.00")},
			{ChargeID: "45013", Amount: d("7.50")},
		},
	}
	r, err := Reconcile("DK1", january, ours, external)
	require.NoError(t, err)

	require.Len(t, r.Lines(), 3)
	assert.Equal(t, []string{"40000", "41000", "45013"}, []string{r.Lines()[0].ChargeID, r.Lines()[1].ChargeID, r.Lines()[2].ChargeID})
	assert.True(t, r.Lines()[0].Difference.IsZero())
	assert.True(t, r.Lines()[1].DataHubAmount.IsZero())
	assert.True(t, r.Lines()[1].Difference.Equal(d("20.00")))
	assert.True(t, r.Lines()[2].OurAmount.IsZero())
	assert.True(t, r.Lines()[2].Difference.Equal(d("-7.50")))

	assert.True(t, r.OurTotal().Equal(d("125.00")))
	theirs, ok := r.DataHubTotal()
	require.True(t, ok)
	assert.True(t, theirs.Equal(d("112.50")))
	assert.True(t, r.DifferenceAmount().Equal(d("12.50")))
	assert.Equal(t, "11.11", r.DifferencePercent().StringFixed(2))
	assert.Equal(t, StatusDiscrepancy, r.Status())
	id, _ := r.WholesaleSettlementID()
	assert.Equal(t, "ws-1", id)
}

func TestReconcileToleranceLaw(t *testing.T) {
	external := &WholesaleSettlement{ID: "ws-1", Lines: []WholesaleLine{{ChargeID: "40000", Amount: d("100.00")}}}
	cases := []struct {
		ours      string
		tolerance string
		want      Status
	}{
		{"100.00", "0", StatusMatched},
		{"100.01", "0.01", StatusMatched},
		{"99.99", "0.01", StatusMatched},
		{"100.02", "0.01", StatusDiscrepancy},
		{"99.98", "0.01", StatusDiscrepancy},
		{"105.00", "5", StatusMatched},
		{"105.01", "5", StatusDiscrepancy},
	}
	for _, tc := range cases {
		r, err := Reconcile("DK1", january, []ChargeAmount{{ChargeID: "40000", Amount: d(tc.ours)}}, external, WithTolerance(d(tc.tolerance)))
		require.NoError(t, err)
		assert.Equal(t, tc.want, r.Status(), "ours=%s tolerance=%s", tc.ours, tc.tolerance)
	}
}

func TestReconcileDefaultTolerance(t *testing.T) {
	external := &WholesaleSettlement{Lines: []WholesaleLine{{ChargeID: "40000", Amount: d("100.00")}}}
	r, err := Reconcile("DK1", january, []ChargeAmount{{ChargeID: "40000", Amount: d("100.01")}}, external)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, r.Status())
}

func TestReconcileBothSidesEmptyMatches(t *testing.T) {
	r, err := Reconcile("DK1", january, nil, &WholesaleSettlement{ID: "ws-0"})
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, r.Status())
	assert.True(t, r.OurTotal().IsZero())
	assert.True(t, r.DifferencePercent().IsZero())
	assert.Empty(t, r.Lines())
}

func TestReconcileValidation(t *testing.T) {
	_, err := Reconcile("", january, nil, nil)
	require.ErrorIs(t, err, ErrEmptyGridArea)
	_, err = Reconcile("DK1", january, nil, nil, WithTolerance(d("-1")))
	require.ErrorIs(t, err, ErrNegativeTolerance)
}

func TestNoteSurvivesSnapshot(t *testing.T) {
	r, err := Reconcile("DK1", january, nil, &WholesaleSettlement{ID: "ws-0"})
	require.NoError(t, err)
	r.SetNote("checked with grid operator")

	restored := Restore(r.Snapshot())
	assert.Equal(t, "checked with grid operator", restored.Note())
	assert.Equal(t, r.Snapshot(), restored.Snapshot())
}
