package settlement

import "github.com/shopspring/decimal"

// LineSource says where a settlement line's price came from.
type LineSource string

const (
	SourceSpotPrice      LineSource = "SpotPrice"
	SourceSupplierMargin LineSource = "SupplierMargin"
	SourceDataHubCharge  LineSource = "DataHubCharge"
	SourceMigrated       LineSource = "Migrated"
)

// IsValid reports whether s is a known source.
func (s LineSource) IsValid() bool {
	switch s {
	case SourceSpotPrice, SourceSupplierMargin, SourceDataHubCharge, SourceMigrated:
		return true
	}
	return false
}

// SettlementLine is one priced component of a settlement.
// PriceID is nil for spot, margin and migrated lines without a price reference.
type SettlementLine struct {
	Description string
	PriceID     *PriceID
	Quantity    EnergyQuantity
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	Source      LineSource
}

// HasPriceID reports whether the line carries a non-empty price reference.
func (l SettlementLine) HasPriceID() bool {
	return l.PriceID != nil && *l.PriceID != ""
}

// Matches applies the correction matching rules in order:
// same price id, then same spot or margin source, otherwise no match.
// Tariff lines never match by source alone since DataHubCharge is shared by
// every tariff; a tariff with a price id on one side only stays unmatched.
func (l SettlementLine) Matches(other SettlementLine) bool {
	if l.HasPriceID() && other.HasPriceID() && *l.PriceID == *other.PriceID {
		return true
	}
	if l.Source != other.Source {
		return false
	}
	return l.Source == SourceSpotPrice || l.Source == SourceSupplierMargin
}

// findCounterpart returns the index of the unused previous line that line
// corresponds to, or -1. A price id match wins over a source match.
func findCounterpart(line SettlementLine, previous []SettlementLine, used []bool) int {
	if line.HasPriceID() {
		for i, prev := range previous {
			if !used[i] && prev.HasPriceID() && *prev.PriceID == *line.PriceID {
				return i
			}
		}
	}
	for i, prev := range previous {
		if !used[i] && line.Matches(prev) {
			return i
		}
	}
	return -1
}

func priceIDPtr(id PriceID) *PriceID { return &id }
