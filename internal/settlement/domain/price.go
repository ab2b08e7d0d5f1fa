package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceID identifies a price (charge) definition.
type PriceID string

// PriceType selects how a price is billed.
type PriceType string

const (
	PriceTypeTariff       PriceType = "Tariff"
	PriceTypeSubscription PriceType = "Subscription"
	PriceTypeFee          PriceType = "Fee"
)

// IsValid reports whether t is a known price type.
func (t PriceType) IsValid() bool {
	switch t {
	case PriceTypeTariff, PriceTypeSubscription, PriceTypeFee:
		return true
	}
	return false
}

// PriceCategory is the completeness slot a price fills.
type PriceCategory string

const (
	CategorySpotPrice          PriceCategory = "SpotPrice"
	CategoryGridTariff         PriceCategory = "GridTariff"
	CategorySystemTariff       PriceCategory = "SystemTariff"
	CategoryTransmissionTariff PriceCategory = "TransmissionTariff"
	CategoryElectricityTax     PriceCategory = "ElectricityTax"
	CategoryBalanceTariff      PriceCategory = "BalanceTariff"
	CategorySupplierMargin     PriceCategory = "SupplierMargin"
	CategoryOther              PriceCategory = "Other"
)

// IsValid reports whether c is a known category.
func (c PriceCategory) IsValid() bool {
	switch c {
	case CategorySpotPrice, CategoryGridTariff, CategorySystemTariff, CategoryTransmissionTariff,
		CategoryElectricityTax, CategoryBalanceTariff, CategorySupplierMargin, CategoryOther:
		return true
	}
	return false
}

// PriceAttributes are the mutable master-data fields of a price.
type PriceAttributes struct {
	ChargeID      string
	OwnerID       string
	Type          PriceType
	Description   string
	Validity      Period
	VATExempt     bool
	IsTax         bool
	IsPassThrough bool
	// Resolution is empty when the price has no fixed point spacing.
	Resolution Resolution
	Category   PriceCategory
}

// Validate enforces the price invariants.
func (a PriceAttributes) Validate() error {
	if a.ChargeID == "" {
		return ErrEmptyChargeID
	}
	if !a.Type.IsValid() {
		return ErrInvalidPriceType
	}
	if !a.Category.IsValid() {
		return ErrInvalidPriceCategory
	}
	if a.Resolution != "" && !a.Resolution.IsValid() {
		return ErrInvalidResolution
	}
	if a.Validity.IsZero() {
		return ErrZeroTimestamp
	}
	if a.IsTax && a.Type != PriceTypeTariff {
		return ErrTaxRequiresTariff
	}
	if a.Type == PriceTypeFee && a.IsPassThrough {
		return ErrFeePassThrough
	}
	return nil
}

// Price is a tariff, subscription or fee definition with its ordered points.
type Price struct {
	id     PriceID
	attrs  PriceAttributes
	points PricePoints
}

// NewPrice validates attrs and creates a price without points.
func NewPrice(id PriceID, attrs PriceAttributes) (*Price, error) {
	if id == "" {
		return nil, ErrEmptyPriceID
	}
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	return &Price{id: id, attrs: attrs}, nil
}

// RestorePrice rebuilds a persisted price.
func RestorePrice(id PriceID, attrs PriceAttributes, points []PricePoint) (*Price, error) {
	p, err := NewPrice(id, attrs)
	if err != nil {
		return nil, err
	}
	p.points = NewPricePoints(points...)
	return p, nil
}

// Update replaces the master-data fields after validating them.
func (p *Price) Update(attrs PriceAttributes) error {
	if err := attrs.Validate(); err != nil {
		return err
	}
	p.attrs = attrs
	return nil
}

func (p *Price) ID() PriceID { return p.id }
func (p *Price) ChargeID() string { return p.attrs.ChargeID }
func (p *Price) OwnerID() string { return p.attrs.OwnerID }
func (p *Price) Type() PriceType { return p.attrs.Type }
func (p *Price) Description() string { return p.attrs.Description }
func (p *Price) Validity() Period { return p.attrs.Validity }
func (p *Price) VATExempt() bool { return p.attrs.VATExempt }
func (p *Price) IsTax() bool { return p.attrs.IsTax }
func (p *Price) IsPassThrough() bool { return p.attrs.IsPassThrough }
func (p *Price) Resolution() Resolution { return p.attrs.Resolution }
func (p *Price) Category() PriceCategory { return p.attrs.Category }
func (p *Price) Attributes() PriceAttributes { return p.attrs }
func (p *Price) Points() PricePoints { return p.points }

// GetPriceAt returns the step value at t, or false when t precedes the first point.
func (p *Price) GetPriceAt(t time.Time) (decimal.Decimal, bool) {
	return p.points.At(t)
}

// ReplacePricePoints swaps the points in [start, end) for points and returns the count inserted.
func (p *Price) ReplacePricePoints(start, end time.Time, points []PricePoint) (int, error) {
	return p.points.Replace(start, end, points)
}

// EffectivePriceFor resolves the unit price for an observation spanning [start, end)
// at observation resolution obsRes. Outside the validity period there is no price.
func (p *Price) EffectivePriceFor(start, end time.Time, obsRes Resolution) (decimal.Decimal, bool) {
	if !p.attrs.Validity.Contains(start) {
		return decimal.Zero, false
	}
	return effectiveUnitPrice(p.points, p.attrs.Resolution, obsRes, start, end)
}

// label is the charge reference used in validation messages.
func (p *Price) label() string {
	if p.attrs.Description != "" {
		return p.attrs.ChargeID + " (" + p.attrs.Description + ")"
	}
	return p.attrs.ChargeID
}
