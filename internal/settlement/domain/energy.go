package settlement

import "github.com/shopspring/decimal"

const energyPlaces = 3

// EnergyQuantity is a signed kWh quantity with three decimal places.
type EnergyQuantity struct {
	kwh decimal.Decimal
}

// NewEnergy rounds value to three decimal places.
func NewEnergy(kwh decimal.Decimal) EnergyQuantity {
	return EnergyQuantity{kwh: kwh.Round(energyPlaces)}
}

// EnergyFromFloat is a convenience for literals and tests.
func EnergyFromFloat(kwh float64) EnergyQuantity {
	return NewEnergy(decimal.NewFromFloat(kwh))
}

// ZeroEnergy is 0.000 kWh.
func ZeroEnergy() EnergyQuantity { return EnergyQuantity{kwh: decimal.Zero} }

// KWh returns the underlying decimal.
func (e EnergyQuantity) KWh() decimal.Decimal { return e.kwh }

func (e EnergyQuantity) Add(other EnergyQuantity) EnergyQuantity {
	return EnergyQuantity{kwh: e.kwh.Add(other.kwh)}
}

func (e EnergyQuantity) Sub(other EnergyQuantity) EnergyQuantity {
	return EnergyQuantity{kwh: e.kwh.Sub(other.kwh)}
}

func (e EnergyQuantity) Neg() EnergyQuantity { return EnergyQuantity{kwh: e.kwh.Neg()} }

func (e EnergyQuantity) IsZero() bool { return e.kwh.IsZero() }

func (e EnergyQuantity) Equal(other EnergyQuantity) bool { return e.kwh.Equal(other.kwh) }

// String renders the quantity with exactly three decimals.
func (e EnergyQuantity) String() string { return e.kwh.StringFixed(energyPlaces) }
