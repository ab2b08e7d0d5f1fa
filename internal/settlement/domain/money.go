package settlement

import "github.com/shopspring/decimal"

const (
	amountPlaces    = 2
	unitPricePlaces = 6

	// DefaultCurrency is used when a settlement is built without an explicit currency.
	DefaultCurrency = "DKK"
)

// Money is a decimal amount labelled with an ISO currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney builds an unrounded amount.
func NewMoney(amount decimal.Decimal, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: currency}
}

// ZeroMoney returns 0 in the given currency.
func ZeroMoney(currency string) Money { return NewMoney(decimal.Zero, currency) }

// Add sums two amounts. The receiver's currency wins.
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}
}

// Sub subtracts other from m.
func (m Money) Sub(other Money) Money {
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}
}

// Rounded rounds to two places, half away from zero.
func (m Money) Rounded() Money {
	return Money{Amount: RoundAmount(m.Amount), Currency: m.Currency}
}

func (m Money) IsZero() bool { return m.Amount.IsZero() }

func (m Money) String() string {
	return m.Amount.StringFixed(amountPlaces) + " " + m.Currency
}

// RoundAmount rounds a currency amount to two places, half away from zero.
func RoundAmount(v decimal.Decimal) decimal.Decimal {
	return v.Round(amountPlaces)
}

// averageUnitPrice is amount/quantity, or zero when quantity is zero.
func averageUnitPrice(amount decimal.Decimal, quantity EnergyQuantity) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return amount.Div(quantity.KWh()).Round(unitPricePlaces)
}
