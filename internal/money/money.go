// Package money holds amounts as integer minor units tagged with an ISO currency.
package money

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/internal/billingerr"
)

// BasisPointsScale is 100% expressed in basis points.
const BasisPointsScale = 10_000

var (
	ErrCurrencyMismatch = billingerr.Sentinel("money_currency_mismatch", billingerr.ErrCurrencyMismatch)
	ErrInvalidCurrency  = billingerr.Sentinel("money_invalid_currency", billingerr.ErrValidationFailed)
)

type Money struct {
	MinorUnits int64  `json:"minor_units"`
	Currency   string `json:"currency"`
}

func New(minorUnits int64, currency string) Money {
	return Money{MinorUnits: minorUnits, Currency: NormalizeCurrency(currency)}
}

func Zero(currency string) Money {
	return New(0, currency)
}

func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCurrency accepts three-letter alphabetic codes.
func ValidateCurrency(code string) error {
	code = NormalizeCurrency(code)
	if len(code) != 3 {
		return errors.Wrapf(ErrInvalidCurrency, "currency %q", code)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return errors.Wrapf(ErrInvalidCurrency, "currency %q", code)
		}
	}
	return nil
}

func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

func (m Money) Add(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s + %s", m.Currency, other.Currency)
	}
	return Money{MinorUnits: m.MinorUnits + other.MinorUnits, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, errors.Wrapf(ErrCurrencyMismatch, "%s - %s", m.Currency, other.Currency)
	}
	return Money{MinorUnits: m.MinorUnits - other.MinorUnits, Currency: m.Currency}, nil
}

// MulQuantity multiplies by a decimal quantity, rounding half to even.
func (m Money) MulQuantity(quantity decimal.Decimal) Money {
	product := decimal.NewFromInt(m.MinorUnits).Mul(quantity).RoundBank(0)
	return Money{MinorUnits: product.IntPart(), Currency: m.Currency}
}

// PercentOf returns bp basis points of m, rounding half up.
func (m Money) PercentOf(bp int64) Money {
	share := decimal.NewFromInt(m.MinorUnits).
		Mul(decimal.NewFromInt(bp)).
		DivRound(decimal.NewFromInt(BasisPointsScale), 0)
	return Money{MinorUnits: share.IntPart(), Currency: m.Currency}
}

// ExtractInclusive returns the tax already contained in a gross amount at bp basis points.
func (m Money) ExtractInclusive(bp int64) Money {
	if bp <= 0 {
		return Zero(m.Currency)
	}
	net := decimal.NewFromInt(m.MinorUnits).
		Mul(decimal.NewFromInt(BasisPointsScale)).
		DivRound(decimal.NewFromInt(BasisPointsScale+bp), 0)
	return Money{MinorUnits: m.MinorUnits - net.IntPart(), Currency: m.Currency}
}

func (m Money) Min(other Money) Money {
	if other.MinorUnits < m.MinorUnits {
		return Money{MinorUnits: other.MinorUnits, Currency: m.Currency}
	}
	return m
}

func (m Money) Neg() Money {
	return Money{MinorUnits: -m.MinorUnits, Currency: m.Currency}
}

func (m Money) IsZero() bool     { return m.MinorUnits == 0 }
func (m Money) IsNegative() bool { return m.MinorUnits < 0 }
func (m Money) IsPositive() bool { return m.MinorUnits > 0 }
