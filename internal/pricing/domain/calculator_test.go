package domain

import (
	"testing"
	"time"

	crdberrors "github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func int64Ptr(v int64) *int64 { return &v }

func TestComputeLineExclusiveTax(t *testing.T) {
	res, err := ComputeLine(LineInput{
		Quantity:   decimal.NewFromInt(1),
		UnitAmount: 10000,
		Currency:   "usd",
		TaxRate:    &TaxRate{PercentageBP: 1000, Active: true},
		At:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Amount)
	assert.Equal(t, int64(1000), res.TaxAmount)
	assert.Equal(t, int64(11000), res.TotalAmount)
	assert.Equal(t, int64(10000), res.NetAmount)
	assert.True(t, res.TaxApplied)
	assert.False(t, res.TaxInclusive)
}

func TestComputeLineInclusiveTax(t *testing.T) {
	res, err := ComputeLine(LineInput{
		Quantity:   decimal.NewFromInt(1),
		UnitAmount: 11000,
		Currency:   "USD",
		TaxRate:    &TaxRate{PercentageBP: 1000, Inclusive: true, Active: true},
		At:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.TaxAmount)
	assert.Equal(t, int64(11000), res.TotalAmount)
	assert.Equal(t, int64(10000), res.NetAmount)
	assert.True(t, res.TaxInclusive)
}

func TestComputeLinePercentageDiscountBeforeTax(t *testing.T) {
	res, err := ComputeLine(LineInput{
		Quantity:   decimal.NewFromInt(2),
		UnitAmount: 5000,
		Currency:   "USD",
		TaxRate:    &TaxRate{PercentageBP: 1000, Active: true},
		Discount:   &Discount{Type: DiscountTypePercentage, PercentageBP: 2000, Active: true},
		At:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Amount)
	assert.Equal(t, int64(2000), res.DiscountAmount)
	assert.Equal(t, int64(800), res.TaxAmount)
	assert.Equal(t, int64(8800), res.TotalAmount)
	assert.Equal(t, res.TotalAmount, res.NetAmount-res.DiscountAmount+res.TaxAmount)
}

func TestComputeLineFixedDiscountIsCapped(t *testing.T) {
	res, err := ComputeLine(LineInput{
		Quantity:   decimal.NewFromInt(1),
		UnitAmount: 300,
		Currency:   "USD",
		Discount:   &Discount{Type: DiscountTypeFixed, AmountOff: 500, Currency: "USD", Active: true},
		At:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), res.DiscountAmount)
	assert.Zero(t, res.TotalAmount)
}

func TestComputeLineSkipsInapplicableDiscount(t *testing.T) {
	expired := now.Add(-time.Hour)
	cases := map[string]*Discount{
		"currency":  {Type: DiscountTypeFixed, AmountOff: 100, Currency: "EUR", Active: true},
		"inactive":  {Type: DiscountTypePercentage, PercentageBP: 1000},
		"expired":   {Type: DiscountTypePercentage, PercentageBP: 1000, Active: true, EndsAt: &expired},
		"minimum":   {Type: DiscountTypePercentage, PercentageBP: 1000, Active: true, MinimumAmount: 5000},
		"exhausted": {Type: DiscountTypePercentage, PercentageBP: 1000, Active: true, MaxRedemptions: int64Ptr(1), CurrentRedemptions: 1},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := ComputeLine(LineInput{
				Quantity:   decimal.NewFromInt(1),
				UnitAmount: 1000,
				Currency:   "USD",
				Discount:   d,
				At:         now,
			})
			require.NoError(t, err)
			assert.False(t, res.DiscountApplied)
			assert.Equal(t, int64(1000), res.TotalAmount)
		})
	}
}

func TestComputeLineHonoursPerCustomerCap(t *testing.T) {
	d := &Discount{Type: DiscountTypePercentage, PercentageBP: 1000, Active: true, MaxRedemptionsPerCustomer: int64Ptr(2)}
	in := LineInput{Quantity: decimal.NewFromInt(1), UnitAmount: 1000, Currency: "USD", Discount: d, At: now}

	in.CustomerRedemptions = 1
	res, err := ComputeLine(in)
	require.NoError(t, err)
	assert.True(t, res.DiscountApplied)
	assert.Equal(t, int64(900), res.TotalAmount)

	in.CustomerRedemptions = 2
	res, err = ComputeLine(in)
	require.NoError(t, err)
	assert.False(t, res.DiscountApplied)
	assert.Equal(t, int64(1000), res.TotalAmount)
}

func TestComputeLineFractionalQuantityRoundsHalfEven(t *testing.T) {
	res, err := ComputeLine(LineInput{
		Quantity:   decimal.RequireFromString("0.5"),
		UnitAmount: 5,
		Currency:   "USD",
		At:         now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Amount)
}

func TestComputeLineIgnoresTaxOutsideWindow(t *testing.T) {
	later := now.Add(time.Hour)
	res, err := ComputeLine(LineInput{
		Quantity:   decimal.NewFromInt(1),
		UnitAmount: 1000,
		Currency:   "USD",
		TaxRate:    &TaxRate{PercentageBP: 1000, Active: true, StartsAt: &later},
		At:         now,
	})
	require.NoError(t, err)
	assert.False(t, res.TaxApplied)
	assert.Zero(t, res.TaxAmount)
}

func TestComputeLineRejectsNegativeInput(t *testing.T) {
	_, err := ComputeLine(LineInput{Quantity: decimal.NewFromInt(-1), UnitAmount: 100, Currency: "USD"})
	require.True(t, crdberrors.Is(err, ErrInvalidLine))
	require.True(t, crdberrors.Is(err, billingerr.ErrValidationFailed))

	_, err = ComputeLine(LineInput{Quantity: decimal.NewFromInt(1), UnitAmount: -1, Currency: "USD"})
	require.True(t, crdberrors.Is(err, ErrInvalidLine))
}

func TestDiscountValidate(t *testing.T) {
	require.NoError(t, Discount{Code: "SPRING", Type: DiscountTypePercentage, PercentageBP: 1500}.Validate())
	require.ErrorIs(t, Discount{Type: DiscountTypePercentage, PercentageBP: 1500}.Validate(), ErrInvalidDiscountCode)
	require.ErrorIs(t, Discount{Code: "X", Type: "bogus"}.Validate(), ErrInvalidDiscountType)
	require.True(t, crdberrors.Is(Discount{Code: "X", Type: DiscountTypeFixed, AmountOff: 100}.Validate(), money.ErrInvalidCurrency))
	require.ErrorIs(t, Discount{Code: "X", Type: DiscountTypePercentage, PercentageBP: 10001}.Validate(), ErrInvalidPercentage)
	require.ErrorIs(t, Discount{Code: "X", Type: DiscountTypeFixed, Currency: "USD"}.Validate(), ErrInvalidAmountOff)
}
