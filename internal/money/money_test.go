package money

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	_, err := New(100, "usd").Add(New(100, "EUR"))
	require.Error(t, err)
	require.True(t, errors.Is(err, billingerr.ErrCurrencyMismatch))

	sum, err := New(100, "usd").Add(New(250, "USD"))
	require.NoError(t, err)
	require.Equal(t, New(350, "USD"), sum)

	diff, err := sum.Sub(New(400, "USD"))
	require.NoError(t, err)
	require.True(t, diff.IsNegative())
}

func TestMulQuantityRoundsHalfToEven(t *testing.T) {
	cases := []struct {
		unit int64
		qty  string
		want int64
	}{
		{unit: 5, qty: "0.5", want: 2},    // 2.5 -> 2
		{unit: 7, qty: "0.5", want: 4},    // 3.5 -> 4
		{unit: 1000, qty: "3", want: 3000},
		{unit: 333, qty: "1.5", want: 500}, // 499.5 -> 500
		{unit: 1, qty: "0.25", want: 0},
	}
	for _, tc := range cases {
		got := New(tc.unit, "USD").MulQuantity(decimal.RequireFromString(tc.qty))
		assert.Equal(t, tc.want, got.MinorUnits, "%d x %s", tc.unit, tc.qty)
	}
}

func TestPercentOfRoundsHalfUp(t *testing.T) {
	assert.Equal(t, int64(1000), New(10000, "USD").PercentOf(1000).MinorUnits)
	assert.Equal(t, int64(1), New(5, "USD").PercentOf(1000).MinorUnits)  // 0.5 -> 1
	assert.Equal(t, int64(0), New(4, "USD").PercentOf(1000).MinorUnits)  // 0.4 -> 0
	assert.Equal(t, int64(13), New(125, "USD").PercentOf(1000).MinorUnits) // 12.5 -> 13
}

func TestExtractInclusive(t *testing.T) {
	// 11000 gross at 10% contains 1000 tax.
	assert.Equal(t, int64(1000), New(11000, "USD").ExtractInclusive(1000).MinorUnits)
	// 100 gross at 10%: net 90.909 -> 91, tax 9.
	assert.Equal(t, int64(9), New(100, "USD").ExtractInclusive(1000).MinorUnits)
	assert.Equal(t, int64(0), New(100, "USD").ExtractInclusive(0).MinorUnits)
}

func TestValidateCurrency(t *testing.T) {
	require.NoError(t, ValidateCurrency("idr"))
	err := ValidateCurrency("US")
	require.True(t, errors.Is(err, billingerr.ErrValidationFailed))
	require.Error(t, ValidateCurrency("U$D"))
}

func TestDefaultFormatter(t *testing.T) {
	f := NewFormatter()

	cases := []struct {
		in   Money
		want string
	}{
		{New(1100000, "USD"), "$11,000.00"},
		{New(-250, "EUR"), "-€2.50"},
		{New(1500, "JPY"), "¥1,500"},
		{New(1234567, "KWD"), "KWD 1,234.567"},
		{New(5, "CHF"), "CHF 0.05"},
	}
	for _, tc := range cases {
		got, err := f.Format(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := f.Format(Money{MinorUnits: 1, Currency: "??"})
	require.Error(t, err)
}
