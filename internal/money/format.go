package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Formatter renders amounts for customer-facing documents.
type Formatter interface {
	Format(m Money) (string, error)
}

var currencyExponent = map[string]int32{
	"BHD": 3, "JOD": 3, "KWD": 3, "OMR": 3, "TND": 3,
	"CLP": 0, "ISK": 0, "JPY": 0, "KRW": 0, "VND": 0, "XAF": 0, "XOF": 0,
}

var currencySymbol = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"IDR": "Rp",
	"SGD": "S$",
	"AUD": "A$",
	"INR": "₹",
}

// Exponent returns the number of minor-unit digits for an ISO currency.
func Exponent(currency string) int32 {
	if exp, ok := currencyExponent[NormalizeCurrency(currency)]; ok {
		return exp
	}
	return 2
}

type DefaultFormatter struct{}

func NewFormatter() Formatter {
	return DefaultFormatter{}
}

func (DefaultFormatter) Format(m Money) (string, error) {
	if err := ValidateCurrency(m.Currency); err != nil {
		return "", err
	}

	exp := Exponent(m.Currency)
	abs := m.MinorUnits
	sign := ""
	if abs < 0 {
		sign = "-"
		abs = -abs
	}
	major := decimal.New(abs, -exp).StringFixed(exp)

	intPart, frac, _ := strings.Cut(major, ".")
	var b strings.Builder
	b.WriteString(sign)
	if symbol, ok := currencySymbol[m.Currency]; ok {
		b.WriteString(symbol)
	} else {
		b.WriteString(m.Currency)
		b.WriteByte(' ')
	}
	b.WriteString(groupThousands(intPart))
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String(), nil
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
