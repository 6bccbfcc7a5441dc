package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/internal/money"
)

// LineInput is everything needed to price one invoice line.
type LineInput struct {
	Quantity   decimal.Decimal
	UnitAmount int64
	Currency   string
	TaxRate    *TaxRate
	Discount   *Discount
	At         time.Time

	// CustomerRedemptions counts the billed customer's earlier redemptions of
	// Discount. A discount whose per-customer cap is reached is skipped.
	CustomerRedemptions int64
}

// LineResult holds the computed amounts, all in minor units.
//
// NetAmount is the line's tax-exclusive, pre-discount contribution to the
// invoice subtotal, so that subtotal - discount_total + tax_total always equals
// the sum of TotalAmount across lines regardless of tax mode.
type LineResult struct {
	Amount          int64
	DiscountAmount  int64
	TaxAmount       int64
	TotalAmount     int64
	NetAmount       int64
	TaxInclusive    bool
	TaxApplied      bool
	DiscountApplied bool
}

// ComputeLine prices a line: quantity x unit amount, then discount, then tax.
// It has no side effects.
func ComputeLine(in LineInput) (LineResult, error) {
	if in.Quantity.IsNegative() {
		return LineResult{}, fmt.Errorf("%w: quantity must not be negative", ErrInvalidLine)
	}
	if in.UnitAmount < 0 {
		return LineResult{}, fmt.Errorf("%w: unit amount must not be negative", ErrInvalidLine)
	}
	currency := money.NormalizeCurrency(in.Currency)

	amount := money.New(in.UnitAmount, currency).MulQuantity(in.Quantity)
	result := LineResult{Amount: amount.MinorUnits}

	discount := money.Zero(currency)
	if discountApplies(in.Discount, amount, in.At, in.CustomerRedemptions) {
		switch in.Discount.Type {
		case DiscountTypePercentage:
			discount = amount.PercentOf(in.Discount.PercentageBP)
		case DiscountTypeFixed:
			discount = money.New(in.Discount.AmountOff, currency).Min(amount)
		}
		result.DiscountApplied = discount.IsPositive()
	}
	afterDiscount, err := amount.Sub(discount)
	if err != nil {
		return LineResult{}, err
	}

	tax := money.Zero(currency)
	total := afterDiscount
	if in.TaxRate != nil && in.TaxRate.IsApplicableAt(in.At) {
		result.TaxApplied = true
		result.TaxInclusive = in.TaxRate.Inclusive
		if in.TaxRate.Inclusive {
			tax = afterDiscount.ExtractInclusive(in.TaxRate.PercentageBP)
		} else {
			tax = afterDiscount.PercentOf(in.TaxRate.PercentageBP)
			if total, err = afterDiscount.Add(tax); err != nil {
				return LineResult{}, err
			}
		}
	}

	preTax, err := total.Sub(tax)
	if err != nil {
		return LineResult{}, err
	}
	net, err := preTax.Add(discount)
	if err != nil {
		return LineResult{}, err
	}

	result.DiscountAmount = discount.MinorUnits
	result.TaxAmount = tax.MinorUnits
	result.TotalAmount = total.MinorUnits
	result.NetAmount = net.MinorUnits
	return result, nil
}

func discountApplies(d *Discount, amount money.Money, at time.Time, customerRedemptions int64) bool {
	if d == nil || !d.IsValidAt(at) || d.CustomerCapReached(customerRedemptions) {
		return false
	}
	if d.Type == DiscountTypeFixed && !strings.EqualFold(d.Currency, amount.Currency) {
		return false
	}
	return amount.MinorUnits >= d.MinimumAmount
}
