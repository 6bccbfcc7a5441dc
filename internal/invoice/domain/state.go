package domain

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// SettlementKind names a balance mutation applied to an issued invoice.
type SettlementKind string

const (
	SettlementPayment       SettlementKind = "payment"
	SettlementRefund        SettlementKind = "refund"
	SettlementCredit        SettlementKind = "credit"
	SettlementCreditRevoked SettlementKind = "credit_revoked"
)

// Settlement is the only way payments, refunds and credit notes move an
// invoice balance.
type Settlement struct {
	Kind     SettlementKind
	Amount   int64
	Currency string
	At       time.Time
}

var settlementStatuses = []InvoiceStatus{
	InvoiceStatusIssued,
	InvoiceStatusPartiallyPaid,
	InvoiceStatusPastDue,
}

func (i *Invoice) CanEditItems() bool { return i.Status == InvoiceStatusDraft }

func (i *Invoice) CanIssue() bool { return i.Status == InvoiceStatusDraft }

func (i *Invoice) CanVoid() bool {
	return i.Status == InvoiceStatusDraft || lo.Contains(settlementStatuses, i.Status)
}

// AcceptsSettlement reports whether payments and credits may reduce the balance.
func (i *Invoice) AcceptsSettlement() bool {
	return lo.Contains(settlementStatuses, i.Status)
}

// IsOpen reports whether the invoice was issued and not voided.
func (i *Invoice) IsOpen() bool {
	return i.Status == InvoiceStatusPaid || lo.Contains(settlementStatuses, i.Status)
}

// RecomputeTotals derives header totals from the lines.
func (i *Invoice) RecomputeTotals(items []InvoiceItem) {
	var subtotal, discount, tax, total int64
	for _, item := range items {
		subtotal += item.NetAmount
		discount += item.DiscountAmount
		tax += item.TaxAmount
		total += item.TotalAmount
	}
	i.Subtotal = subtotal
	i.DiscountTotal = discount
	i.TaxTotal = tax
	i.Total = total
}

// CheckTotals verifies total = subtotal - discount_total + tax_total.
func (i *Invoice) CheckTotals() error {
	if i.Total != i.Subtotal-i.DiscountTotal+i.TaxTotal {
		return fmt.Errorf("%w: total %d != %d - %d + %d", ErrInvalidAmount, i.Total, i.Subtotal, i.DiscountTotal, i.TaxTotal)
	}
	if i.Total < 0 {
		return ErrNegativeTotal
	}
	return nil
}

// MarkIssued opens the balance. A zero-total invoice ends up paid.
func (i *Invoice) MarkIssued(now time.Time) {
	i.Status = InvoiceStatusIssued
	i.IssuedAt = &now
	i.AmountPaid = 0
	i.AmountCredited = 0
	i.AmountDue = i.Total
	i.ReevaluateStatus(now)
}

func (i *Invoice) Void(now time.Time, reason string) error {
	if !i.CanVoid() {
		return fmt.Errorf("%w: status %s", ErrInvoiceNotVoidable, i.Status)
	}
	i.Status = InvoiceStatusVoided
	i.AmountDue = 0
	i.VoidedAt = &now
	if reason != "" {
		i.VoidReason = &reason
	}
	return nil
}

// MarkPastDue flags an unpaid invoice whose due date passed. It reports
// whether anything changed.
func (i *Invoice) MarkPastDue(now time.Time) bool {
	if i.Status != InvoiceStatusIssued && i.Status != InvoiceStatusPartiallyPaid {
		return false
	}
	if i.DueAt == nil || !i.DueAt.Before(now) || i.AmountDue <= 0 {
		return false
	}
	i.Status = InvoiceStatusPastDue
	i.PastDueAt = &now
	return true
}

// Apply routes a settlement to the matching balance mutation. State is checked
// before currency, and currency before amounts.
func (i *Invoice) Apply(s Settlement) error {
	var accepts bool
	switch s.Kind {
	case SettlementPayment, SettlementCredit:
		accepts = i.AcceptsSettlement()
	case SettlementRefund, SettlementCreditRevoked:
		accepts = i.IsOpen()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSettlement, s.Kind)
	}
	if !accepts {
		return fmt.Errorf("%w: status %s", ErrNotAcceptingPayment, i.Status)
	}
	if s.Currency != "" && s.Currency != i.Currency {
		return fmt.Errorf("%w: invoice %s, settlement %s", ErrCurrencyMismatch, i.Currency, s.Currency)
	}

	switch s.Kind {
	case SettlementPayment:
		return i.ApplyPayment(s.Amount, s.At)
	case SettlementRefund:
		return i.ApplyRefund(s.Amount, s.At)
	case SettlementCredit:
		return i.ApplyCredit(s.Amount, s.At)
	case SettlementCreditRevoked:
		return i.RevokeCredit(s.Amount, s.At)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSettlement, s.Kind)
	}
}

func (i *Invoice) ApplyPayment(amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !i.AcceptsSettlement() {
		return fmt.Errorf("%w: status %s", ErrNotAcceptingPayment, i.Status)
	}
	if amount > i.AmountDue {
		return fmt.Errorf("%w: amount %d exceeds amount due %d", ErrOverpayment, amount, i.AmountDue)
	}
	i.AmountPaid += amount
	i.AmountDue -= amount
	i.ReevaluateStatus(now)
	return nil
}

// ApplyRefund returns paid money and reopens the balance.
func (i *Invoice) ApplyRefund(amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !i.IsOpen() {
		return fmt.Errorf("%w: status %s", ErrNotAcceptingPayment, i.Status)
	}
	if amount > i.AmountPaid {
		return fmt.Errorf("%w: amount %d exceeds paid %d", ErrRefundExceedsPaid, amount, i.AmountPaid)
	}
	i.AmountPaid -= amount
	i.AmountRefunded += amount
	i.AmountDue += amount
	i.ReevaluateStatus(now)
	return nil
}

func (i *Invoice) ApplyCredit(amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !i.AcceptsSettlement() {
		return fmt.Errorf("%w: status %s", ErrNotAcceptingPayment, i.Status)
	}
	if amount > i.AmountDue {
		return fmt.Errorf("%w: credit %d exceeds amount due %d", ErrOverpayment, amount, i.AmountDue)
	}
	i.AmountCredited += amount
	i.AmountDue -= amount
	i.ReevaluateStatus(now)
	return nil
}

func (i *Invoice) RevokeCredit(amount int64, now time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !i.IsOpen() {
		return fmt.Errorf("%w: status %s", ErrNotAcceptingPayment, i.Status)
	}
	if amount > i.AmountCredited {
		return fmt.Errorf("%w: revoke %d of %d", ErrCreditExceedsApplied, amount, i.AmountCredited)
	}
	i.AmountCredited -= amount
	i.AmountDue += amount
	i.ReevaluateStatus(now)
	return nil
}

// ReevaluateStatus derives the status from balances. Draft and voided
// invoices are left alone; past_due sticks until the balance is cleared.
func (i *Invoice) ReevaluateStatus(now time.Time) {
	switch i.Status {
	case InvoiceStatusDraft, InvoiceStatusVoided:
		return
	}

	if i.AmountDue == 0 {
		if i.Status != InvoiceStatusPaid || i.PaidAt == nil {
			i.PaidAt = &now
		}
		i.Status = InvoiceStatusPaid
		return
	}

	i.PaidAt = nil
	switch {
	case i.Status == InvoiceStatusPastDue:
	case i.AmountPaid+i.AmountCredited > 0:
		i.Status = InvoiceStatusPartiallyPaid
	default:
		i.Status = InvoiceStatusIssued
	}
}

// CheckBalance verifies amount_due = total - paid - credited for open invoices.
func (i *Invoice) CheckBalance() error {
	if i.Status == InvoiceStatusVoided {
		if i.AmountDue != 0 {
			return fmt.Errorf("%w: voided invoice with amount due %d", ErrInvalidAmount, i.AmountDue)
		}
		return nil
	}
	if i.Status == InvoiceStatusDraft {
		return nil
	}
	if i.AmountDue != i.Total-i.AmountPaid-i.AmountCredited || i.AmountDue < 0 {
		return fmt.Errorf("%w: amount due %d != %d - %d - %d", ErrInvalidAmount, i.AmountDue, i.Total, i.AmountPaid, i.AmountCredited)
	}
	return nil
}
