package domain

import "github.com/smallbiznis/billingledger/internal/billingerr"

var (
	ErrInvalidTenant        = billingerr.Sentinel("invoice_invalid_tenant", billingerr.ErrValidationFailed)
	ErrInvalidCustomer      = billingerr.Sentinel("invoice_invalid_customer", billingerr.ErrValidationFailed)
	ErrInvalidAmount        = billingerr.Sentinel("invoice_invalid_amount", billingerr.ErrValidationFailed)
	ErrNoItems              = billingerr.Sentinel("invoice_has_no_items", billingerr.ErrValidationFailed)
	ErrNegativeTotal        = billingerr.Sentinel("invoice_negative_total", billingerr.ErrValidationFailed)
	ErrInvoiceNotFound      = billingerr.Sentinel("invoice_not_found", billingerr.ErrNotFound)
	ErrItemNotFound         = billingerr.Sentinel("invoice_item_not_found", billingerr.ErrNotFound)
	ErrInvoiceNotDraft      = billingerr.Sentinel("invoice_not_draft", billingerr.ErrInvalidState)
	ErrInvoiceNotVoidable   = billingerr.Sentinel("invoice_not_voidable", billingerr.ErrInvalidState)
	ErrNotAcceptingPayment  = billingerr.Sentinel("invoice_not_accepting_settlement", billingerr.ErrInvalidState)
	ErrCurrencyMismatch     = billingerr.Sentinel("invoice_currency_mismatch", billingerr.ErrCurrencyMismatch)
	ErrOverpayment          = billingerr.Sentinel("invoice_overpayment", billingerr.ErrOverpaymentRejected)
	ErrRefundExceedsPaid    = billingerr.Sentinel("invoice_refund_exceeds_paid", billingerr.ErrRefundExceedsPayment)
	ErrCreditExceedsApplied = billingerr.Sentinel("invoice_credit_revocation_exceeds_applied", billingerr.ErrValidationFailed)
	ErrVersionConflict      = billingerr.Sentinel("invoice_version_conflict", billingerr.ErrVersionConflict)
	ErrUnknownSettlement    = billingerr.Sentinel("invoice_unknown_settlement_kind", billingerr.ErrValidationFailed)
)
