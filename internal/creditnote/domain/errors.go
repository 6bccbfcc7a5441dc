package domain

import "github.com/smallbiznis/billingledger/internal/billingerr"

var (
	ErrInvalidTenant          = billingerr.Sentinel("credit_note_invalid_tenant", billingerr.ErrValidationFailed)
	ErrInvalidCustomer        = billingerr.Sentinel("credit_note_invalid_customer", billingerr.ErrValidationFailed)
	ErrInvalidAmount          = billingerr.Sentinel("credit_note_invalid_amount", billingerr.ErrValidationFailed)
	ErrCustomerMismatch       = billingerr.Sentinel("credit_note_customer_mismatch", billingerr.ErrValidationFailed)
	ErrCurrencyMismatch       = billingerr.Sentinel("credit_note_currency_mismatch", billingerr.ErrCurrencyMismatch)
	ErrCreditNoteNotFound     = billingerr.Sentinel("credit_note_not_found", billingerr.ErrNotFound)
	ErrApplicationNotFound    = billingerr.Sentinel("credit_note_application_not_found", billingerr.ErrNotFound)
	ErrCreditNoteNotDraft     = billingerr.Sentinel("credit_note_not_draft", billingerr.ErrInvalidState)
	ErrCreditNoteNotIssued    = billingerr.Sentinel("credit_note_not_issued", billingerr.ErrInvalidState)
	ErrCreditNoteNotVoidable  = billingerr.Sentinel("credit_note_not_voidable", billingerr.ErrInvalidState)
	ErrInvoiceNotOpen         = billingerr.Sentinel("credit_note_invoice_not_open", billingerr.ErrInvalidState)
	ErrApplicationRevoked     = billingerr.Sentinel("credit_note_application_already_revoked", billingerr.ErrInvalidState)
	ErrApplicationIsReversal  = billingerr.Sentinel("credit_note_application_is_reversal", billingerr.ErrInvalidState)
	ErrInsufficientCredit     = billingerr.Sentinel("credit_note_insufficient_credit", billingerr.ErrInsufficientCredit)
	ErrCreditExceedsAmountDue = billingerr.Sentinel("credit_note_exceeds_amount_due", billingerr.ErrOverpaymentRejected)
	ErrVersionConflict        = billingerr.Sentinel("credit_note_version_conflict", billingerr.ErrVersionConflict)
)
