package domain

import "github.com/smallbiznis/billingledger/internal/billingerr"

var (
	ErrInvalidTenant            = billingerr.Sentinel("payment_invalid_tenant", billingerr.ErrValidationFailed)
	ErrInvalidInvoice           = billingerr.Sentinel("payment_invalid_invoice", billingerr.ErrValidationFailed)
	ErrInvalidProvider          = billingerr.Sentinel("payment_invalid_provider", billingerr.ErrValidationFailed)
	ErrInvalidProviderPaymentID = billingerr.Sentinel("payment_invalid_provider_payment_id", billingerr.ErrValidationFailed)
	ErrInvalidProviderRefundID  = billingerr.Sentinel("refund_invalid_provider_refund_id", billingerr.ErrValidationFailed)
	ErrInvalidAmount            = billingerr.Sentinel("payment_invalid_amount", billingerr.ErrValidationFailed)
	ErrInvalidStatus            = billingerr.Sentinel("payment_invalid_status", billingerr.ErrValidationFailed)
	ErrInvalidPayment           = billingerr.Sentinel("refund_invalid_payment", billingerr.ErrValidationFailed)
	ErrPaymentNotFound          = billingerr.Sentinel("payment_not_found", billingerr.ErrNotFound)
	ErrPaymentMismatch          = billingerr.Sentinel("payment_result_mismatch", billingerr.ErrValidationFailed)
	ErrConflictingResult        = billingerr.Sentinel("payment_conflicting_result", billingerr.ErrInvalidState)
	ErrPaymentNotSucceeded      = billingerr.Sentinel("refund_payment_not_succeeded", billingerr.ErrInvalidState)
	ErrRefundExceedsPayment     = billingerr.Sentinel("refund_amount_exceeds_payment", billingerr.ErrRefundExceedsPayment)
	ErrRefundMismatch           = billingerr.Sentinel("refund_result_mismatch", billingerr.ErrValidationFailed)
	ErrConflictingRefund        = billingerr.Sentinel("refund_conflicting_result", billingerr.ErrInvalidState)
)
