package domain

import "github.com/smallbiznis/billingledger/internal/billingerr"

var (
	ErrInvalidTenant        = billingerr.Sentinel("ledger_invalid_tenant", billingerr.ErrValidationFailed)
	ErrInvalidSourceType    = billingerr.Sentinel("invalid_source_type", billingerr.ErrValidationFailed)
	ErrInvalidSourceID      = billingerr.Sentinel("invalid_source_id", billingerr.ErrValidationFailed)
	ErrInvalidCurrency      = billingerr.Sentinel("ledger_invalid_currency", billingerr.ErrValidationFailed)
	ErrInvalidOccurredAt    = billingerr.Sentinel("invalid_occurred_at", billingerr.ErrValidationFailed)
	ErrInvalidEntryLines    = billingerr.Sentinel("invalid_entry_lines", billingerr.ErrValidationFailed)
	ErrInvalidAccount       = billingerr.Sentinel("invalid_account", billingerr.ErrValidationFailed)
	ErrInvalidLineDirection = billingerr.Sentinel("invalid_line_direction", billingerr.ErrValidationFailed)
	ErrInvalidLineAmount    = billingerr.Sentinel("invalid_line_amount", billingerr.ErrValidationFailed)
	ErrUnbalancedEntry      = billingerr.Sentinel("unbalanced_entry", billingerr.ErrValidationFailed)
)
