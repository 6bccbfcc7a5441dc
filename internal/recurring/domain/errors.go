package domain

import "github.com/smallbiznis/billingledger/internal/billingerr"

var (
	ErrInvalidTenant        = billingerr.Sentinel("recurring_invalid_tenant", billingerr.ErrValidationFailed)
	ErrInvalidCustomer      = billingerr.Sentinel("recurring_invalid_customer", billingerr.ErrValidationFailed)
	ErrInvalidInterval      = billingerr.Sentinel("recurring_invalid_interval", billingerr.ErrValidationFailed)
	ErrInvalidIntervalCount = billingerr.Sentinel("recurring_invalid_interval_count", billingerr.ErrValidationFailed)
	ErrInvalidStartDate     = billingerr.Sentinel("recurring_invalid_start_date", billingerr.ErrValidationFailed)
	ErrInvalidEndDate       = billingerr.Sentinel("recurring_invalid_end_date", billingerr.ErrValidationFailed)
	ErrInvalidLimit         = billingerr.Sentinel("recurring_invalid_occurrences_limit", billingerr.ErrValidationFailed)
	ErrInvalidDueDays       = billingerr.Sentinel("recurring_invalid_due_days", billingerr.ErrValidationFailed)
	ErrInvalidItem          = billingerr.Sentinel("recurring_invalid_item", billingerr.ErrValidationFailed)
	ErrNoItems              = billingerr.Sentinel("recurring_has_no_items", billingerr.ErrValidationFailed)
	ErrTemplateNotFound     = billingerr.Sentinel("recurring_template_not_found", billingerr.ErrNotFound)
	ErrInvalidTransition    = billingerr.Sentinel("recurring_invalid_transition", billingerr.ErrInvalidState)
	ErrTemplateNotActive    = billingerr.Sentinel("recurring_template_not_active", billingerr.ErrInvalidState)
	ErrNotDue               = billingerr.Sentinel("recurring_template_not_due", billingerr.ErrInvalidState)
	ErrVersionConflict      = billingerr.Sentinel("recurring_version_conflict", billingerr.ErrVersionConflict)
)
