package domain

import "github.com/smallbiznis/billingledger/internal/billingerr"

var (
	ErrInvalidTenant          = billingerr.Sentinel("pricing_invalid_tenant", billingerr.ErrValidationFailed)
	ErrInvalidTaxCode         = billingerr.Sentinel("invalid_tax_code", billingerr.ErrValidationFailed)
	ErrInvalidName            = billingerr.Sentinel("invalid_tax_name", billingerr.ErrValidationFailed)
	ErrInvalidPercentage      = billingerr.Sentinel("invalid_percentage", billingerr.ErrValidationFailed)
	ErrInvalidWindow          = billingerr.Sentinel("invalid_validity_window", billingerr.ErrValidationFailed)
	ErrInvalidDiscountCode    = billingerr.Sentinel("invalid_discount_code", billingerr.ErrValidationFailed)
	ErrInvalidDiscountType    = billingerr.Sentinel("invalid_discount_type", billingerr.ErrValidationFailed)
	ErrInvalidAmountOff       = billingerr.Sentinel("invalid_amount_off", billingerr.ErrValidationFailed)
	ErrInvalidRedemptionLimit = billingerr.Sentinel("invalid_redemption_limit", billingerr.ErrValidationFailed)
	ErrInvalidLine            = billingerr.Sentinel("invalid_line", billingerr.ErrValidationFailed)
	ErrDiscountNotApplicable  = billingerr.Sentinel("discount_not_applicable", billingerr.ErrValidationFailed)
	ErrDiscountExhausted      = billingerr.Sentinel("discount_exhausted", billingerr.ErrValidationFailed)
	ErrDiscountCustomerLimit  = billingerr.Sentinel("discount_customer_limit_reached", billingerr.ErrValidationFailed)
	ErrTaxRateNotFound        = billingerr.Sentinel("tax_rate_not_found", billingerr.ErrNotFound)
	ErrDiscountNotFound       = billingerr.Sentinel("discount_not_found", billingerr.ErrNotFound)
	ErrCodeAlreadyExists      = billingerr.Sentinel("pricing_code_already_exists", billingerr.ErrValidationFailed)
)
