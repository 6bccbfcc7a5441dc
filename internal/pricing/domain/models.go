// Package domain contains tax rates, discounts and the line calculator.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingledger/internal/money"
	"gorm.io/datatypes"
)

// TaxMode represents how tax relates to the line amount.
type TaxMode string

const (
	TaxModeExclusive TaxMode = "exclusive" // amount + tax
	TaxModeInclusive TaxMode = "inclusive" // amount already includes tax
)

// TaxRate is a tenant-scoped percentage tax expressed in basis points.
type TaxRate struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	TenantID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_tax_rate_tenant_code"`
	Name         string       `gorm:"type:text;not null"`
	Code         string       `gorm:"type:text;not null;uniqueIndex:ux_tax_rate_tenant_code"`
	PercentageBP int64        `gorm:"column:percentage_bp;not null"`
	Inclusive    bool         `gorm:"not null;default:false"`
	Active       bool         `gorm:"not null;default:true"`
	StartsAt     *time.Time
	EndsAt       *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (TaxRate) TableName() string { return "tax_rates" }

func (r TaxRate) Mode() TaxMode {
	if r.Inclusive {
		return TaxModeInclusive
	}
	return TaxModeExclusive
}

// IsApplicableAt reports whether the rate is active and inside its window at t.
func (r TaxRate) IsApplicableAt(t time.Time) bool {
	if !r.Active {
		return false
	}
	if r.StartsAt != nil && t.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && !t.Before(*r.EndsAt) {
		return false
	}
	return true
}

func (r TaxRate) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return ErrInvalidTaxCode
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidName
	}
	if r.PercentageBP < 0 || r.PercentageBP > money.BasisPointsScale {
		return ErrInvalidPercentage
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.EndsAt.After(*r.StartsAt) {
		return ErrInvalidWindow
	}
	return nil
}

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Discount is a redeemable reduction applied per line.
type Discount struct {
	ID                        snowflake.ID      `gorm:"primaryKey"`
	TenantID                  snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_discount_tenant_code"`
	Code                      string            `gorm:"type:text;not null;uniqueIndex:ux_discount_tenant_code"`
	Name                      string            `gorm:"type:text"`
	Type                      DiscountType      `gorm:"type:text;not null"`
	PercentageBP              int64             `gorm:"column:percentage_bp;not null;default:0"`
	AmountOff                 int64             `gorm:"not null;default:0"`
	Currency                  string            `gorm:"type:text"`
	Active                    bool              `gorm:"not null;default:true"`
	StartsAt                  *time.Time
	EndsAt                    *time.Time
	MaxRedemptions            *int64
	CurrentRedemptions        int64             `gorm:"not null;default:0"`
	MaxRedemptionsPerCustomer *int64
	MinimumAmount             int64             `gorm:"not null;default:0"`
	Metadata                  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt                 time.Time         `gorm:"not null"`
	UpdatedAt                 time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Discount) TableName() string { return "discounts" }

// InWindow reports whether t falls inside the discount's validity window.
func (d Discount) InWindow(t time.Time) bool {
	if d.StartsAt != nil && t.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && !t.Before(*d.EndsAt) {
		return false
	}
	return true
}

// IsValidAt reports whether the discount can still be redeemed at t.
func (d Discount) IsValidAt(t time.Time) bool {
	if !d.Active || !d.InWindow(t) {
		return false
	}
	if d.MaxRedemptions != nil && d.CurrentRedemptions >= *d.MaxRedemptions {
		return false
	}
	return true
}

// CustomerCapReached reports whether a customer who already redeemed the
// discount used times may not redeem it again.
func (d Discount) CustomerCapReached(used int64) bool {
	return d.MaxRedemptionsPerCustomer != nil && used >= *d.MaxRedemptionsPerCustomer
}

func (d Discount) Validate() error {
	if strings.TrimSpace(d.Code) == "" {
		return ErrInvalidDiscountCode
	}
	switch d.Type {
	case DiscountTypePercentage:
		if d.PercentageBP <= 0 || d.PercentageBP > money.BasisPointsScale {
			return ErrInvalidPercentage
		}
	case DiscountTypeFixed:
		if d.AmountOff <= 0 {
			return ErrInvalidAmountOff
		}
		if err := money.ValidateCurrency(d.Currency); err != nil {
			return err
		}
	default:
		return ErrInvalidDiscountType
	}
	if d.MinimumAmount < 0 {
		return ErrInvalidAmountOff
	}
	if d.MaxRedemptions != nil && *d.MaxRedemptions <= 0 {
		return ErrInvalidRedemptionLimit
	}
	if d.MaxRedemptionsPerCustomer != nil && *d.MaxRedemptionsPerCustomer <= 0 {
		return ErrInvalidRedemptionLimit
	}
	if d.StartsAt != nil && d.EndsAt != nil && !d.EndsAt.After(*d.StartsAt) {
		return ErrInvalidWindow
	}
	return nil
}

// DiscountRedemption records that a discount was consumed by one issued invoice.
type DiscountRedemption struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	TenantID   snowflake.ID `gorm:"not null;index"`
	DiscountID snowflake.ID `gorm:"not null;uniqueIndex:ux_discount_redemption_invoice;index:idx_discount_redemption_customer"`
	InvoiceID  snowflake.ID `gorm:"not null;uniqueIndex:ux_discount_redemption_invoice"`
	CustomerID snowflake.ID `gorm:"not null;index:idx_discount_redemption_customer"`
	RedeemedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (DiscountRedemption) TableName() string { return "discount_redemptions" }
