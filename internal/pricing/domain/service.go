package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service interface {
	CreateTaxRate(ctx context.Context, req CreateTaxRateRequest) (*TaxRate, error)
	GetTaxRate(ctx context.Context, id snowflake.ID) (*TaxRate, error)
	ListTaxRates(ctx context.Context, activeOnly bool) ([]*TaxRate, error)
	DeactivateTaxRate(ctx context.Context, id snowflake.ID) error

	CreateDiscount(ctx context.Context, req CreateDiscountRequest) (*Discount, error)
	GetDiscount(ctx context.Context, id snowflake.ID) (*Discount, error)
	GetDiscountByCode(ctx context.Context, code string) (*Discount, error)
	DeactivateDiscount(ctx context.Context, id snowflake.ID) error

	// PreviewLine prices a line without touching redemption counters.
	PreviewLine(ctx context.Context, req PreviewLineRequest) (LineResult, error)

	// ResolveTx loads the referenced tax rate and discount inside tx.
	ResolveTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, taxRateID, discountID *snowflake.ID) (*TaxRate, *Discount, error)
	// CustomerRedemptionsTx counts the customer's redemptions of a discount
	// with a per-customer cap; uncapped discounts report zero.
	CustomerRedemptionsTx(ctx context.Context, tx *gorm.DB, discount *Discount, customerID snowflake.ID) (int64, error)
	// RedeemTx consumes one redemption of a discount for an issued invoice.
	RedeemTx(ctx context.Context, tx *gorm.DB, req RedeemRequest) error
}

type Repository interface {
	CreateTaxRate(ctx context.Context, tx *gorm.DB, rate *TaxRate) error
	FindTaxRate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*TaxRate, error)
	ListTaxRates(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, activeOnly bool) ([]*TaxRate, error)
	SetTaxRateActive(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, active bool, now time.Time) (int64, error)

	CreateDiscount(ctx context.Context, tx *gorm.DB, discount *Discount) error
	FindDiscount(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*Discount, error)
	FindDiscountForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*Discount, error)
	FindDiscountByCode(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, code string) (*Discount, error)
	SetDiscountActive(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, active bool, now time.Time) (int64, error)
	IncrementRedemptions(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, now time.Time) (int64, error)

	// InsertRedemption reports false when the invoice already redeemed the discount.
	InsertRedemption(ctx context.Context, tx *gorm.DB, redemption *DiscountRedemption) (bool, error)
	CountCustomerRedemptions(ctx context.Context, tx *gorm.DB, discountID, customerID snowflake.ID) (int64, error)
}

type CreateTaxRateRequest struct {
	Name         string
	Code         string
	PercentageBP int64
	Inclusive    bool
	StartsAt     *time.Time
	EndsAt       *time.Time
}

type CreateDiscountRequest struct {
	Code                      string
	Name                      string
	Type                      DiscountType
	PercentageBP              int64
	AmountOff                 int64
	Currency                  string
	StartsAt                  *time.Time
	EndsAt                    *time.Time
	MaxRedemptions            *int64
	MaxRedemptionsPerCustomer *int64
	MinimumAmount             int64
	Metadata                  map[string]any
}

type PreviewLineRequest struct {
	Quantity   decimal.Decimal
	UnitAmount int64
	Currency   string
	TaxRateID  *snowflake.ID
	DiscountID *snowflake.ID
}

type RedeemRequest struct {
	TenantID   snowflake.ID
	DiscountID snowflake.ID
	InvoiceID  snowflake.ID
	CustomerID snowflake.ID
	At         time.Time
}
