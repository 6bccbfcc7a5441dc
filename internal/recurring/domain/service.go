package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	"gorm.io/gorm"
)

type ItemRequest struct {
	Description string
	Quantity    decimal.Decimal
	UnitAmount  int64
	TaxRateID   *snowflake.ID
	DiscountID  *snowflake.ID
}

type CreateRequest struct {
	CustomerID       snowflake.ID
	Currency         string
	Interval         BillingInterval
	IntervalCount    int
	StartDate        time.Time
	EndDate          *time.Time
	OccurrencesLimit *int
	DueDays          int
	Memo             string
	Metadata         map[string]any
	Items            []ItemRequest
}

// GenerateResult describes one generation attempt. Invoice is nil when the
// template completed without billing.
type GenerateResult struct {
	Template *RecurringInvoice
	Invoice  *invoicedomain.Invoice
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*RecurringInvoice, error)
	Get(ctx context.Context, id snowflake.ID) (*RecurringInvoice, error)
	ListItems(ctx context.Context, id snowflake.ID) ([]RecurringInvoiceItem, error)
	Pause(ctx context.Context, id snowflake.ID) (*RecurringInvoice, error)
	Resume(ctx context.Context, id snowflake.ID) (*RecurringInvoice, error)
	Cancel(ctx context.Context, id snowflake.ID) (*RecurringInvoice, error)

	// GenerateNext bills exactly one period of a due template.
	GenerateNext(ctx context.Context, id snowflake.ID, now time.Time) (GenerateResult, error)

	// ClaimDue leases due templates of every tenant to owner until now+ttl.
	ClaimDue(ctx context.Context, now time.Time, owner string, ttl time.Duration, limit int) ([]RecurringInvoice, error)
	// Release drops owner's lease and stores failure, if any, as last_error.
	Release(ctx context.Context, template RecurringInvoice, owner string, failure error) error
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, template *RecurringInvoice, items []*RecurringInvoiceItem) error
	FindByID(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*RecurringInvoice, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*RecurringInvoice, error)
	Save(ctx context.Context, tx *gorm.DB, template *RecurringInvoice) error
	ListItems(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) ([]RecurringInvoiceItem, error)

	ListDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]RecurringInvoice, error)
	AcquireLease(ctx context.Context, tx *gorm.DB, id snowflake.ID, owner string, now, until time.Time) (bool, error)
	ReleaseLease(ctx context.Context, tx *gorm.DB, id snowflake.ID, owner string, lastError *string, now time.Time) error
}
