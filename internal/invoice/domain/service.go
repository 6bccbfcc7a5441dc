package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateDraftRequest struct {
	CustomerID     snowflake.ID
	Currency       string
	DueAt          *time.Time
	SubscriptionID *snowflake.ID
	Memo           string
	Metadata       map[string]any
}

type AddItemRequest struct {
	InvoiceID   snowflake.ID
	Description string
	Quantity    decimal.Decimal
	UnitAmount  int64
	TaxRateID   *snowflake.ID
	DiscountID  *snowflake.ID
}

type IssueRequest struct {
	InvoiceID snowflake.ID
	DueAt     *time.Time
}

type VoidRequest struct {
	InvoiceID snowflake.ID
	Reason    string
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status         *InvoiceStatus
	CustomerID     *snowflake.ID
	SubscriptionID *snowflake.ID
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	CreateDraft(ctx context.Context, req CreateDraftRequest) (*Invoice, error)
	AddItem(ctx context.Context, req AddItemRequest) (*InvoiceItem, error)
	RemoveItem(ctx context.Context, invoiceID, itemID snowflake.ID) error
	Issue(ctx context.Context, req IssueRequest) (*Invoice, error)
	Void(ctx context.Context, req VoidRequest) (*Invoice, error)
	// MarkPastDue flags overdue invoices across tenants and returns how many changed.
	MarkPastDue(ctx context.Context, now time.Time, limit int) (int, error)

	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ListItems(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceItem, error)

	CreateDraftTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req CreateDraftRequest) (*Invoice, error)
	AddItemTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req AddItemRequest) (*InvoiceItem, error)
	IssueTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req IssueRequest) (*Invoice, error)
	// LockTx loads an invoice with a row lock for callers that coordinate
	// their own lock order.
	LockTx(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID) (*Invoice, error)
	// ApplySettlementTx is the single entry point for balance mutations.
	ApplySettlementTx(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID, settlement Settlement) (*Invoice, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	// Save writes every mutable column when the stored version still matches
	// and bumps the version.
	Save(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	List(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req ListInvoiceRequest, after *snowflake.ID, limit int) ([]Invoice, error)
	ClaimPastDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]Invoice, error)

	InsertItem(ctx context.Context, tx *gorm.DB, item *InvoiceItem) error
	UpdateItemAmounts(ctx context.Context, tx *gorm.DB, item *InvoiceItem) error
	DeleteItem(ctx context.Context, tx *gorm.DB, tenantID, invoiceID, itemID snowflake.ID) (int64, error)
	ListItems(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID) ([]InvoiceItem, error)
}
