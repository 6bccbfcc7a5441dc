package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CreateRequest struct {
	CustomerID snowflake.ID
	InvoiceID  *snowflake.ID
	Currency   string
	Total      int64
	Reason     string
	Metadata   map[string]any
}

type ApplyRequest struct {
	CreditNoteID snowflake.ID
	InvoiceID    snowflake.ID
	Amount       int64
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CreditNote, error)
	Issue(ctx context.Context, id snowflake.ID) (*CreditNote, error)
	Void(ctx context.Context, id snowflake.ID) (*CreditNote, error)
	ApplyToInvoice(ctx context.Context, req ApplyRequest) (*CreditNoteApplication, error)
	// RevokeApplication reverses an application with a negative adjusting row.
	RevokeApplication(ctx context.Context, applicationID snowflake.ID) (*CreditNoteApplication, error)

	Get(ctx context.Context, id snowflake.ID) (*CreditNote, error)
	ListApplications(ctx context.Context, creditNoteID snowflake.ID) ([]CreditNoteApplication, error)
}

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, note *CreditNote) error
	FindByID(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*CreditNote, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*CreditNote, error)
	Save(ctx context.Context, tx *gorm.DB, note *CreditNote) error

	InsertApplication(ctx context.Context, tx *gorm.DB, application *CreditNoteApplication) error
	FindApplication(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*CreditNoteApplication, error)
	FindReversal(ctx context.Context, tx *gorm.DB, tenantID, applicationID snowflake.ID) (*CreditNoteApplication, error)
	ListApplications(ctx context.Context, tx *gorm.DB, tenantID, creditNoteID snowflake.ID) ([]CreditNoteApplication, error)
}
