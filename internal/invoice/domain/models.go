// Package domain contains persistence models and the state machine for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusIssued        InvoiceStatus = "issued"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusPastDue       InvoiceStatus = "past_due"
	InvoiceStatusVoided        InvoiceStatus = "voided"
)

// Invoice is a customer bill. All amounts are minor units of Currency.
type Invoice struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	TenantID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_invoice_tenant_number,priority:1"`
	CustomerID     snowflake.ID      `gorm:"not null;index"`
	SubscriptionID *snowflake.ID     `gorm:"index"`
	InvoiceNumber  *string           `gorm:"type:text;uniqueIndex:ux_invoice_tenant_number,priority:2"`
	SequenceYear   *int              `gorm:""`
	SequenceValue  *int64            `gorm:""`
	SequenceHash   *string           `gorm:"type:text"`
	Status         InvoiceStatus     `gorm:"type:text;not null;default:'draft';index"`
	Currency       string            `gorm:"type:text;not null"`
	Subtotal       int64             `gorm:"not null;default:0"`
	DiscountTotal  int64             `gorm:"not null;default:0"`
	TaxTotal       int64             `gorm:"not null;default:0"`
	Total          int64             `gorm:"not null;default:0"`
	AmountPaid     int64             `gorm:"not null;default:0"`
	AmountCredited int64             `gorm:"not null;default:0"`
	AmountRefunded int64             `gorm:"not null;default:0"`
	AmountDue      int64             `gorm:"not null;default:0"`
	DueAt          *time.Time        `gorm:"index"`
	IssuedAt       *time.Time        `gorm:""`
	PaidAt         *time.Time        `gorm:""`
	VoidedAt       *time.Time        `gorm:""`
	PastDueAt      *time.Time        `gorm:""`
	VoidReason     *string           `gorm:"type:text"`
	Memo           string            `gorm:"type:text"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	Version        int64             `gorm:"not null;default:1"`
	CreatedAt      time.Time         `gorm:"not null"`
	UpdatedAt      time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem represents a line on an invoice. Amounts are frozen at issuance.
type InvoiceItem struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	TenantID       snowflake.ID    `gorm:"not null;index"`
	InvoiceID      snowflake.ID    `gorm:"not null;index"`
	Description    string          `gorm:"type:text"`
	Quantity       decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	UnitAmount     int64           `gorm:"not null"`
	TaxRateID      *snowflake.ID   `gorm:""`
	DiscountID     *snowflake.ID   `gorm:""`
	Amount         int64           `gorm:"not null"`
	DiscountAmount int64           `gorm:"not null;default:0"`
	TaxAmount      int64           `gorm:"not null;default:0"`
	TotalAmount    int64           `gorm:"not null"`
	NetAmount      int64           `gorm:"not null"`
	TaxInclusive   bool            `gorm:"not null;default:false"`
	CreatedAt      time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
