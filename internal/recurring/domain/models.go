package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type RecurringStatus string

const (
	RecurringStatusActive    RecurringStatus = "active"
	RecurringStatusPaused    RecurringStatus = "paused"
	RecurringStatusCancelled RecurringStatus = "cancelled"
	RecurringStatusCompleted RecurringStatus = "completed"
)

// RecurringInvoice is a template that produces one issued invoice per
// billing period.
type RecurringInvoice struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	TenantID         snowflake.ID      `gorm:"not null;index"`
	CustomerID       snowflake.ID      `gorm:"not null;index"`
	Currency         string            `gorm:"type:text;not null"`
	Status           RecurringStatus   `gorm:"type:text;not null;index:idx_recurring_due,priority:1"`
	BillingInterval  BillingInterval   `gorm:"type:text;not null"`
	IntervalCount    int               `gorm:"not null;default:1"`
	AnchorDay        int               `gorm:"not null"`
	NextBillingDate  time.Time         `gorm:"not null;index:idx_recurring_due,priority:2"`
	StartDate        time.Time         `gorm:"not null"`
	EndDate          *time.Time
	OccurrencesLimit *int
	OccurrencesCount int               `gorm:"not null;default:0"`
	DueDays          int               `gorm:"not null;default:0"`
	Memo             string            `gorm:"type:text;not null;default:''"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	PausedAt         *time.Time
	ResumedAt        *time.Time
	CancelledAt      *time.Time
	CompletedAt      *time.Time
	LastInvoiceID    *snowflake.ID
	LastError        *string `gorm:"type:text"`
	LockedBy         *string `gorm:"type:text"`
	LockedUntil      *time.Time
	Version          int64     `gorm:"not null;default:1"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (RecurringInvoice) TableName() string { return "recurring_invoices" }

type RecurringInvoiceItem struct {
	ID                 snowflake.ID    `gorm:"primaryKey"`
	TenantID           snowflake.ID    `gorm:"not null;index"`
	RecurringInvoiceID snowflake.ID    `gorm:"not null;index"`
	Position           int             `gorm:"not null"`
	Description        string          `gorm:"type:text;not null"`
	Quantity           decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	UnitAmount         int64           `gorm:"not null"`
	TaxRateID          *snowflake.ID
	DiscountID         *snowflake.ID
	CreatedAt          time.Time `gorm:"not null"`
}

func (RecurringInvoiceItem) TableName() string { return "recurring_invoice_items" }

func (r *RecurringInvoice) HasReachedLimit() bool {
	return r.OccurrencesLimit != nil && r.OccurrencesCount >= *r.OccurrencesLimit
}

// HasPassedEndDate reports whether the next period starts after the end date.
func (r *RecurringInvoice) HasPassedEndDate() bool {
	return r.EndDate != nil && r.NextBillingDate.After(*r.EndDate)
}

func (r *RecurringInvoice) IsDue(now time.Time) bool {
	return r.Status == RecurringStatusActive && !r.NextBillingDate.After(now)
}

func (r *RecurringInvoice) Pause(now time.Time) error {
	if r.Status != RecurringStatusActive {
		return ErrInvalidTransition
	}
	r.Status = RecurringStatusPaused
	r.PausedAt = &now
	r.UpdatedAt = now
	return nil
}

// Resume reactivates a paused template. Periods missed while paused are
// skipped, never billed retroactively.
func (r *RecurringInvoice) Resume(now time.Time) error {
	if r.Status != RecurringStatusPaused {
		return ErrInvalidTransition
	}
	for r.NextBillingDate.Before(now) {
		if err := r.advance(); err != nil {
			return err
		}
	}
	r.Status = RecurringStatusActive
	r.ResumedAt = &now
	r.UpdatedAt = now
	if r.HasPassedEndDate() {
		r.Complete(now)
	}
	return nil
}

func (r *RecurringInvoice) Cancel(now time.Time) error {
	switch r.Status {
	case RecurringStatusActive, RecurringStatusPaused:
	default:
		return ErrInvalidTransition
	}
	r.Status = RecurringStatusCancelled
	r.CancelledAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *RecurringInvoice) Complete(now time.Time) {
	r.Status = RecurringStatusCompleted
	r.CompletedAt = &now
	r.UpdatedAt = now
}

// RecordOccurrence counts a generated invoice and moves to the next period,
// completing the template once its limit or end date is reached.
func (r *RecurringInvoice) RecordOccurrence(invoiceID snowflake.ID, now time.Time) error {
	r.OccurrencesCount++
	r.LastInvoiceID = &invoiceID
	r.LastError = nil
	if err := r.advance(); err != nil {
		return err
	}
	r.UpdatedAt = now
	if r.HasReachedLimit() || r.HasPassedEndDate() {
		r.Complete(now)
	}
	return nil
}

func (r *RecurringInvoice) advance() error {
	next, err := AddInterval(r.NextBillingDate, r.BillingInterval, r.IntervalCount, r.AnchorDay)
	if err != nil {
		return err
	}
	r.NextBillingDate = next
	return nil
}
