package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type CreditNoteStatus string

const (
	CreditNoteStatusDraft  CreditNoteStatus = "draft"
	CreditNoteStatusIssued CreditNoteStatus = "issued"
	CreditNoteStatusVoided CreditNoteStatus = "voided"
)

type CreditNote struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID      `json:"tenant_id" gorm:"not null;index;uniqueIndex:ux_credit_notes_number,priority:1"`
	CustomerID       snowflake.ID      `json:"customer_id" gorm:"not null;index"`
	InvoiceID        *snowflake.ID     `json:"invoice_id,omitempty" gorm:"index"`
	CreditNoteNumber *string           `json:"credit_note_number,omitempty" gorm:"type:text;uniqueIndex:ux_credit_notes_number,priority:2"`
	SequenceYear     *int              `json:"sequence_year,omitempty"`
	SequenceValue    *int64            `json:"sequence_value,omitempty"`
	SequenceHash     *string           `json:"sequence_hash,omitempty" gorm:"type:text"`
	Status           CreditNoteStatus  `json:"status" gorm:"type:text;not null"`
	Currency         string            `json:"currency" gorm:"type:text;not null"`
	Reason           string            `json:"reason" gorm:"type:text;not null;default:''"`
	Total            int64             `json:"total" gorm:"not null"`
	AmountRemaining  int64             `json:"amount_remaining" gorm:"not null;default:0"`
	Metadata         datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	IssuedAt         *time.Time        `json:"issued_at,omitempty"`
	VoidedAt         *time.Time        `json:"voided_at,omitempty"`
	Version          int64             `json:"version" gorm:"not null;default:1"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null"`
}

func (CreditNote) TableName() string { return "credit_notes" }

// CreditNoteApplication is immutable. Revocations are negative rows pointing
// at the application they reverse.
type CreditNoteApplication struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	CreditNoteID  snowflake.ID  `json:"credit_note_id" gorm:"not null;index"`
	InvoiceID     snowflake.ID  `json:"invoice_id" gorm:"not null;index"`
	AmountApplied int64         `json:"amount_applied" gorm:"not null"`
	ReversesID    *snowflake.ID `json:"reverses_id,omitempty" gorm:"uniqueIndex:ux_credit_note_applications_reverses"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
}

func (CreditNoteApplication) TableName() string { return "credit_note_applications" }

func (a CreditNoteApplication) IsReversal() bool {
	return a.ReversesID != nil || a.AmountApplied < 0
}

func (c *CreditNote) CanIssue() bool { return c.Status == CreditNoteStatusDraft }

// CanVoid allows voiding drafts and issued notes whose credit was never
// consumed on net.
func (c *CreditNote) CanVoid() bool {
	switch c.Status {
	case CreditNoteStatusDraft:
		return true
	case CreditNoteStatusIssued:
		return c.AmountRemaining == c.Total
	default:
		return false
	}
}

func (c *CreditNote) MarkIssued(at time.Time) {
	c.Status = CreditNoteStatusIssued
	c.AmountRemaining = c.Total
	c.IssuedAt = &at
	c.UpdatedAt = at
}

func (c *CreditNote) Void(at time.Time) error {
	if !c.CanVoid() {
		return ErrCreditNoteNotVoidable
	}
	c.Status = CreditNoteStatusVoided
	c.AmountRemaining = 0
	c.VoidedAt = &at
	c.UpdatedAt = at
	return nil
}

// Consume takes amount from the remaining credit.
func (c *CreditNote) Consume(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if c.Status != CreditNoteStatusIssued {
		return ErrCreditNoteNotIssued
	}
	if amount > c.AmountRemaining {
		return ErrInsufficientCredit
	}
	c.AmountRemaining -= amount
	return nil
}

// Restore returns revoked credit; the remaining amount never exceeds the total.
func (c *CreditNote) Restore(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if c.Status != CreditNoteStatusIssued {
		return ErrCreditNoteNotIssued
	}
	if c.AmountRemaining+amount > c.Total {
		return ErrInvalidAmount
	}
	c.AmountRemaining += amount
	return nil
}
