package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PaymentStatus string

const (
	PaymentStatusAttempted PaymentStatus = "attempted"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusSucceeded || s == RefundStatusFailed
}

// Payment is keyed by the provider's payment id, which doubles as the
// idempotency token for result delivery.
type Payment struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID  `json:"tenant_id" gorm:"not null;uniqueIndex:ux_payments_provider_payment,priority:1"`
	InvoiceID         snowflake.ID  `json:"invoice_id" gorm:"not null;index"`
	CustomerID        snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	Provider          string        `json:"provider" gorm:"type:text;not null"`
	ProviderPaymentID string        `json:"provider_payment_id" gorm:"type:text;not null;uniqueIndex:ux_payments_provider_payment,priority:2"`
	Status            PaymentStatus `json:"status" gorm:"type:text;not null"`
	Amount            int64         `json:"amount" gorm:"not null"`
	Currency          string        `json:"currency" gorm:"type:text;not null"`
	AmountRefunded    int64         `json:"amount_refunded" gorm:"not null;default:0"`
	FailureReason     *string       `json:"failure_reason,omitempty" gorm:"type:text"`
	SucceededAt       *time.Time    `json:"succeeded_at,omitempty"`
	FailedAt          *time.Time    `json:"failed_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time     `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// Refundable is what remains of a succeeded payment after succeeded refunds.
func (p Payment) Refundable() int64 {
	if p.Status != PaymentStatusSucceeded {
		return 0
	}
	return p.Amount - p.AmountRefunded
}

type Refund struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_refunds_provider_refund,priority:1"`
	PaymentID        snowflake.ID `json:"payment_id" gorm:"not null;index"`
	InvoiceID        snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	ProviderRefundID string       `json:"provider_refund_id" gorm:"type:text;not null;uniqueIndex:ux_refunds_provider_refund,priority:2"`
	Status           RefundStatus `json:"status" gorm:"type:text;not null"`
	Amount           int64        `json:"amount" gorm:"not null"`
	Reason           string       `json:"reason" gorm:"type:text;not null;default:''"`
	SucceededAt      *time.Time   `json:"succeeded_at,omitempty"`
	FailedAt         *time.Time   `json:"failed_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }
