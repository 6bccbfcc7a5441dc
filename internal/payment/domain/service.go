package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type PaymentAttempt struct {
	InvoiceID         snowflake.ID
	Provider          string
	ProviderPaymentID string
	Amount            int64
	Currency          string
}

// PaymentResult is a terminal outcome reported by a payment provider.
type PaymentResult struct {
	InvoiceID         snowflake.ID
	Provider          string
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Status            PaymentStatus
	FailureReason     string
}

type RefundResult struct {
	PaymentID        snowflake.ID
	ProviderRefundID string
	Amount           int64
	Status           RefundStatus
	Reason           string
}

type Service interface {
	RecordPaymentAttempt(ctx context.Context, req PaymentAttempt) (*Payment, error)
	RecordPaymentResult(ctx context.Context, req PaymentResult) (*Payment, error)
	RecordRefundResult(ctx context.Context, req RefundResult) (*Refund, error)

	GetPayment(ctx context.Context, id snowflake.ID) (*Payment, error)
	ListPayments(ctx context.Context, invoiceID snowflake.ID) ([]Payment, error)
	ListRefunds(ctx context.Context, paymentID snowflake.ID) ([]Refund, error)
}

type Repository interface {
	// InsertPayment reports false when the provider payment id is already recorded.
	InsertPayment(ctx context.Context, tx *gorm.DB, payment *Payment) (bool, error)
	FindPayment(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*Payment, error)
	FindPaymentForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*Payment, error)
	FindPaymentByProviderIDForUpdate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, providerPaymentID string) (*Payment, error)
	UpdatePayment(ctx context.Context, tx *gorm.DB, payment *Payment) error
	ListPayments(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID) ([]Payment, error)

	InsertRefund(ctx context.Context, tx *gorm.DB, refund *Refund) (bool, error)
	FindRefundByProviderIDForUpdate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, providerRefundID string) (*Refund, error)
	UpdateRefund(ctx context.Context, tx *gorm.DB, refund *Refund) error
	SumSucceededRefunds(ctx context.Context, tx *gorm.DB, tenantID, paymentID snowflake.ID) (int64, error)
	ListRefunds(ctx context.Context, tx *gorm.DB, tenantID, paymentID snowflake.ID) ([]Refund, error)
}
