package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/billingledger/internal/payment/domain"
	"github.com/smallbiznis/billingledger/pkg/db"
	"github.com/smallbiznis/billingledger/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	payments *repository.Store[paymentdomain.Payment]
}

func Provide(conn *gorm.DB) paymentdomain.Repository {
	return &repo{payments: repository.ProvideStore[paymentdomain.Payment](conn)}
}

func (r *repo) InsertPayment(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider_payment_id"}},
			DoNothing: true,
		}).
		Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPayment(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*paymentdomain.Payment, error) {
	return r.payments.WithTx(tx).FindByID(ctx, tenantID, id)
}

func (r *repo) FindPaymentForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&payment).Error
	return takeOrNil(&payment, err)
}

func (r *repo) FindPaymentByProviderIDForUpdate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, providerPaymentID string) (*paymentdomain.Payment, error) {
	var payment paymentdomain.Payment
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND provider_payment_id = ?", tenantID, providerPaymentID).
		Take(&payment).Error
	return takeOrNil(&payment, err)
}

func (r *repo) UpdatePayment(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	_, err := r.payments.WithTx(tx).Update(ctx, payment.TenantID, payment.ID, map[string]any{
		"status":          payment.Status,
		"amount_refunded": payment.AmountRefunded,
		"failure_reason":  payment.FailureReason,
		"succeeded_at":    payment.SucceededAt,
		"failed_at":       payment.FailedAt,
		"updated_at":      payment.UpdatedAt,
	})
	return err
}

func (r *repo) ListPayments(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ?", tenantID, invoiceID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	return payments, err
}

func (r *repo) InsertRefund(ctx context.Context, tx *gorm.DB, refund *paymentdomain.Refund) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "provider_refund_id"}},
			DoNothing: true,
		}).
		Create(refund)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindRefundByProviderIDForUpdate(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, providerRefundID string) (*paymentdomain.Refund, error) {
	var refund paymentdomain.Refund
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND provider_refund_id = ?", tenantID, providerRefundID).
		Take(&refund).Error
	return takeOrNil(&refund, err)
}

func (r *repo) UpdateRefund(ctx context.Context, tx *gorm.DB, refund *paymentdomain.Refund) error {
	return tx.WithContext(ctx).
		Model(&paymentdomain.Refund{}).
		Where("tenant_id = ? AND id = ?", refund.TenantID, refund.ID).
		Updates(map[string]any{
			"status":       refund.Status,
			"reason":       refund.Reason,
			"succeeded_at": refund.SucceededAt,
			"failed_at":    refund.FailedAt,
			"updated_at":   refund.UpdatedAt,
		}).Error
}

func (r *repo) SumSucceededRefunds(ctx context.Context, tx *gorm.DB, tenantID, paymentID snowflake.ID) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).
		Model(&paymentdomain.Refund{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("tenant_id = ? AND payment_id = ? AND status = ?", tenantID, paymentID, paymentdomain.RefundStatusSucceeded).
		Scan(&total).Error
	return total, err
}

func (r *repo) ListRefunds(ctx context.Context, tx *gorm.DB, tenantID, paymentID snowflake.ID) ([]paymentdomain.Refund, error) {
	var refunds []paymentdomain.Refund
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Order("created_at ASC, id ASC").
		Find(&refunds).Error
	return refunds, err
}

func takeOrNil[T any](row *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row, nil
}
