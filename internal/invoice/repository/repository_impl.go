package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	"github.com/smallbiznis/billingledger/pkg/db"
	"github.com/smallbiznis/billingledger/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	invoices *repository.Store[invoicedomain.Invoice]
	items    *repository.Store[invoicedomain.InvoiceItem]
}

func Provide(conn *gorm.DB) invoicedomain.Repository {
	return &repo{
		invoices: repository.ProvideStore[invoicedomain.Invoice](conn),
		items:    repository.ProvideStore[invoicedomain.InvoiceItem](conn),
	}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	return r.invoices.WithTx(tx).Create(ctx, invoice)
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.invoices.WithTx(tx).FindByID(ctx, tenantID, id)
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	res := tx.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("tenant_id = ? AND id = ? AND version = ?", invoice.TenantID, invoice.ID, invoice.Version).
		Updates(map[string]any{
			"invoice_number":  invoice.InvoiceNumber,
			"sequence_year":   invoice.SequenceYear,
			"sequence_value":  invoice.SequenceValue,
			"sequence_hash":   invoice.SequenceHash,
			"status":          invoice.Status,
			"subtotal":        invoice.Subtotal,
			"discount_total":  invoice.DiscountTotal,
			"tax_total":       invoice.TaxTotal,
			"total":           invoice.Total,
			"amount_paid":     invoice.AmountPaid,
			"amount_credited": invoice.AmountCredited,
			"amount_refunded": invoice.AmountRefunded,
			"amount_due":      invoice.AmountDue,
			"due_at":          invoice.DueAt,
			"issued_at":       invoice.IssuedAt,
			"paid_at":         invoice.PaidAt,
			"voided_at":       invoice.VoidedAt,
			"past_due_at":     invoice.PastDueAt,
			"void_reason":     invoice.VoidReason,
			"version":         invoice.Version + 1,
			"updated_at":      invoice.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invoicedomain.ErrVersionConflict
	}
	invoice.Version++
	return nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req invoicedomain.ListInvoiceRequest, after *snowflake.ID, limit int) ([]invoicedomain.Invoice, error) {
	opts := []repository.QueryOption{repository.OrderBy("id ASC"), repository.Limit(limit)}
	if req.Status != nil {
		opts = append(opts, repository.Where("status = ?", *req.Status))
	}
	if req.CustomerID != nil {
		opts = append(opts, repository.Where("customer_id = ?", *req.CustomerID))
	}
	if req.SubscriptionID != nil {
		opts = append(opts, repository.Where("subscription_id = ?", *req.SubscriptionID))
	}
	if after != nil {
		opts = append(opts, repository.Where("id > ?", *after))
	}

	items, err := r.invoices.WithTx(tx).Find(ctx, tenantID, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

// ClaimPastDue locks overdue invoices of every tenant; rows held by another
// sweeper are skipped.
func (r *repo) ClaimPastDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]invoicedomain.Invoice, error) {
	var rows []invoicedomain.Invoice
	err := db.ForUpdateSkipLocked(tx.WithContext(ctx)).
		Where("status IN ? AND due_at < ? AND amount_due > 0",
			[]invoicedomain.InvoiceStatus{invoicedomain.InvoiceStatusIssued, invoicedomain.InvoiceStatusPartiallyPaid},
			now,
		).
		Order("due_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) InsertItem(ctx context.Context, tx *gorm.DB, item *invoicedomain.InvoiceItem) error {
	return r.items.WithTx(tx).Create(ctx, item)
}

func (r *repo) UpdateItemAmounts(ctx context.Context, tx *gorm.DB, item *invoicedomain.InvoiceItem) error {
	_, err := r.items.WithTx(tx).Update(ctx, item.TenantID, item.ID, map[string]any{
		"amount":          item.Amount,
		"discount_amount": item.DiscountAmount,
		"tax_amount":      item.TaxAmount,
		"total_amount":    item.TotalAmount,
		"net_amount":      item.NetAmount,
		"tax_inclusive":   item.TaxInclusive,
	})
	return err
}

func (r *repo) DeleteItem(ctx context.Context, tx *gorm.DB, tenantID, invoiceID, itemID snowflake.ID) (int64, error) {
	res := tx.WithContext(ctx).
		Where("tenant_id = ? AND invoice_id = ? AND id = ?", tenantID, invoiceID, itemID).
		Delete(&invoicedomain.InvoiceItem{})
	return res.RowsAffected, res.Error
}

func (r *repo) ListItems(ctx context.Context, tx *gorm.DB, tenantID, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	items, err := r.items.WithTx(tx).Find(ctx, tenantID,
		repository.Where("invoice_id = ?", invoiceID),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]invoicedomain.InvoiceItem, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}
