package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	recurringdomain "github.com/smallbiznis/billingledger/internal/recurring/domain"
	"github.com/smallbiznis/billingledger/pkg/db"
	"github.com/smallbiznis/billingledger/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	templates *repository.Store[recurringdomain.RecurringInvoice]
	items     *repository.Store[recurringdomain.RecurringInvoiceItem]
}

func Provide(conn *gorm.DB) recurringdomain.Repository {
	return &repo{
		templates: repository.ProvideStore[recurringdomain.RecurringInvoice](conn),
		items:     repository.ProvideStore[recurringdomain.RecurringInvoiceItem](conn),
	}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, template *recurringdomain.RecurringInvoice, items []*recurringdomain.RecurringInvoiceItem) error {
	if err := r.templates.WithTx(tx).Create(ctx, template); err != nil {
		return err
	}
	return r.items.WithTx(tx).BatchCreate(ctx, items)
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*recurringdomain.RecurringInvoice, error) {
	return r.templates.WithTx(tx).FindByID(ctx, tenantID, id)
}

func (r *repo) FindForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*recurringdomain.RecurringInvoice, error) {
	var template recurringdomain.RecurringInvoice
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &template, nil
}

func (r *repo) Save(ctx context.Context, tx *gorm.DB, template *recurringdomain.RecurringInvoice) error {
	res := tx.WithContext(ctx).
		Model(&recurringdomain.RecurringInvoice{}).
		Where("tenant_id = ? AND id = ? AND version = ?", template.TenantID, template.ID, template.Version).
		Updates(map[string]any{
			"status":            template.Status,
			"next_billing_date": template.NextBillingDate,
			"occurrences_count": template.OccurrencesCount,
			"paused_at":         template.PausedAt,
			"resumed_at":        template.ResumedAt,
			"cancelled_at":      template.CancelledAt,
			"completed_at":      template.CompletedAt,
			"last_invoice_id":   template.LastInvoiceID,
			"last_error":        template.LastError,
			"version":           template.Version + 1,
			"updated_at":        template.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return recurringdomain.ErrVersionConflict
	}
	template.Version++
	return nil
}

func (r *repo) ListItems(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) ([]recurringdomain.RecurringInvoiceItem, error) {
	var items []recurringdomain.RecurringInvoiceItem
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND recurring_invoice_id = ?", tenantID, id).
		Order("position ASC").
		Find(&items).Error
	return items, err
}

// ListDue returns active templates whose period has started and whose lease,
// if any, has expired.
func (r *repo) ListDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]recurringdomain.RecurringInvoice, error) {
	var templates []recurringdomain.RecurringInvoice
	err := tx.WithContext(ctx).
		Where("status = ? AND next_billing_date <= ?", recurringdomain.RecurringStatusActive, now).
		Where("(locked_until IS NULL OR locked_until < ?)", now).
		Order("next_billing_date ASC, id ASC").
		Limit(limit).
		Find(&templates).Error
	return templates, err
}

// AcquireLease is a conditional update; only one claimer can win a template.
func (r *repo) AcquireLease(ctx context.Context, tx *gorm.DB, id snowflake.ID, owner string, now, until time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&recurringdomain.RecurringInvoice{}).
		Where("id = ? AND status = ?", id, recurringdomain.RecurringStatusActive).
		Where("(locked_until IS NULL OR locked_until < ?)", now).
		Updates(map[string]any{
			"locked_by":    owner,
			"locked_until": until,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ReleaseLease(ctx context.Context, tx *gorm.DB, id snowflake.ID, owner string, lastError *string, now time.Time) error {
	updates := map[string]any{
		"locked_by":    nil,
		"locked_until": nil,
	}
	if lastError != nil {
		updates["last_error"] = *lastError
		updates["updated_at"] = now
	}
	return tx.WithContext(ctx).
		Model(&recurringdomain.RecurringInvoice{}).
		Where("id = ? AND locked_by = ?", id, owner).
		Updates(updates).Error
}
