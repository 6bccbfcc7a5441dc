package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/billingledger/internal/pricing/domain"
	"github.com/smallbiznis/billingledger/pkg/db"
	"github.com/smallbiznis/billingledger/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	taxRates  *repository.Store[pricingdomain.TaxRate]
	discounts *repository.Store[pricingdomain.Discount]
}

func Provide(conn *gorm.DB) pricingdomain.Repository {
	return &repo{
		taxRates:  repository.ProvideStore[pricingdomain.TaxRate](conn),
		discounts: repository.ProvideStore[pricingdomain.Discount](conn),
	}
}

func (r *repo) CreateTaxRate(ctx context.Context, tx *gorm.DB, rate *pricingdomain.TaxRate) error {
	if err := r.taxRates.WithTx(tx).Create(ctx, rate); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return pricingdomain.ErrCodeAlreadyExists
		}
		return err
	}
	return nil
}

func (r *repo) FindTaxRate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*pricingdomain.TaxRate, error) {
	return r.taxRates.WithTx(tx).FindByID(ctx, tenantID, id)
}

func (r *repo) ListTaxRates(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, activeOnly bool) ([]*pricingdomain.TaxRate, error) {
	opts := []repository.QueryOption{repository.OrderBy("code ASC")}
	if activeOnly {
		opts = append(opts, repository.Where("active = ?", true))
	}
	return r.taxRates.WithTx(tx).Find(ctx, tenantID, opts...)
}

func (r *repo) SetTaxRateActive(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, active bool, now time.Time) (int64, error) {
	return r.taxRates.WithTx(tx).Update(ctx, tenantID, id, map[string]any{
		"active":     active,
		"updated_at": now,
	})
}

func (r *repo) CreateDiscount(ctx context.Context, tx *gorm.DB, discount *pricingdomain.Discount) error {
	if err := r.discounts.WithTx(tx).Create(ctx, discount); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return pricingdomain.ErrCodeAlreadyExists
		}
		return err
	}
	return nil
}

func (r *repo) FindDiscount(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*pricingdomain.Discount, error) {
	return r.discounts.WithTx(tx).FindByID(ctx, tenantID, id)
}

func (r *repo) FindDiscountForUpdate(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID) (*pricingdomain.Discount, error) {
	var discount pricingdomain.Discount
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&discount).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &discount, nil
}

func (r *repo) FindDiscountByCode(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, code string) (*pricingdomain.Discount, error) {
	items, err := r.discounts.WithTx(tx).Find(ctx, tenantID,
		repository.Where("code = ?", strings.TrimSpace(code)),
		repository.Limit(1),
	)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (r *repo) SetDiscountActive(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, active bool, now time.Time) (int64, error) {
	return r.discounts.WithTx(tx).Update(ctx, tenantID, id, map[string]any{
		"active":     active,
		"updated_at": now,
	})
}

// IncrementRedemptions bumps the counter only while the cap allows it.
func (r *repo) IncrementRedemptions(ctx context.Context, tx *gorm.DB, tenantID, id snowflake.ID, now time.Time) (int64, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE discounts
		 SET current_redemptions = current_redemptions + 1, updated_at = ?
		 WHERE tenant_id = ? AND id = ?
		   AND (max_redemptions IS NULL OR current_redemptions < max_redemptions)`,
		now, tenantID, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertRedemption(ctx context.Context, tx *gorm.DB, redemption *pricingdomain.DiscountRedemption) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "discount_id"}, {Name: "invoice_id"}},
			DoNothing: true,
		}).
		Create(redemption)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CountCustomerRedemptions(ctx context.Context, tx *gorm.DB, discountID, customerID snowflake.ID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&pricingdomain.DiscountRedemption{}).
		Where("discount_id = ? AND customer_id = ?", discountID, customerID).
		Count(&count).Error
	return count, err
}
