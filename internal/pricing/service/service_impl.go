package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/money"
	pricingdomain "github.com/smallbiznis/billingledger/internal/pricing/domain"
	"github.com/smallbiznis/billingledger/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  pricingdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  pricingdomain.Repository
}

func NewService(p ServiceParam) pricingdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("pricing.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateTaxRate(ctx context.Context, req pricingdomain.CreateTaxRateRequest) (*pricingdomain.TaxRate, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, pricingdomain.ErrInvalidTenant
	}

	now := s.clock.Now()
	rate := &pricingdomain.TaxRate{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		Name:         strings.TrimSpace(req.Name),
		Code:         strings.ToUpper(strings.TrimSpace(req.Code)),
		PercentageBP: req.PercentageBP,
		Inclusive:    req.Inclusive,
		Active:       true,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateTaxRate(ctx, s.db, rate); err != nil {
		return nil, err
	}
	return rate, nil
}

func (s *Service) GetTaxRate(ctx context.Context, id snowflake.ID) (*pricingdomain.TaxRate, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, pricingdomain.ErrInvalidTenant
	}
	rate, err := s.repo.FindTaxRate(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, pricingdomain.ErrTaxRateNotFound
	}
	return rate, nil
}

func (s *Service) ListTaxRates(ctx context.Context, activeOnly bool) ([]*pricingdomain.TaxRate, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, pricingdomain.ErrInvalidTenant
	}
	return s.repo.ListTaxRates(ctx, s.db, tenantID, activeOnly)
}

func (s *Service) DeactivateTaxRate(ctx context.Context, id snowflake.ID) error {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return pricingdomain.ErrInvalidTenant
	}
	rows, err := s.repo.SetTaxRateActive(ctx, s.db, tenantID, id, false, s.clock.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return pricingdomain.ErrTaxRateNotFound
	}
	return nil
}

func (s *Service) CreateDiscount(ctx context.Context, req pricingdomain.CreateDiscountRequest) (*pricingdomain.Discount, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, pricingdomain.ErrInvalidTenant
	}

	now := s.clock.Now()
	discount := &pricingdomain.Discount{
		ID:                        s.genID.Generate(),
		TenantID:                  tenantID,
		Code:                      strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:                      strings.TrimSpace(req.Name),
		Type:                      pricingdomain.DiscountType(strings.ToLower(strings.TrimSpace(string(req.Type)))),
		PercentageBP:              req.PercentageBP,
		AmountOff:                 req.AmountOff,
		Currency:                  money.NormalizeCurrency(req.Currency),
		Active:                    true,
		StartsAt:                  req.StartsAt,
		EndsAt:                    req.EndsAt,
		MaxRedemptions:            req.MaxRedemptions,
		MaxRedemptionsPerCustomer: req.MaxRedemptionsPerCustomer,
		MinimumAmount:             req.MinimumAmount,
		Metadata:                  datatypes.JSONMap(req.Metadata),
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
	if discount.Metadata == nil {
		discount.Metadata = datatypes.JSONMap{}
	}
	if err := discount.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateDiscount(ctx, s.db, discount); err != nil {
		return nil, err
	}
	return discount, nil
}

func (s *Service) GetDiscount(ctx context.Context, id snowflake.ID) (*pricingdomain.Discount, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, pricingdomain.ErrInvalidTenant
	}
	discount, err := s.repo.FindDiscount(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if discount == nil {
		return nil, pricingdomain.ErrDiscountNotFound
	}
	return discount, nil
}

func (s *Service) GetDiscountByCode(ctx context.Context, code string) (*pricingdomain.Discount, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return nil, pricingdomain.ErrInvalidTenant
	}
	discount, err := s.repo.FindDiscountByCode(ctx, s.db, tenantID, strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	if discount == nil {
		return nil, pricingdomain.ErrDiscountNotFound
	}
	return discount, nil
}

func (s *Service) DeactivateDiscount(ctx context.Context, id snowflake.ID) error {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return pricingdomain.ErrInvalidTenant
	}
	rows, err := s.repo.SetDiscountActive(ctx, s.db, tenantID, id, false, s.clock.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return pricingdomain.ErrDiscountNotFound
	}
	return nil
}

func (s *Service) PreviewLine(ctx context.Context, req pricingdomain.PreviewLineRequest) (pricingdomain.LineResult, error) {
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return pricingdomain.LineResult{}, pricingdomain.ErrInvalidTenant
	}
	rate, discount, err := s.ResolveTx(ctx, s.db, tenantID, req.TaxRateID, req.DiscountID)
	if err != nil {
		return pricingdomain.LineResult{}, err
	}
	return pricingdomain.ComputeLine(pricingdomain.LineInput{
		Quantity:   req.Quantity,
		UnitAmount: req.UnitAmount,
		Currency:   req.Currency,
		TaxRate:    rate,
		Discount:   discount,
		At:         s.clock.Now(),
	})
}

func (s *Service) ResolveTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, taxRateID, discountID *snowflake.ID) (*pricingdomain.TaxRate, *pricingdomain.Discount, error) {
	var (
		rate     *pricingdomain.TaxRate
		discount *pricingdomain.Discount
		err      error
	)
	if taxRateID != nil {
		rate, err = s.repo.FindTaxRate(ctx, tx, tenantID, *taxRateID)
		if err != nil {
			return nil, nil, err
		}
		if rate == nil {
			return nil, nil, pricingdomain.ErrTaxRateNotFound
		}
	}
	if discountID != nil {
		discount, err = s.repo.FindDiscount(ctx, tx, tenantID, *discountID)
		if err != nil {
			return nil, nil, err
		}
		if discount == nil {
			return nil, nil, pricingdomain.ErrDiscountNotFound
		}
	}
	return rate, discount, nil
}

func (s *Service) CustomerRedemptionsTx(ctx context.Context, tx *gorm.DB, discount *pricingdomain.Discount, customerID snowflake.ID) (int64, error) {
	if discount == nil || discount.MaxRedemptionsPerCustomer == nil {
		return 0, nil
	}
	return s.repo.CountCustomerRedemptions(ctx, tx, discount.ID, customerID)
}

// RedeemTx is idempotent per invoice: a second call for the same invoice
// leaves the counters untouched. Callers roll back tx on error.
func (s *Service) RedeemTx(ctx context.Context, tx *gorm.DB, req pricingdomain.RedeemRequest) error {
	discount, err := s.repo.FindDiscountForUpdate(ctx, tx, req.TenantID, req.DiscountID)
	if err != nil {
		return err
	}
	if discount == nil {
		return pricingdomain.ErrDiscountNotFound
	}

	inserted, err := s.repo.InsertRedemption(ctx, tx, &pricingdomain.DiscountRedemption{
		ID:         s.genID.Generate(),
		TenantID:   req.TenantID,
		DiscountID: discount.ID,
		InvoiceID:  req.InvoiceID,
		CustomerID: req.CustomerID,
		RedeemedAt: req.At,
	})
	if err != nil {
		return errors.Wrap(err, "insert discount redemption")
	}
	if !inserted {
		return nil
	}

	if !discount.Active || !discount.InWindow(req.At) {
		return fmt.Errorf("%w: %s", pricingdomain.ErrDiscountNotApplicable, discount.Code)
	}

	if discount.MaxRedemptionsPerCustomer != nil {
		used, err := s.repo.CountCustomerRedemptions(ctx, tx, discount.ID, req.CustomerID)
		if err != nil {
			return err
		}
		// used includes the row inserted above; pricing already skips capped
		// discounts, so this only trips on concurrent issuance.
		if used > *discount.MaxRedemptionsPerCustomer {
			return fmt.Errorf("%w: %s", pricingdomain.ErrDiscountCustomerLimit, discount.Code)
		}
	}

	rows, err := s.repo.IncrementRedemptions(ctx, tx, req.TenantID, discount.ID, req.At)
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", pricingdomain.ErrDiscountExhausted, discount.Code)
	}

	s.log.Debug("discount redeemed",
		zap.String("discount_id", discount.ID.String()),
		zap.String("invoice_id", req.InvoiceID.String()),
	)
	return nil
}
