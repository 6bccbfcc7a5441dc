package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	crdberrors "github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/clock"
	pricingdomain "github.com/smallbiznis/billingledger/internal/pricing/domain"
	"github.com/smallbiznis/billingledger/internal/pricing/repository"
	"github.com/smallbiznis/billingledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tenantID = snowflake.ID(42)

func newTestService(t *testing.T) (pricingdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	conn := testutil.NewDB(t, &pricingdomain.TaxRate{}, &pricingdomain.Discount{}, &pricingdomain.DiscountRedemption{})
	clk := clock.NewFakeClock(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: testutil.IDGen(t),
		Clock: clk,
		Repo:  repository.Provide(conn),
	})
	return svc, conn, clk
}

func int64Ptr(v int64) *int64 { return &v }

func TestCreateTaxRateRequiresTenant(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateTaxRate(context.Background(), pricingdomain.CreateTaxRateRequest{Name: "VAT", Code: "vat", PercentageBP: 1000})
	require.ErrorIs(t, err, pricingdomain.ErrInvalidTenant)
}

func TestTaxRateLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testutil.TenantContext(tenantID)

	rate, err := svc.CreateTaxRate(ctx, pricingdomain.CreateTaxRateRequest{Name: "VAT", Code: "vat", PercentageBP: 1100})
	require.NoError(t, err)
	assert.Equal(t, "VAT", rate.Code)
	assert.True(t, rate.Active)

	_, err = svc.CreateTaxRate(ctx, pricingdomain.CreateTaxRateRequest{Name: "VAT again", Code: "VAT", PercentageBP: 1100})
	require.ErrorIs(t, err, pricingdomain.ErrCodeAlreadyExists)

	require.NoError(t, svc.DeactivateTaxRate(ctx, rate.ID))
	active, err := svc.ListTaxRates(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.ListTaxRates(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.GetTaxRate(testutil.TenantContext(7), rate.ID)
	require.True(t, crdberrors.Is(err, billingerr.ErrNotFound))
}

func TestPreviewLineUsesStoredRates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testutil.TenantContext(tenantID)

	rate, err := svc.CreateTaxRate(ctx, pricingdomain.CreateTaxRateRequest{Name: "Sales", Code: "SALES", PercentageBP: 1000})
	require.NoError(t, err)
	discount, err := svc.CreateDiscount(ctx, pricingdomain.CreateDiscountRequest{Code: "tenoff", Type: pricingdomain.DiscountTypePercentage, PercentageBP: 1000})
	require.NoError(t, err)

	res, err := svc.PreviewLine(ctx, pricingdomain.PreviewLineRequest{
		Quantity:   decimal.NewFromInt(1),
		UnitAmount: 10000,
		Currency:   "USD",
		TaxRateID:  &rate.ID,
		DiscountID: &discount.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.DiscountAmount)
	assert.Equal(t, int64(900), res.TaxAmount)
	assert.Equal(t, int64(9900), res.TotalAmount)

	got, err := svc.GetDiscount(ctx, discount.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentRedemptions)
}

func TestRedeemIsIdempotentPerInvoice(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := testutil.TenantContext(tenantID)

	discount, err := svc.CreateDiscount(ctx, pricingdomain.CreateDiscountRequest{
		Code: "ONCE", Type: pricingdomain.DiscountTypeFixed, AmountOff: 500, Currency: "usd", MaxRedemptions: int64Ptr(1),
	})
	require.NoError(t, err)

	req := pricingdomain.RedeemRequest{TenantID: tenantID, DiscountID: discount.ID, InvoiceID: 100, CustomerID: 5, At: clk.Now()}
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.RedeemTx(ctx, tx, req)
		}))
	}

	got, err := svc.GetDiscountByCode(ctx, "once")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CurrentRedemptions)

	req.InvoiceID = 101
	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.RedeemTx(ctx, tx, req)
	})
	require.True(t, crdberrors.Is(err, pricingdomain.ErrDiscountExhausted))

	var count int64
	require.NoError(t, conn.Model(&pricingdomain.DiscountRedemption{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRedeemEnforcesPerCustomerLimit(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := testutil.TenantContext(tenantID)

	discount, err := svc.CreateDiscount(ctx, pricingdomain.CreateDiscountRequest{
		Code: "PERCUST", Type: pricingdomain.DiscountTypePercentage, PercentageBP: 500, MaxRedemptionsPerCustomer: int64Ptr(1),
	})
	require.NoError(t, err)

	redeem := func(invoiceID, customerID snowflake.ID) error {
		return conn.Transaction(func(tx *gorm.DB) error {
			return svc.RedeemTx(ctx, tx, pricingdomain.RedeemRequest{
				TenantID: tenantID, DiscountID: discount.ID, InvoiceID: invoiceID, CustomerID: customerID, At: clk.Now(),
			})
		})
	}

	require.NoError(t, redeem(1, 10))
	require.True(t, crdberrors.Is(redeem(2, 10), pricingdomain.ErrDiscountCustomerLimit))
	require.NoError(t, redeem(3, 11))

	got, err := svc.GetDiscount(ctx, discount.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CurrentRedemptions)
}

func TestRedeemRejectsExpiredDiscount(t *testing.T) {
	svc, conn, clk := newTestService(t)
	ctx := testutil.TenantContext(tenantID)

	ends := clk.Now().Add(24 * time.Hour)
	discount, err := svc.CreateDiscount(ctx, pricingdomain.CreateDiscountRequest{
		Code: "SHORT", Type: pricingdomain.DiscountTypePercentage, PercentageBP: 500, EndsAt: &ends,
	})
	require.NoError(t, err)

	clk.Advance(48 * time.Hour)
	err = conn.Transaction(func(tx *gorm.DB) error {
		return svc.RedeemTx(ctx, tx, pricingdomain.RedeemRequest{
			TenantID: tenantID, DiscountID: discount.ID, InvoiceID: 1, CustomerID: 1, At: clk.Now(),
		})
	})
	require.True(t, crdberrors.Is(err, pricingdomain.ErrDiscountNotApplicable))
	require.True(t, billingerr.IsBusiness(err))
}
