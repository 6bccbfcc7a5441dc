// Package harness wires the ledger services on one sqlite database for
// cross-component tests.
package harness

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/config"
	"github.com/smallbiznis/billingledger/internal/events"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/billingledger/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/billingledger/internal/invoice/service"
	ledgerdomain "github.com/smallbiznis/billingledger/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/billingledger/internal/ledger/service"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	pricingdomain "github.com/smallbiznis/billingledger/internal/pricing/domain"
	pricingrepository "github.com/smallbiznis/billingledger/internal/pricing/repository"
	pricingservice "github.com/smallbiznis/billingledger/internal/pricing/service"
	"github.com/smallbiznis/billingledger/internal/sequence"
	"github.com/smallbiznis/billingledger/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Start is the fake clock's initial instant.
var Start = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

const TenantID = snowflake.ID(1001)

type Harness struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Clock     *clock.FakeClock
	GenID     *snowflake.Node
	Config    config.Config
	Metrics   *obsmetrics.LedgerMetrics
	Registry  *prometheus.Registry
	Allocator *sequence.Allocator
	Numberer  *sequence.Numberer
	Pricing   pricingdomain.Service
	Ledger    ledgerdomain.Service
	Outbox    *events.Outbox
	Invoices  invoicedomain.Service
	Ctx       context.Context
}

func models() []any {
	return []any{
		&sequence.Sequence{},
		&pricingdomain.TaxRate{},
		&pricingdomain.Discount{},
		&pricingdomain.DiscountRedemption{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
		&events.OutboxEvent{},
	}
}

// New migrates the core tables plus extra and builds every core service.
func New(t testing.TB, extra ...any) *Harness {
	t.Helper()

	conn := testutil.NewDB(t, append(models(), extra...)...)
	log := zap.NewNop()
	clk := clock.NewFakeClock(Start)
	genID := testutil.IDGen(t)
	cfg := config.Config{
		Sequence: config.SequenceConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewLedgerMetrics(registry, obsmetrics.Config{Environment: "test"})

	allocator := sequence.NewAllocator(sequence.Params{DB: conn, Log: log, Config: cfg, Clock: clk, Metrics: metrics})
	holder, err := config.NewStaticNumberingConfigHolder(config.DefaultNumberingConfig())
	require.NoError(t, err)
	numberer := sequence.NewNumberer(allocator, holder)

	pricing := pricingservice.NewService(pricingservice.ServiceParam{
		DB: conn, Log: log, GenID: genID, Clock: clk, Repo: pricingrepository.Provide(conn),
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: conn, Log: log, GenID: genID, Clock: clk})
	outbox := events.NewOutbox(conn, genID, clk)

	invoices := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:       conn,
		Log:      log,
		GenID:    genID,
		Clock:    clk,
		Config:   cfg,
		Repo:     invoicerepository.Provide(conn),
		Pricing:  pricing,
		Numberer: numberer,
		Ledger:   ledger,
		Outbox:   outbox,
		Metrics:  metrics,
	})

	return &Harness{
		DB:        conn,
		Log:       log,
		Clock:     clk,
		GenID:     genID,
		Config:    cfg,
		Metrics:   metrics,
		Registry:  registry,
		Allocator: allocator,
		Numberer:  numberer,
		Pricing:   pricing,
		Ledger:    ledger,
		Outbox:    outbox,
		Invoices:  invoices,
		Ctx:       testutil.TenantContext(TenantID),
	}
}

// Line is a shorthand for an invoice item.
type Line struct {
	Description string
	Quantity    int64
	UnitAmount  int64
	TaxRateID   *snowflake.ID
	DiscountID  *snowflake.ID
}

// Draft creates a draft invoice for customerID with the given lines.
func (h *Harness) Draft(t testing.TB, customerID snowflake.ID, currency string, lines ...Line) *invoicedomain.Invoice {
	t.Helper()
	due := h.Clock.Now().Add(14 * 24 * time.Hour)
	invoice, err := h.Invoices.CreateDraft(h.Ctx, invoicedomain.CreateDraftRequest{
		CustomerID: customerID,
		Currency:   currency,
		DueAt:      &due,
	})
	require.NoError(t, err)
	for _, line := range lines {
		_, err := h.Invoices.AddItem(h.Ctx, invoicedomain.AddItemRequest{
			InvoiceID:   invoice.ID,
			Description: line.Description,
			Quantity:    decimal.NewFromInt(line.Quantity),
			UnitAmount:  line.UnitAmount,
			TaxRateID:   line.TaxRateID,
			DiscountID:  line.DiscountID,
		})
		require.NoError(t, err)
	}
	return invoice
}

// Issued creates and issues an invoice.
func (h *Harness) Issued(t testing.TB, customerID snowflake.ID, currency string, lines ...Line) *invoicedomain.Invoice {
	t.Helper()
	draft := h.Draft(t, customerID, currency, lines...)
	invoice, err := h.Invoices.Issue(h.Ctx, invoicedomain.IssueRequest{InvoiceID: draft.ID})
	require.NoError(t, err)
	return invoice
}

// TaxRate creates an active tax rate.
func (h *Harness) TaxRate(t testing.TB, code string, bp int64, inclusive bool) *pricingdomain.TaxRate {
	t.Helper()
	rate, err := h.Pricing.CreateTaxRate(h.Ctx, pricingdomain.CreateTaxRateRequest{
		Name: code, Code: code, PercentageBP: bp, Inclusive: inclusive,
	})
	require.NoError(t, err)
	return rate
}

// Invoice reloads an invoice.
func (h *Harness) Invoice(t testing.TB, id snowflake.ID) *invoicedomain.Invoice {
	t.Helper()
	invoice, err := h.Invoices.Get(h.Ctx, id)
	require.NoError(t, err)
	return invoice
}

// Balance returns the ledger balance of an account.
func (h *Harness) Balance(t testing.TB, code ledgerdomain.LedgerAccountCode, currency string) int64 {
	t.Helper()
	balance, err := h.Ledger.Balance(context.Background(), TenantID, code, currency)
	require.NoError(t, err)
	return balance
}

// EventTypes lists outbox event types in insertion order.
func (h *Harness) EventTypes(t testing.TB) []string {
	t.Helper()
	var types []string
	require.NoError(t, h.DB.Model(&events.OutboxEvent{}).Order("id ASC").Pluck("event_type", &types).Error)
	return types
}

// RequireInvariants checks the balance identities of an invoice.
func RequireInvariants(t testing.TB, invoice *invoicedomain.Invoice) {
	t.Helper()
	require.Equal(t, invoice.Subtotal-invoice.DiscountTotal+invoice.TaxTotal, invoice.Total, "total identity")
	require.NoError(t, invoice.CheckBalance())
	require.GreaterOrEqual(t, invoice.AmountDue, int64(0))
}
