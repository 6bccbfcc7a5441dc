package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingledger/internal/events"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	recurringdomain "github.com/smallbiznis/billingledger/internal/recurring/domain"
	recurringrepo "github.com/smallbiznis/billingledger/internal/recurring/repository"
	recurringservice "github.com/smallbiznis/billingledger/internal/recurring/service"
	"github.com/smallbiznis/billingledger/internal/testutil/harness"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	mu     sync.Mutex
	byType map[string]int
}

func (n *countingNotifier) Notify(_ context.Context, event events.Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.byType == nil {
		n.byType = map[string]int{}
	}
	n.byType[event.Type]++
	return nil
}

func (n *countingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.byType[eventType]
}

type fixture struct {
	h         *harness.Harness
	recurring recurringdomain.Service
	notifier  *countingNotifier
	registry  *prometheus.Registry
	sched     *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := harness.New(t, &recurringdomain.RecurringInvoice{}, &recurringdomain.RecurringInvoiceItem{})
	recurring := recurringservice.NewService(recurringservice.ServiceParam{
		DB:       h.DB,
		Log:      h.Log,
		GenID:    h.GenID,
		Clock:    h.Clock,
		Repo:     recurringrepo.Provide(h.DB),
		Invoices: h.Invoices,
	})
	notifier := &countingNotifier{}
	dispatcher := events.NewDispatcher(events.DispatcherParams{
		DB:       h.DB,
		Log:      h.Log,
		Outbox:   h.Outbox,
		Notifier: notifier,
		Metrics:  h.Metrics,
	})
	registry := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Workers = 2

	sched, err := New(Params{
		Log:        h.Log,
		GenID:      h.GenID,
		Clock:      h.Clock,
		Recurring:  recurring,
		Invoices:   h.Invoices,
		Dispatcher: dispatcher,
		Metrics:    obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{Environment: "test"}),
		Config:     cfg,
	})
	require.NoError(t, err)
	return &fixture{h: h, recurring: recurring, notifier: notifier, registry: registry, sched: sched}
}

func (f *fixture) template(t *testing.T, taxRateID *snowflake.ID) *recurringdomain.RecurringInvoice {
	t.Helper()
	template, err := f.recurring.Create(f.h.Ctx, recurringdomain.CreateRequest{
		CustomerID: 501,
		Currency:   "USD",
		Interval:   recurringdomain.IntervalMonthly,
		StartDate:  f.h.Clock.Now(),
		DueDays:    7,
		Items: []recurringdomain.ItemRequest{
			{Description: "Support plan", Quantity: decimal.NewFromInt(1), UnitAmount: 2500, TaxRateID: taxRateID},
		},
	})
	require.NoError(t, err)
	return template
}

func (f *fixture) invoicesFor(t *testing.T, templateID snowflake.ID) []invoicedomain.Invoice {
	t.Helper()
	var rows []invoicedomain.Invoice
	require.NoError(t, f.h.DB.Where("subscription_id = ?", templateID).Order("issued_at ASC").Find(&rows).Error)
	return rows
}

func TestScheduler_RunOnce_FakeClock_ThreeMonths(t *testing.T) {
	f := newFixture(t)
	template := f.template(t, nil)

	// daily ticks from Mar 10 through Jun 10 inclusive
	for day := 0; day <= 92; day++ {
		require.NoError(t, f.sched.RunOnce(context.Background()))
		f.h.Clock.Advance(24 * time.Hour)
	}

	invoices := f.invoicesFor(t, template.ID)
	require.Len(t, invoices, 4)
	numbers := make([]string, 0, len(invoices))
	for _, invoice := range invoices {
		require.NotNil(t, invoice.InvoiceNumber)
		numbers = append(numbers, *invoice.InvoiceNumber)
		harness.RequireInvariants(t, &invoice)
	}
	require.Equal(t, []string{"INV-2025-00001", "INV-2025-00002", "INV-2025-00003", "INV-2025-00004"}, numbers)

	// everything but the June invoice is more than seven days overdue
	for _, invoice := range invoices[:3] {
		require.Equal(t, invoicedomain.InvoiceStatusPastDue, invoice.Status)
	}
	require.Equal(t, invoicedomain.InvoiceStatusIssued, invoices[3].Status)

	stored, err := f.recurring.Get(f.h.Ctx, template.ID)
	require.NoError(t, err)
	require.Equal(t, 4, stored.OccurrencesCount)
	require.Equal(t, time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC), stored.NextBillingDate.UTC())
	require.Nil(t, stored.LockedBy)

	require.Equal(t, 4, f.notifier.count(events.EventInvoiceIssued))
}

func TestScheduler_RunOnce_DoesNotRegenerateWithinPeriod(t *testing.T) {
	f := newFixture(t)
	template := f.template(t, nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	f.h.Clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	require.Len(t, f.invoicesFor(t, template.ID), 1)
}

func TestScheduler_RecurringFailureDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	missing := snowflake.ID(424242)
	broken := f.template(t, &missing)
	healthy := f.template(t, nil)

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, obsmetrics.ErrPartialFailure)
	require.Contains(t, err.Error(), broken.ID.String())

	require.Len(t, f.invoicesFor(t, healthy.ID), 1)
	require.Empty(t, f.invoicesFor(t, broken.ID))

	stored, getErr := f.recurring.Get(f.h.Ctx, broken.ID)
	require.NoError(t, getErr)
	require.NotNil(t, stored.LastError)
	require.Contains(t, *stored.LastError, "tax_rate_not_found")
	require.Nil(t, stored.LockedBy)
	require.Equal(t, 0, stored.OccurrencesCount)

	require.Equal(t, float64(1), getCounterValue(t, f.registry, "ledger_recurring_generation_failures_total", map[string]string{
		"service": "billingledger",
		"env":     "test",
		"reason":  "not_found",
	}))
}

func TestScheduler_RunOnce_RespectsRunLock(t *testing.T) {
	f := newFixture(t)
	template := f.template(t, nil)
	locker := &fakeLocker{}
	f.sched.locker = locker

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Len(t, f.invoicesFor(t, template.ID), 1)
	require.Equal(t, []string{runLockKey + "-token"}, locker.released)
	require.False(t, locker.held)
}
