package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/money"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	"github.com/smallbiznis/billingledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []Delivery
	fail      error
}

func (n *recordingNotifier) Notify(_ context.Context, event Delivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.delivered = append(n.delivered, event)
	return nil
}

func newTestOutbox(t *testing.T) (*Outbox, *gorm.DB) {
	t.Helper()
	conn := testutil.NewDB(t, &OutboxEvent{})
	clk := clock.NewFakeClock(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	return NewOutbox(conn, testutil.IDGen(t), clk), conn
}

func newTestDispatcher(conn *gorm.DB, outbox *Outbox, notifier Notifier, metrics *obsmetrics.LedgerMetrics) *Dispatcher {
	return NewDispatcher(DispatcherParams{
		DB:       conn,
		Log:      zap.NewNop(),
		Outbox:   outbox,
		Notifier: notifier,
		Metrics:  metrics,
	})
}

func issuedEvent() Event {
	return Event{
		TenantID: 1,
		Type:     EventInvoiceIssued,
		Payload: InvoicePayload{
			InvoiceID:     "10",
			InvoiceNumber: "INV-2025-00001",
			CustomerID:    "20",
			Currency:      "USD",
			Total:         11000,
			AmountDue:     11000,
			Status:        "issued",
		}.ToMap(),
		DedupeKey: DedupeKey(EventInvoiceIssued, 10),
	}
}

func TestPublishDedupes(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()

	require.NoError(t, outbox.Publish(ctx, issuedEvent()))
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return outbox.PublishTx(ctx, tx, issuedEvent())
	}))

	var count int64
	require.NoError(t, conn.Model(&OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPublishValidates(t *testing.T) {
	outbox, _ := newTestOutbox(t)
	ctx := context.Background()

	require.ErrorIs(t, outbox.PublishTx(ctx, nil, issuedEvent()), ErrMissingTransaction)
	require.ErrorIs(t, outbox.Publish(ctx, Event{Type: EventInvoiceIssued}), ErrInvalidTenant)
	require.ErrorIs(t, outbox.Publish(ctx, Event{TenantID: 1, Type: " "}), ErrMissingEventType)

	var nilOutbox *Outbox
	require.ErrorIs(t, nilOutbox.Publish(ctx, issuedEvent()), ErrOutboxUnavailable)
}

func TestPublishRollsBackWithTransaction(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	errAbort := errors.New("abort")

	err := conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, outbox.PublishTx(context.Background(), tx, issuedEvent()))
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	var count int64
	require.NoError(t, conn.Model(&OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDispatchMarksPublished(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()
	require.NoError(t, outbox.Publish(ctx, issuedEvent()))

	reg := prometheus.NewRegistry()
	metrics := obsmetrics.NewLedgerMetrics(reg, obsmetrics.Config{})
	notifier := &recordingNotifier{}
	dispatcher := newTestDispatcher(conn, outbox, notifier, metrics)

	res, err := dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Delivered: 1}, res)
	require.Len(t, notifier.delivered, 1)
	assert.Equal(t, EventInvoiceIssued, notifier.delivered[0].Type)
	assert.Equal(t, "INV-2025-00001", notifier.delivered[0].Payload["invoice_number"])

	res, err = dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)

	var row OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.True(t, row.Published)
	assert.NotNil(t, row.PublishedAt)
	assert.Equal(t, 1, row.Attempts)

	expected := `
# HELP ledger_outbox_dispatch_total Outbox deliveries by status.
# TYPE ledger_outbox_dispatch_total counter
ledger_outbox_dispatch_total{env="unknown",event_type="invoice.issued",service="billingledger",status="published"} 1
`
	require.NoError(t, promtestutil.GatherAndCompare(reg, strings.NewReader(expected), "ledger_outbox_dispatch_total"))
}

func TestDispatchFailureKeepsEvent(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()
	require.NoError(t, outbox.Publish(ctx, issuedEvent()))

	notifier := &recordingNotifier{fail: errors.New("smtp down")}
	dispatcher := newTestDispatcher(conn, outbox, notifier, nil)

	res, err := dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Failed: 1}, res)

	var row OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.False(t, row.Published)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "smtp down", *row.LastError)

	notifier.fail = nil
	res, err = dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 2, notifier.delivered[0].Attempt)
}

type blockingNotifier struct{}

func (blockingNotifier) Notify(ctx context.Context, _ Delivery) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDispatchBoundsSlowNotifier(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()
	require.NoError(t, outbox.Publish(ctx, issuedEvent()))

	dispatcher := newTestDispatcher(conn, outbox, blockingNotifier{}, nil)
	dispatcher.notifyTimeout = 20 * time.Millisecond

	res, err := dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Failed: 1}, res)

	var row OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.False(t, row.Published)
	assert.Equal(t, 1, row.Attempts)
	assert.Nil(t, row.ClaimedUntil)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "deadline exceeded")
}

func TestDispatchSkipsLeasedEvents(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()
	require.NoError(t, outbox.Publish(ctx, issuedEvent()))

	leased, err := outbox.claimPendingTx(ctx, conn, MaxDeliveryAttempts, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	notifier := &recordingNotifier{}
	dispatcher := newTestDispatcher(conn, outbox, notifier, nil)
	res, err := dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)
	assert.Empty(t, notifier.delivered)

	require.NoError(t, conn.Model(&OutboxEvent{}).Where("id = ?", leased[0].ID).
		Update("claimed_until", leased[0].CreatedAt.Add(-time.Second)).Error)
	res, err = dispatcher.DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
}

func TestDispatchStopsAfterMaxAttempts(t *testing.T) {
	outbox, conn := newTestOutbox(t)
	ctx := context.Background()
	require.NoError(t, outbox.Publish(ctx, issuedEvent()))
	require.NoError(t, conn.Model(&OutboxEvent{}).Where("1 = 1").Update("attempts", MaxDeliveryAttempts).Error)

	notifier := &recordingNotifier{}
	res, err := newTestDispatcher(conn, outbox, notifier, nil).DispatchPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)
	assert.Empty(t, notifier.delivered)
}

func TestLogNotifierFormatsTotal(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	notifier := NewLogNotifier(zap.New(core), money.NewFormatter())

	err := notifier.Notify(context.Background(), Delivery{
		ID:       1,
		TenantID: 2,
		Type:     EventInvoicePaid,
		Payload:  map[string]any{"currency": "USD", "total": float64(1234567), "invoice_number": "INV-2025-00002"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "$12,345.67", fields["display_total"])
	assert.Equal(t, "INV-2025-00002", fields["invoice_number"])

	err = notifier.Notify(context.Background(), Delivery{
		ID:      3,
		Type:    EventInvoicePaid,
		Payload: map[string]any{"currency": "??", "total": float64(1)},
	})
	require.Error(t, err)
}
