package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/billingledger/internal/billingerr"
)

const (
	SettlementPayment        = "payment"
	SettlementRefund         = "refund"
	SettlementCredit         = "credit"
	SettlementCreditRevoked  = "credit_revoked"
	OutboxStatusPublished    = "published"
	OutboxStatusFailed       = "failed"
	SequenceOutcomeAllocated = "allocated"
	SequenceOutcomeRetried   = "retried"
	SequenceOutcomeFailed    = "failed"
)

// LedgerMetrics counts money-moving operations.
type LedgerMetrics struct {
	invoices       *prometheus.CounterVec
	invoiceAmount  *prometheus.HistogramVec
	settlements    *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	sequence       *prometheus.CounterVec
	outboxDispatch *prometheus.CounterVec
	results        *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics.
func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = NewLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// NewLedgerMetrics registers a fresh set of collectors; tests pass their own registry.
func NewLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels(cfg.constLabels())

	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_invoices_total",
		Help:        "Invoice lifecycle transitions by resulting status.",
		ConstLabels: constLabels,
	}, []string{"status"})
	invoiceAmount := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "ledger_invoice_total_minor_units",
		Help:        "Issued invoice totals in minor units.",
		Buckets:     prometheus.ExponentialBuckets(100, 10, 8),
		ConstLabels: constLabels,
	}, []string{"currency"})
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_settlements_total",
		Help:        "Balance changes applied to invoices.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_settlement_rejections_total",
		Help:        "Settlements rejected by business rules.",
		ConstLabels: constLabels,
	}, []string{"kind", "reason"})
	sequence := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_sequence_allocations_total",
		Help:        "Sequence allocation attempts by outcome.",
		ConstLabels: constLabels,
	}, []string{"scope", "outcome"})
	outboxDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_outbox_dispatch_total",
		Help:        "Outbox deliveries by status.",
		ConstLabels: constLabels,
	}, []string{"event_type", "status"})

	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "ledger_provider_results_total",
		Help:        "Payment and refund results recorded from providers.",
		ConstLabels: constLabels,
	}, []string{"kind", "status"})

	registerer.MustRegister(invoices, invoiceAmount, settlements, rejections, sequence, outboxDispatch, results)

	return &LedgerMetrics{
		invoices:       invoices,
		invoiceAmount:  invoiceAmount,
		settlements:    settlements,
		rejections:     rejections,
		sequence:       sequence,
		outboxDispatch: outboxDispatch,
		results:        results,
	}
}

func (m *LedgerMetrics) IncInvoice(status string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(sanitizeLabel(status)).Inc()
}

func (m *LedgerMetrics) ObserveInvoiceTotal(currency string, total int64) {
	if m == nil {
		return
	}
	m.invoiceAmount.WithLabelValues(sanitizeLabel(currency)).Observe(float64(total))
}

func (m *LedgerMetrics) IncSettlement(kind string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(sanitizeLabel(kind)).Inc()
}

func (m *LedgerMetrics) IncRejection(kind, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(sanitizeLabel(kind), sanitizeLabel(reason)).Inc()
}

// ObserveSettlement is called once the settling transaction has finished:
// a nil err counts a committed settlement, a business error counts a
// rejection, and infrastructure failures are not counted.
func (m *LedgerMetrics) ObserveSettlement(kind string, err error) {
	switch {
	case err == nil:
		m.IncSettlement(kind)
	case billingerr.IsBusiness(err):
		m.IncRejection(kind, billingerr.KindOf(err))
	}
}

func (m *LedgerMetrics) IncSequence(scope, outcome string) {
	if m == nil {
		return
	}
	m.sequence.WithLabelValues(sanitizeLabel(scope), sanitizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) IncOutboxDispatch(eventType, status string) {
	if m == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(sanitizeLabel(eventType), sanitizeLabel(status)).Inc()
}

// IncProviderResult counts a newly recorded payment or refund result; replays are not counted.
func (m *LedgerMetrics) IncProviderResult(kind, status string) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(sanitizeLabel(kind), sanitizeLabel(status)).Inc()
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
